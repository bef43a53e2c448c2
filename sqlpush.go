package sqlpush

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/root-talis/sqlpush/driver"
	"github.com/root-talis/sqlpush/migration"
	"github.com/root-talis/sqlpush/source"
	"github.com/root-talis/sqlpush/sqlsplit"
)

// ---

type Pusher interface {
	Validate(ctx context.Context) (*ValidationResult, error)
	Push(ctx context.Context, from migration.Version) (*PushResult, error)
}

type ValidationResult struct {
	Migrations   []migration.State
	AppliedCount uint
	PendingCount uint
	MissingCount uint
}

type MigrationResult struct {
	migration.Migration
	Statements int
	Succeeded  int
	Failed     int
	// Skipped is set when the journal already lists the migration.
	Skipped bool
}

type PushResult struct {
	Migrations []MigrationResult
	Succeeded  int
	Failed     int
	Skipped    int
}

var ErrNoJournal = errors.New("driver does not keep a migrations log")

// alreadyExists marks errors expected when a migration is re-run.
const alreadyExists = "already exists"

// ---

type Option func(*pusherImpl)

// WithOutput sets where progress lines are written. Defaults to io.Discard.
func WithOutput(w io.Writer) Option {
	return func(p *pusherImpl) {
		p.out = w
	}
}

// WithLogger sets the diagnostics logger. Defaults to log.Default().
func WithLogger(logger *log.Logger) Option {
	return func(p *pusherImpl) {
		p.logger = logger
	}
}

type pusherImpl struct {
	source source.Source
	driver driver.Driver
	out    io.Writer
	logger *log.Logger
}

// ---

func New(source source.Source, driver driver.Driver, opts ...Option) Pusher {
	p := &pusherImpl{
		source: source,
		driver: driver,
		out:    io.Discard,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ---

func (m *pusherImpl) Validate(ctx context.Context) (*ValidationResult, error) {
	journal, ok := m.driver.(driver.Journal)
	if !ok {
		return nil, ErrNoJournal
	}

	availableMigrations, err := m.source.GetAvailableMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of available migrations: %w", err)
	}

	appliedMigrations, err := loadAppliedMigrations(ctx, journal)
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of applied migrations: %w", err)
	}

	result := ValidationResult{
		Migrations: make([]migration.State, 0, len(availableMigrations)),
	}
	available := make(map[string]struct{}, len(availableMigrations))
	for _, availableMigration := range availableMigrations {
		available[availableMigration.FileName] = struct{}{}

		state := migration.State{
			Migration: availableMigration,
			Status:    migration.Pending,
		}
		if entry, ok := appliedMigrations[availableMigration.FileName]; ok {
			state.Status = migration.Applied
			state.AppliedAt = entry.AppliedAt
			result.AppliedCount++
		} else {
			result.PendingCount++
		}

		result.Migrations = append(result.Migrations, state)
	}

	for _, applied := range appliedMigrations {
		if _, found := available[applied.FileName]; found {
			continue
		}

		result.Migrations = append(result.Migrations, migration.State{
			Migration: applied.Migration,
			Status:    migration.Missing,
			AppliedAt: applied.AppliedAt,
		})
		result.MissingCount++
	}

	sort.Slice(result.Migrations, func(i, j int) bool {
		if result.Migrations[i].Version != result.Migrations[j].Version {
			return result.Migrations[i].Version < result.Migrations[j].Version
		}
		return result.Migrations[i].FileName < result.Migrations[j].FileName
	})

	return &result, nil
}

// Push runs every statement of every migration from the given version on,
// one at a time. A failed statement is tallied and the run continues; no
// transaction spans statements and nothing is rolled back.
func (m *pusherImpl) Push(ctx context.Context, from migration.Version) (*PushResult, error) {
	availableMigrations, err := m.source.GetAvailableMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of available migrations: %w", err)
	}
	selected := migration.From(availableMigrations, from)

	journal, hasJournal := m.driver.(driver.Journal)
	var appliedMigrations map[string]migration.Log
	if hasJournal {
		appliedMigrations, err = loadAppliedMigrations(ctx, journal)
		if err != nil {
			return nil, fmt.Errorf("failed to get the list of applied migrations: %w", err)
		}
	}

	result := &PushResult{
		Migrations: make([]MigrationResult, 0, len(selected)),
	}
	m.logger.Printf("found %d migrations, %d selected from version %d", len(availableMigrations), len(selected), from)

	for _, mig := range selected {
		if _, ok := appliedMigrations[mig.FileName]; ok {
			fmt.Fprintf(m.out, "\n%s: already applied, skipping\n", mig.FileName)
			result.Migrations = append(result.Migrations, MigrationResult{Migration: mig, Skipped: true})
			result.Skipped++
			continue
		}

		migResult, err := m.pushMigration(ctx, mig)
		result.Migrations = append(result.Migrations, migResult)
		result.Succeeded += migResult.Succeeded
		result.Failed += migResult.Failed
		if err != nil {
			return result, err
		}

		if hasJournal && migResult.Failed == 0 {
			if err := journal.RecordMigration(ctx, mig); err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

func (m *pusherImpl) pushMigration(ctx context.Context, mig migration.Migration) (MigrationResult, error) {
	result := MigrationResult{Migration: mig}

	content, err := m.source.ReadMigration(mig)
	if err != nil {
		return result, fmt.Errorf("failed to read migration %s: %w", mig.FileName, err)
	}

	statements := sqlsplit.Split(content)
	result.Statements = len(statements)
	fmt.Fprintf(m.out, "\n%s: %d statements\n", mig.FileName, len(statements))

	for i, statement := range statements {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("push of %s interrupted: %w", mig.FileName, err)
		}

		err := m.driver.Exec(ctx, statement)
		if err == nil {
			result.Succeeded++
			fmt.Fprintf(m.out, "  [%d/%d] ok     %s\n", i+1, len(statements), preview(statement))
			continue
		}

		// counted as a failure even when expected
		result.Failed++
		fmt.Fprintf(m.out, "  [%d/%d] error  %s: %v\n", i+1, len(statements), preview(statement), err)
		if strings.Contains(err.Error(), alreadyExists) {
			m.logger.Printf("%s statement %d: object already exists, continuing", mig.FileName, i+1)
		} else {
			m.logger.Printf("%s statement %d failed: %v", mig.FileName, i+1, err)
		}
	}

	return result, nil
}

func loadAppliedMigrations(ctx context.Context, journal driver.Journal) (map[string]migration.Log, error) {
	migrations, err := journal.ListMigrationsLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations from db: %w", err)
	}

	result := make(map[string]migration.Log, len(migrations))
	for _, mig := range migrations {
		if _, seen := result[mig.FileName]; seen {
			continue
		}
		result[mig.FileName] = mig
	}

	return result, nil
}

const previewLength = 60

// preview returns the first line of a statement, shortened for progress output.
func preview(statement string) string {
	line := statement
	for _, candidate := range strings.Split(statement, "\n") {
		candidate = strings.TrimSpace(candidate)
		if candidate != "" && !strings.HasPrefix(candidate, "--") {
			line = candidate
			break
		}
	}

	runes := []rune(line)
	if len(runes) > previewLength {
		return string(runes[:previewLength]) + "..."
	}
	return line
}
