// Package report prepares the artifacts an operator needs to apply
// migrations by hand: printed instructions and a single combined SQL file.
package report

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/root-talis/sqlpush/migration"
	"github.com/root-talis/sqlpush/source"
)

const (
	DefaultCombinedFileName = "combined_migrations.sql"

	bannerRule   = "-- ============================================================"
	bannerPrefix = "-- Migration: "
)

// Entry is one migration and its SQL text.
type Entry struct {
	migration.Migration
	Content string
}

// Collect reads every migration from the given version on.
func Collect(src source.Source, from migration.Version) ([]Entry, error) {
	available, err := src.GetAvailableMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of available migrations: %w", err)
	}

	selected := migration.From(available, from)
	entries := make([]Entry, 0, len(selected))
	for _, mig := range selected {
		content, err := src.ReadMigration(mig)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", mig.FileName, err)
		}
		entries = append(entries, Entry{Migration: mig, Content: content})
	}

	return entries, nil
}

type InstructionsOptions struct {
	ProjectURL   string
	CombinedFile string
	Migrations   []migration.Migration
	// Failed is the number of statements the RPC path could not apply.
	Failed int
}

var instructionsTemplate = template.Must(template.New("instructions").Parse(`
================================================================
 Migrations must be applied manually
================================================================
{{if .Failed}}{{.Failed}} statement(s) could not be executed over the REST API.
{{end}}The REST API cannot run arbitrary SQL. Apply these migrations
({{len .Migrations}} file(s)) using one of the options below:
{{range .Migrations}}  - {{.FileName}}
{{end}}
Option 1: dashboard SQL editor
  1. Open {{.DashboardURL}}
  2. Paste the contents of {{.CombinedFile}}
  3. Click "Run"

Option 2: Supabase CLI
  supabase login
  supabase link --project-ref {{.ProjectRef}}
  supabase db push

Option 3: direct database connection
  psql "$DATABASE_URL" -f {{.CombinedFile}}

All migrations were combined into:
  {{.CombinedFile}}
`))

// PrintInstructions writes the manual procedures to w.
func PrintInstructions(w io.Writer, opts InstructionsOptions) error {
	ref := ProjectRef(opts.ProjectURL)

	dashboardURL := "https://supabase.com/dashboard"
	projectRef := "<project-ref>"
	if ref != "" {
		dashboardURL = fmt.Sprintf("https://supabase.com/dashboard/project/%s/sql/new", ref)
		projectRef = ref
	}

	err := instructionsTemplate.Execute(w, struct {
		InstructionsOptions
		DashboardURL string
		ProjectRef   string
	}{
		InstructionsOptions: opts,
		DashboardURL:        dashboardURL,
		ProjectRef:          projectRef,
	})
	if err != nil {
		return fmt.Errorf("failed to print instructions: %w", err)
	}

	return nil
}

// ProjectRef extracts the project reference from a hosted project URL like
// https://abcdefgh.supabase.co. It returns "" for other hosts.
func ProjectRef(projectURL string) string {
	u, err := url.Parse(strings.TrimSpace(projectURL))
	if err != nil {
		return ""
	}

	ref, found := strings.CutSuffix(u.Hostname(), ".supabase.co")
	if !found || ref == "" || strings.Contains(ref, ".") {
		return ""
	}

	return ref
}

// WriteCombined writes every entry, in order, to one SQL file preceded by a
// generation header. Each entry gets exactly one banner line naming its file.
func WriteCombined(path string, generatedAt time.Time, entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create combined file: %w", err)
	}

	if err := writeCombined(file, generatedAt, entries); err != nil {
		_ = file.Close()
		return err
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close combined file: %w", err)
	}

	return nil
}

func writeCombined(w io.Writer, generatedAt time.Time, entries []Entry) error {
	buf := bufio.NewWriter(w)

	fmt.Fprintf(buf, "-- Combined migrations\n")
	fmt.Fprintf(buf, "-- Generated at %s\n", generatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(buf, "-- Files: %d\n", len(entries))

	for _, entry := range entries {
		fmt.Fprintf(buf, "\n%s\n%s%s\n%s\n\n", bannerRule, bannerPrefix, entry.FileName, bannerRule)
		buf.WriteString(strings.TrimRight(entry.Content, "\n"))
		buf.WriteString("\n")
	}

	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to write combined file: %w", err)
	}

	return nil
}

// DefaultCombinedPath returns the combined file location next to the
// migrations directory.
func DefaultCombinedPath(migrationsDir string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(migrationsDir)), DefaultCombinedFileName)
}
