// Package cli wires configuration, sources, drivers and reporting into the
// sqlpush command.
package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/root-talis/sqlpush"
	"github.com/root-talis/sqlpush/driver"
	"github.com/root-talis/sqlpush/driver/rpc"
	"github.com/root-talis/sqlpush/driver/sqldb"
	"github.com/root-talis/sqlpush/migration"
	"github.com/root-talis/sqlpush/report"
	"github.com/root-talis/sqlpush/source"
	"github.com/root-talis/sqlpush/source/files"
)

// Run attempts to apply migrations and then always writes the combined SQL
// file and prints the manual instructions. A push error is returned only
// after both artifacts have been produced.
func Run(ctx context.Context, cfg Config, stdout, stderr io.Writer) error {
	logger := log.New(stderr, "sqlpush: ", log.LstdFlags)

	src, err := files.NewDirSource(cfg.MigrationsDir)
	if err != nil {
		return err
	}

	drv, closeDriver, err := openDriver(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDriver()

	pusher := sqlpush.New(src, drv, sqlpush.WithOutput(stdout), sqlpush.WithLogger(logger))

	if cfg.Status {
		return printStatus(ctx, pusher, stdout)
	}

	fmt.Fprintf(stdout, "Applying migrations from %s (version >= %d) via %s\n", cfg.MigrationsDir, cfg.From, cfg.Mode)

	result, pushErr := pusher.Push(ctx, migration.Version(cfg.From))
	if pushErr != nil {
		logger.Printf("push stopped: %v", pushErr)
	}

	failed := 0
	if result != nil {
		failed = result.Failed
		fmt.Fprintf(stdout, "\nStatements succeeded: %d, failed: %d, migrations skipped: %d\n",
			result.Succeeded, result.Failed, result.Skipped)
	}

	if err := writeArtifacts(cfg, src, failed, stdout); err != nil {
		return err
	}

	return pushErr
}

func openDriver(ctx context.Context, cfg Config, logger *log.Logger) (driver.Driver, func(), error) {
	switch cfg.Mode {
	case ModeDirect:
		drv, err := sqldb.Open(cfg.DatabaseURL, sqldb.DriverConfig{})
		if err != nil {
			return nil, nil, err
		}
		return drv, func() {
			if err := drv.Close(); err != nil {
				logger.Printf("failed to close database: %v", err)
			}
		}, nil

	default:
		drv, err := rpc.NewDriver(rpc.DriverConfig{
			ProjectURL:     cfg.ProjectURL,
			ServiceRoleKey: cfg.ServiceRoleKey,
			HTTPClient:     &http.Client{Timeout: cfg.RequestTimeout},
		})
		if err != nil {
			return nil, nil, err
		}

		if err := drv.ProvisionHelper(ctx); err != nil {
			logger.Printf("%v (expected unless the helper was created by hand)", err)
		}

		return drv, func() {}, nil
	}
}

func writeArtifacts(cfg Config, src source.Source, failed int, stdout io.Writer) error {
	entries, err := report.Collect(src, migration.Version(cfg.From))
	if err != nil {
		return err
	}

	if err := report.WriteCombined(cfg.Output, time.Now(), entries); err != nil {
		return err
	}

	migrations := make([]migration.Migration, 0, len(entries))
	for _, entry := range entries {
		migrations = append(migrations, entry.Migration)
	}

	return report.PrintInstructions(stdout, report.InstructionsOptions{
		ProjectURL:   cfg.ProjectURL,
		CombinedFile: cfg.Output,
		Migrations:   migrations,
		Failed:       failed,
	})
}

func printStatus(ctx context.Context, pusher sqlpush.Pusher, stdout io.Writer) error {
	result, err := pusher.Validate(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tFILE\tSTATUS\tAPPLIED AT")
	for _, state := range result.Migrations {
		appliedAt := "-"
		if !state.AppliedAt.IsZero() {
			appliedAt = state.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", state.Version, state.FileName, state.Status, appliedAt)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to print status: %w", err)
	}

	fmt.Fprintf(stdout, "\napplied: %d, pending: %d, missing: %d\n",
		result.AppliedCount, result.PendingCount, result.MissingCount)

	return nil
}
