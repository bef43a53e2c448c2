package driver

import (
	"context"
	"errors"

	"github.com/root-talis/sqlpush/migration"
)

// Driver executes a single SQL statement against the target database.
type Driver interface {
	Exec(ctx context.Context, statement string) error
}

// Journal is implemented by drivers that can remember which migrations
// were applied.
type Journal interface {
	ListMigrationsLog(ctx context.Context) ([]migration.Log, error)
	RecordMigration(ctx context.Context, mig migration.Migration) error
}

var ErrInvalidLogTable = errors.New("an error has occurred when reading log table")
