// Package sqldb applies migrations over a direct database connection and
// keeps a log table of the migrations it applied.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/root-talis/sqlpush/driver"
	"github.com/root-talis/sqlpush/migration"
)

const DefaultMigrationsTableName = "sqlpush_migrations"

var ErrUnsupportedDialect = errors.New("unsupported sql dialect")

type DriverConfig struct {
	Dialect Dialect
	// Schema optionally qualifies the log table (database name on MySQL).
	Schema              string
	MigrationsTableName string
}

var (
	_ driver.Driver  = (*Driver)(nil)
	_ driver.Journal = (*Driver)(nil)
)

type Driver struct {
	conn    *sql.DB
	config  DriverConfig
	dialect dialectSyntax
	now     func() time.Time
}

func NewDriver(conn *sql.DB, config DriverConfig) (*Driver, error) {
	dialect, ok := dialects[config.Dialect]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, config.Dialect)
	}
	if config.MigrationsTableName == "" {
		config.MigrationsTableName = DefaultMigrationsTableName
	}

	return &Driver{
		conn:    conn,
		config:  config,
		dialect: dialect,
		now:     time.Now,
	}, nil
}

func (drv *Driver) Close() error {
	return drv.conn.Close()
}

func (drv *Driver) Exec(ctx context.Context, statement string) error {
	if _, err := drv.conn.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

func (drv *Driver) ListMigrationsLog(ctx context.Context) ([]migration.Log, error) {
	tableName := drv.makeEscapedMigrationsTableName()

	if err := drv.ensureMigrationsTableExists(ctx, tableName); err != nil {
		return nil, fmt.Errorf("failed to list applied versions: %w", err)
	}

	rows, err := drv.conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT version, migration_name, file_name, applied_at FROM %s ORDER BY id",
		tableName,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to list applied versions: %w", err)
	}
	defer rows.Close()

	return drv.fetchMigrationsLog(rows)
}

func (drv *Driver) RecordMigration(ctx context.Context, mig migration.Migration) error {
	tableName := drv.makeEscapedMigrationsTableName()

	if err := drv.ensureMigrationsTableExists(ctx, tableName); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", mig.FileName, err)
	}

	_, err := drv.conn.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (version, migration_name, file_name, applied_at) VALUES (%s, %s, %s, %s)",
		tableName,
		drv.dialect.placeholder(1),
		drv.dialect.placeholder(2),
		drv.dialect.placeholder(3),
		drv.dialect.placeholder(4),
	), int64(mig.Version), mig.Name, mig.FileName, drv.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record migration %s: %w", mig.FileName, err)
	}

	return nil
}

func (drv *Driver) fetchMigrationsLog(rows *sql.Rows) ([]migration.Log, error) {
	result := make([]migration.Log, 0)
	for rows.Next() {
		var log migration.Log
		var version int64
		var appliedAt int64

		err := rows.Scan(
			&version,
			&log.Name,
			&log.FileName,
			&appliedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", driver.ErrInvalidLogTable, err)
		}
		if version < 0 {
			return nil, fmt.Errorf("%w: negative version %d", driver.ErrInvalidLogTable, version)
		}

		log.Version = migration.Version(version)
		log.AppliedAt = time.Unix(appliedAt, 0).UTC()

		result = append(result, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query migrations log table: %w", err)
	}

	return result, nil
}

func (drv *Driver) makeEscapedMigrationsTableName() string {
	if drv.config.Schema == "" {
		return drv.dialect.quote(drv.config.MigrationsTableName)
	}
	return drv.dialect.quote(drv.config.Schema) + "." + drv.dialect.quote(drv.config.MigrationsTableName)
}

func (drv *Driver) ensureMigrationsTableExists(ctx context.Context, escapedTableName string) error {
	_, err := drv.conn.ExecContext(ctx, fmt.Sprintf(drv.dialect.createTable, escapedTableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table %s: %w", escapedTableName, err)
	}

	return nil
}
