package source

import (
	"errors"

	"github.com/root-talis/sqlpush/migration"
)

type Source interface {
	GetAvailableMigrations() ([]migration.Migration, error)
	ReadMigration(mig migration.Migration) (string, error)
}

var (
	ErrNotADirectory    = errors.New("migrations directory is not a directory")
	ErrUnknownMigration = errors.New("migration is not available in this source")
)
