package files

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/root-talis/sqlpush/migration"
	"github.com/root-talis/sqlpush/source"
)

const migrationExt = ".sql"

type fileSource struct {
	fsys          fs.FS
	migrationsDir string
}

// NewDirSource opens a source rooted at a directory on the local disk.
func NewDirSource(migrationsDirectory string) (source.Source, error) {
	return NewSource(os.DirFS(migrationsDirectory), ".")
}

// NewSource lists *.sql migrations stored in migrationsDirectory of fsys.
func NewSource(fsys fs.FS, migrationsDirectory string) (source.Source, error) {
	stat, err := fs.Stat(fsys, migrationsDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to stat migrations directory: %w", err)
	}

	if !stat.IsDir() {
		return nil, source.ErrNotADirectory
	}

	return &fileSource{
		fsys:          fsys,
		migrationsDir: migrationsDirectory,
	}, nil
}

func (src *fileSource) GetAvailableMigrations() ([]migration.Migration, error) {
	dirEntries, err := fs.ReadDir(src.fsys, src.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read contents of migrations directory: %w", err)
	}

	result := make([]migration.Migration, 0, len(dirEntries))
	for _, entry := range dirEntries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}

		fileName := entry.Name()
		if !strings.EqualFold(path.Ext(fileName), migrationExt) {
			continue
		}

		mig, err := getValidMigrationFromFileName(fileName)
		if err != nil {
			log.Printf("skipping %s: %v", fileName, err)
			continue
		}

		result = append(result, mig)
	}

	// zero-padded prefixes sort the same lexically and numerically;
	// unpadded ones only sort correctly by number
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Version != result[j].Version {
			return result[i].Version < result[j].Version
		}
		return result[i].FileName < result[j].FileName
	})

	return result, nil
}

func (src *fileSource) ReadMigration(mig migration.Migration) (string, error) {
	if mig.FileName == "" || mig.FileName != path.Base(mig.FileName) {
		return "", fmt.Errorf("%w: %q", source.ErrUnknownMigration, mig.FileName)
	}

	content, err := fs.ReadFile(src.fsys, path.Join(src.migrationsDir, mig.FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", source.ErrUnknownMigration, mig.FileName)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read migration %s: %w", mig.FileName, err)
	}

	return string(content), nil
}

func getValidMigrationFromFileName(fileName string) (migration.Migration, error) {
	base := fileName[:len(fileName)-len(migrationExt)]

	digits := strings.IndexFunc(base, func(c rune) bool { return !unicode.IsDigit(c) })
	if digits == 0 {
		return migration.Migration{}, fmt.Errorf("migration file name does not start with a version: %s", fileName)
	}
	if digits < 0 {
		return migration.Migration{}, fmt.Errorf("migration file name has no name after version: %s", fileName)
	}

	version, err := strconv.ParseUint(base[:digits], 10, migration.VersionBits)
	if err != nil {
		return migration.Migration{}, fmt.Errorf("migration file name does not contain a valid version: %s", fileName)
	}

	if base[digits] != '_' {
		return migration.Migration{}, fmt.Errorf(
			"migration file is missing an underscore after version (%c given): %s",
			base[digits],
			fileName,
		)
	}

	name := base[digits+1:]
	if name == "" {
		return migration.Migration{}, fmt.Errorf("migration file name has no name after version: %s", fileName)
	}

	return migration.Migration{
		Version:  migration.Version(version),
		Name:     name,
		FileName: fileName,
	}, nil
}
