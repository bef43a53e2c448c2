package cli

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/root-talis/sqlpush/internal/config"
	"github.com/root-talis/sqlpush/report"
)

const (
	ModeRPC    = "rpc"
	ModeDirect = "direct"
)

var (
	ErrUnknownMode         = errors.New("unknown mode")
	ErrDatabaseURLRequired = errors.New("DATABASE_URL is required in direct mode")
)

// Config holds sqlpush settings.
type Config struct {
	ProjectURL     string        `env:"NEXT_PUBLIC_SUPABASE_URL,required,notEmpty"`
	ServiceRoleKey string        `env:"SUPABASE_SERVICE_ROLE_KEY,required,notEmpty"`
	MigrationsDir  string        `env:"SQLPUSH_MIGRATIONS_DIR" envDefault:"supabase/migrations"`
	From           uint64        `env:"SQLPUSH_FROM" envDefault:"0"`
	Output         string        `env:"SQLPUSH_OUTPUT"`
	Mode           string        `env:"SQLPUSH_MODE" envDefault:"rpc"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RequestTimeout time.Duration `env:"SQLPUSH_REQUEST_TIMEOUT" envDefault:"30s"`

	EnvFile string
	Status  bool
}

// ParseConfig reads flags, loads the env file they name, parses the
// environment and finally applies the flags that were set explicitly.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	return parseConfig(fs, args, config.ParseEnv)
}

func parseConfig(fs *flag.FlagSet, args []string, parseEnv func(any) error) (Config, error) {
	var (
		cfg   Config
		flags Config
	)

	fs.StringVar(&flags.EnvFile, "env-file", config.DefaultEnvFile, "dot-file with KEY=value pairs")
	fs.StringVar(&flags.MigrationsDir, "dir", "", "migrations directory")
	fs.Uint64Var(&flags.From, "from", 0, "first migration version to apply")
	fs.StringVar(&flags.Output, "out", "", "combined SQL output file")
	fs.StringVar(&flags.Mode, "mode", "", "execution mode: rpc or direct")
	fs.StringVar(&flags.DatabaseURL, "dsn", "", "database url for direct mode")
	fs.BoolVar(&flags.Status, "status", false, "print migration status and exit (direct mode)")

	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := config.LoadEnvFile(flags.EnvFile); err != nil {
		return Config{}, err
	}
	if err := parseEnv(&cfg); err != nil {
		return Config{}, err
	}

	cfg.EnvFile = flags.EnvFile
	cfg.Status = flags.Status
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dir":
			cfg.MigrationsDir = flags.MigrationsDir
		case "from":
			cfg.From = flags.From
		case "out":
			cfg.Output = flags.Output
		case "mode":
			cfg.Mode = flags.Mode
		case "dsn":
			cfg.DatabaseURL = flags.DatabaseURL
		}
	})

	if cfg.Output == "" {
		cfg.Output = report.DefaultCombinedPath(cfg.MigrationsDir)
	}

	switch cfg.Mode {
	case ModeRPC:
	case ModeDirect:
		if cfg.DatabaseURL == "" {
			return Config{}, ErrDatabaseURLRequired
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
	if cfg.Status && cfg.Mode != ModeDirect {
		return Config{}, fmt.Errorf("-status needs -mode %s", ModeDirect)
	}

	return cfg, nil
}
