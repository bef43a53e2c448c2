package migration

import "time"

const VersionBits = 64

type Version uint64

type Migration struct {
	Version  Version
	Name     string
	FileName string
}

// ---

type Status uint

const (
	Pending Status = iota
	Applied
	Missing
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Applied:
		return "applied"
	case Missing:
		return "missing"
	default:
		return "unknown"
	}
}

// ---

type Log struct {
	Migration
	AppliedAt time.Time
}

// ---

type State struct {
	Migration
	Status    Status
	AppliedAt time.Time
}

// ---

// From returns the migrations whose version is at least minVersion,
// keeping the order of the input.
func From(migrations []Migration, minVersion Version) []Migration {
	result := make([]Migration, 0, len(migrations))
	for _, mig := range migrations {
		if mig.Version >= minVersion {
			result = append(result, mig)
		}
	}
	return result
}
