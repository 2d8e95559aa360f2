// Package version хранит сведения о сборке, проставляемые через -ldflags:
//
//	-X github.com/vladislavdragonenkov/storefront/internal/version.version=v1.2.0
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build — сведения о текущей сборке.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о сборке процесса.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

func (b Build) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// LogFields — поля для стартового лога сервиса.
func (b Build) LogFields() log.Fields {
	return log.Fields{
		"version": b.Version,
		"commit":  b.Commit,
		"built":   b.Date,
	}
}

// IsRelease сообщает, собран ли бинарник с проставленной версией.
func (b Build) IsRelease() bool {
	return b.Version != "" && b.Version != "dev"
}

// String — короткая форма Current().String().
func String() string { return Current().String() }

// GetVersion возвращает версию сборки; её отдаёт health handler.
func GetVersion() string { return version }
