package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Paths is the on-disk layout under the closer home directory:
//
//	$CLOSER_HOME (default ~/.closer)
//	├── config.yaml
//	├── .env
//	├── data/closer.db
//	└── logs/
type Paths struct {
	Base   string
	Config string
	Env    string
	Logs   string
	Data   string
}

// ResolvePaths lays out the home directory named by CLOSER_HOME, falling
// back to ~/.closer.
func ResolvePaths() (Paths, error) {
	return resolvePaths(os.Getenv, os.UserHomeDir)
}

func resolvePaths(getenv func(string) string, home func() (string, error)) (Paths, error) {
	base := getenv("CLOSER_HOME")
	if base == "" {
		h, err := home()
		if err != nil {
			return Paths{}, fmt.Errorf("locating home directory: %w", err)
		}
		base = filepath.Join(h, ".closer")
	}
	return PathsAt(base), nil
}

// PathsAt lays out base without consulting the environment.
func PathsAt(base string) Paths {
	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Env:    filepath.Join(base, ".env"),
		Logs:   filepath.Join(base, "logs"),
		Data:   filepath.Join(base, "data"),
	}
}

// Database is store.path when set, resolved against Base if relative, and
// data/closer.db otherwise.
func (p Paths) Database(cfg StoreConfig) string {
	switch {
	case cfg.Path == "":
		return filepath.Join(p.Data, "closer.db")
	case filepath.IsAbs(cfg.Path):
		return cfg.Path
	default:
		return filepath.Join(p.Base, cfg.Path)
	}
}

// EnsureDirs creates Base, Logs and Data owner-only.
func (p Paths) EnsureDirs() error {
	var errs []error
	for _, d := range []string{p.Base, p.Logs, p.Data} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
