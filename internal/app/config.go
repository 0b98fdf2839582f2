package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/vk/pretransform/internal/varid"
)

// Commands understood by the application.
const (
	CommandSpec   = "spec"
	CommandValues = "values"
)

// InlineFile names a file holding an inline dataset.
type InlineFile struct {
	Name string
	Path string
}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command  string
	SpecPath string // chart JSON file

	LocalTZ        string
	OutputTZ       *string
	DefaultInputTZ *string
	RowLimit       *int

	InlineFiles []InlineFile
	InlineDir   string // every .msgpack/.json file becomes an inline dataset
	Variables   []varid.Scoped

	PreserveInteractivity bool
	AllowFetch            bool // url datasets; http(s) as well as local files
	WorkerCount           int
	Timeout               time.Duration

	LogFormat string
	LogLevel  string
}

func NewConfig(cfg Config) (*Config, error) {
	switch cfg.Command {
	case CommandSpec, CommandValues:
	case "":
		return nil, errors.New("Command is a required configuration field and cannot be empty")
	default:
		return nil, fmt.Errorf("unknown command %q: must be %q or %q", cfg.Command, CommandSpec, CommandValues)
	}
	if cfg.SpecPath == "" {
		return nil, errors.New("SpecPath is a required configuration field and cannot be empty")
	}
	if cfg.Command == CommandSpec && len(cfg.Variables) > 0 {
		return nil, errors.New("variables can only be requested with the values command")
	}
	if cfg.LocalTZ == "" {
		cfg.LocalTZ = "UTC"
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", cfg.Timeout)
	}
	seen := make(map[string]bool, len(cfg.InlineFiles))
	for _, f := range cfg.InlineFiles {
		if f.Name == "" || f.Path == "" {
			return nil, fmt.Errorf("inline dataset %q needs both a name and a path", f.Name+"="+f.Path)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("inline dataset %q is given more than once", f.Name)
		}
		seen[f.Name] = true
	}

	return &cfg, nil
}
