package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/pretransform/internal/app"
	"github.com/vk/pretransform/internal/planner"
	"github.com/vk/pretransform/internal/varid"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// listFlag collects every occurrence of a repeatable flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

const usageText = `
pretransform - Evaluates the data and signals of a chart ahead of rendering.

Usage:
  pretransform spec [options] SPEC_PATH
  pretransform values [options] -var data.name[0] SPEC_PATH

Commands:
  spec     Rewrite the chart with every computable dataset and signal embedded.
  values   Print the values of the requested variables.

Options default to PRETRANSFORM_<OPTION> environment variables (dashes as
underscores), which may also come from a .env file.

Options:
`

// Parse processes command-line arguments with defaults taken from env. It
// returns a populated Config, a boolean indicating if the program should
// exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer, env map[string]string) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("pretransform", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, usageText)
		flagSet.PrintDefaults()
	}

	if len(args) == 0 || args[0] == "-h" || args[0] == "-help" || args[0] == "--help" {
		flagSet.Usage()
		return nil, true, nil
	}
	command := args[0]
	if command != app.CommandSpec && command != app.CommandValues {
		return nil, false, usageError("unknown command %q: must be %q or %q", command, app.CommandSpec, app.CommandValues)
	}

	d := &defaults{env: env}
	localTZ := flagSet.String("local-tz", d.String("LOCAL_TZ", "UTC"), "IANA timezone for naive dates, local time units and now().")
	outputTZ := flagSet.String("output-tz", d.String("OUTPUT_TZ", ""), "IANA timezone for embedded timestamps (spec only). Empty keeps epoch milliseconds.")
	inputTZ := flagSet.String("default-input-tz", d.String("DEFAULT_INPUT_TZ", ""), "IANA timezone for parsing naive date strings (values only).")
	rowLimit := flagSet.Int("row-limit", d.Int("ROW_LIMIT", 0), "Maximum rows per computed dataset. 0 is unlimited.")
	inlineDir := flagSet.String("inline-dir", d.String("INLINE_DIR", ""), "Directory whose .msgpack and .json files are inline datasets named after the file.")
	preserve := flagSet.Bool("preserve-interactivity", d.Bool("PRESERVE_INTERACTIVITY", true), "Keep data that depends on interactive signals live (spec only).")
	workers := flagSet.Int("workers", d.Int("WORKERS", 0), "Number of concurrent evaluation workers. 0 uses one per CPU.")
	timeout := flagSet.Duration("timeout", d.Duration("TIMEOUT", planner.DefaultTimeout), "Evaluation deadline. 0 uses the default.")
	allowFetch := flagSet.Bool("allow-fetch", d.Bool("ALLOW_FETCH", false), "Load url datasets from disk and over HTTP.")
	logFormat := flagSet.String("log-format", d.String("LOG_FORMAT", "text"), "Log output format. Options: 'text' or 'json'.")
	logLevel := flagSet.String("log-level", d.String("LOG_LEVEL", "info"), "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	var inline, vars listFlag
	flagSet.Var(&inline, "inline", "Inline dataset as name=path to a .msgpack or .json file. Repeatable.")
	flagSet.Var(&vars, "var", "Variable to evaluate, e.g. signal.width or data.table[0] (values only). Repeatable.")

	if d.err != nil {
		return nil, false, usageError("%v", d.err)
	}
	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError("%v", err)
	}
	slog.Debug("Arguments parsed successfully.", "command", command)

	if flagSet.NArg() != 1 {
		return nil, false, usageError("expected exactly one SPEC_PATH, got %d", flagSet.NArg())
	}

	format := strings.ToLower(*logFormat)
	if format != "text" && format != "json" {
		return nil, false, usageError("invalid log-format: must be 'text' or 'json'")
	}
	level := strings.ToLower(*logLevel)
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	files := make([]app.InlineFile, 0, len(inline))
	for _, raw := range inline {
		name, path, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, false, usageError("invalid -inline %q: must be name=path", raw)
		}
		files = append(files, app.InlineFile{Name: name, Path: path})
	}
	scoped := make([]varid.Scoped, 0, len(vars))
	for _, raw := range vars {
		v, err := varid.Parse(raw)
		if err != nil {
			return nil, false, usageError("invalid -var: %v", err)
		}
		scoped = append(scoped, v)
	}
	slog.Debug("CLI parameter validation complete.")

	cfg := app.Config{
		Command:               command,
		SpecPath:              flagSet.Arg(0),
		LocalTZ:               *localTZ,
		InlineFiles:           files,
		InlineDir:             *inlineDir,
		Variables:             scoped,
		PreserveInteractivity: *preserve,
		AllowFetch:            *allowFetch,
		WorkerCount:           *workers,
		Timeout:               *timeout,
		LogFormat:             format,
		LogLevel:              level,
	}
	if *outputTZ != "" {
		cfg.OutputTZ = outputTZ
	}
	if *inputTZ != "" {
		cfg.DefaultInputTZ = inputTZ
	}
	if *rowLimit != 0 {
		cfg.RowLimit = rowLimit
	}

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, usageError("%v", err)
	}

	slog.Debug("CLI parser finished successfully.", "command", config.Command, "spec_path", config.SpecPath)
	return config, false, nil
}
