package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/dnnflow/internal/app"
	"github.com/vk/dnnflow/internal/config"
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

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("dnnflow", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
dnnflow - Parallel network training expressed as a composable task graph.

Usage:
  dnnflow [options] [CONFIG_PATH]

Arguments:
  CONFIG_PATH
    Path to a single .hcl file or a directory containing .hcl files.
    Built-in defaults are used when omitted.

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to the pipeline configuration file or directory.")
	cFlag := flagSet.String("c", "", "Path to the pipeline configuration file or directory (shorthand).")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	dumpFlag := flagSet.String("dump", "", "Write the task graph description to this file, or '-' for standard output.")
	dryRunFlag := flagSet.Bool("dry-run", false, "Build the task graph without running it.")

	layersFlag := flagSet.Int("layers", 0, "Number of layers per model (L). Overrides the configured value when set.")
	epochsFlag := flagSet.Int("epochs", 0, "Number of epochs per model (N). Overrides the configured value when set.")
	modelsFlag := flagSet.Int("models", 0, "Number of models trained in parallel (M). Overrides the configured value when set.")
	workersFlag := flagSet.Int("workers", 0, "Number of concurrent workers for the executor (T). Overrides the configured value when set.")
	runsFlag := flagSet.Int("runs", 0, "Number of sequential pipeline runs. Overrides the configured value when set.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *configFlag != "" {
		path = *configFlag
	} else if *cFlag != "" {
		path = *cFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	if flagSet.NArg() > 1 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("expected at most one CONFIG_PATH, got %d", flagSet.NArg())}
	}
	slog.Debug("Config path determined.", "path", path)

	// Only flags present on the command line override the file, so an
	// explicit 0 reaches validation instead of meaning "unset".
	var overrides config.Overrides
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "layers":
			overrides.Layers = layersFlag
		case "epochs":
			overrides.Epochs = epochsFlag
		case "models":
			overrides.Replicas = modelsFlag
		case "workers":
			overrides.Workers = workersFlag
		case "runs":
			overrides.Runs = runsFlag
		}
	})

	appConfig, err := app.NewConfig(app.Config{
		ConfigPath:      path,
		DumpPath:        *dumpFlag,
		DryRun:          *dryRunFlag,
		HealthcheckPort: *healthPortFlag,
		LogFormat:       strings.ToLower(*logFormatFlag),
		LogLevel:        strings.ToLower(*logLevelFlag),
		Overrides:       overrides,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", appConfig)
	return appConfig, false, nil
}
