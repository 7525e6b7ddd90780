package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/dnnflow/internal/app"
	"github.com/vk/dnnflow/internal/cli"
	"github.com/vk/dnnflow/internal/config"
	"github.com/vk/dnnflow/internal/hcl"
)

// main is the entrypoint for the dnnflow application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The real main function handles errors and exit codes.
	if err := run(ctx, os.Stdout, os.Args[1:]); err != nil {
		stop()
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(ctx context.Context, outW io.Writer, args []string) error {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// Instantiate the concrete HCL loader to pass to the app.
	loader := hcl.NewLoader()
	dnnApp, err := app.NewApp(outW, appConfig, loader)
	if err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			return &cli.ExitError{Code: 2, Message: err.Error()}
		}
		return fmt.Errorf("application startup failed: %w", err)
	}

	return dnnApp.Run(ctx)
}
