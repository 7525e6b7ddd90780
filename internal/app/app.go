package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vk/dnnflow/internal/config"
	"github.com/vk/dnnflow/internal/ctxlog"
	"github.com/vk/dnnflow/internal/dag"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW      io.Writer
	logger    *slog.Logger
	ctx       context.Context
	appConfig *Config
	model     *config.Model

	httpServer *http.Server

	// mu protects future and lastErr.
	mu      sync.Mutex
	future  *dag.Future
	lastErr error
}

// NewApp is the constructor for the main application. It builds the app's
// own logger, loads the pipeline configuration through loader, applies the
// command-line overrides and validates the result. No task is built here.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model := config.Default()
	if appConfig.ConfigPath != "" {
		loaded, err := loader.Load(ctx, appConfig.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		model = loaded
		logger.Debug("Configuration loaded and translated into unified model.", "path", appConfig.ConfigPath)
	} else {
		logger.Debug("No configuration file given, using defaults.")
	}

	appConfig.Overrides.Apply(model)
	if err := model.Validate(); err != nil {
		return nil, err
	}
	logger.Debug("Configuration validated.")

	return &App{
		outW:      outW,
		logger:    logger,
		ctx:       ctx,
		appConfig: appConfig,
		model:     model,
	}, nil
}

// Model returns the effective pipeline configuration.
func (a *App) Model() *config.Model {
	return a.model
}

// status reports the current run's id and state for the health endpoint.
func (a *App) status() (string, dag.RunState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.future == nil {
		return "", dag.RunBuilt, a.lastErr
	}
	return a.future.ID(), a.future.State(), a.lastErr
}
