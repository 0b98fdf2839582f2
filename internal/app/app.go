package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/vk/pretransform/internal/ctxlog"
	"github.com/vk/pretransform/internal/fetch"
	"github.com/vk/pretransform/internal/planner"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *Config
	planner *planner.Planner
	fetcher *fetch.Loader
}

// NewApp is the constructor for the main application. Results are written to
// outW and logs to logW; each App owns an isolated logger.
func NewApp(outW, logW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	logger.Debug("Logger configured successfully.")

	opts := []planner.Option{planner.WithWorkers(cfg.WorkerCount)}
	if cfg.Timeout > 0 {
		opts = append(opts, planner.WithTimeout(cfg.Timeout))
	}

	var loader *fetch.Loader
	if cfg.AllowFetch {
		// Relative urls resolve against the chart's directory.
		loader = fetch.New(filepath.Dir(cfg.SpecPath), true, fetch.NewHTTPClient(planner.DefaultTimeout))
		opts = append(opts, planner.WithFetcher(loader))
		logger.Debug("URL loading enabled.", "base_dir", loader.BaseDir)
	}

	p := planner.New(opts...)
	logger.Debug("Planner created.", "workers", p.Workers())

	return &App{
		outW:    outW,
		logger:  logger,
		config:  cfg,
		planner: p,
		fetcher: loader,
	}
}

// Close releases resources held by the App.
func (a *App) Close() {
	if a.fetcher != nil {
		a.fetcher.Close()
	}
	a.logger.Debug("App closed.")
}

func (a *App) context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}
