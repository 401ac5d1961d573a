// Package main is the entrypoint for the fragility batch runner.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kiranshivaraju/fragility/internal/api"
	"github.com/kiranshivaraju/fragility/internal/api/handler"
	mw "github.com/kiranshivaraju/fragility/internal/api/middleware"
	"github.com/kiranshivaraju/fragility/internal/backend"
	"github.com/kiranshivaraju/fragility/internal/cache"
	"github.com/kiranshivaraju/fragility/internal/config"
	"github.com/kiranshivaraju/fragility/internal/counters"
	"github.com/kiranshivaraju/fragility/internal/pipeline"
	"github.com/kiranshivaraju/fragility/internal/store"
)

const (
	shutdownTimeout      = 30 * time.Second
	statusRequestsPerMin = 120
)

var logLevel = new(slog.LevelVar)

// readinessChecker is implemented by backends that front a remote service.
type readinessChecker interface {
	Ready(ctx context.Context) error
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fragility run failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// 1. Load config, then let flags override it
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyFlags(cfg, args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	setLogLevel(cfg.LogLevel)
	slog.Info("config loaded",
		"backend", cfg.Backend.Kind,
		"workers", cfg.Run.Workers,
		"geojson", cfg.Run.GeoJSONPath,
		"gm_dir", cfg.Run.GMDir,
		"cache_file", cfg.Cache.Path,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Structural backend
	be, err := backend.NewBackend(cfg.Backend)
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	slog.Info("backend initialized", "backend", be.Name())

	var solver handler.Pinger
	if r, ok := be.(readinessChecker); ok {
		if err := r.Ready(ctx); err != nil {
			return fmt.Errorf("backend not ready: %w", err)
		}
		solver = handler.PingFunc(r.Ready)
	}

	var (
		opts    []pipeline.Option
		st      store.Store
		cs      counters.Counters
		limiter mw.Incrementer
	)

	// 3. Optional database
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")

		st = store.NewPostgresStore(pool)
		opts = append(opts, pipeline.WithStore(st))
	}

	// 4. Optional Redis counters
	if cfg.Redis.URL != "" {
		rc, err := counters.NewRedisCounters(cfg.Redis.URL, cfg.Redis.TTL)
		if err != nil {
			return fmt.Errorf("create redis counters: %w", err)
		}
		defer rc.Close()

		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")

		cs = rc
		limiter = rc
		opts = append(opts, pipeline.WithCounters(cs))
	}

	locking := cache.DetectLockStrategy(cfg.Cache.Path)
	opts = append(opts, pipeline.WithLockStrategy(locking))
	p := pipeline.New(cfg, be, opts...)

	// 5. Optional status server
	if cfg.Server.Port > 0 {
		srv := newStatusServer(cfg, p, locking, st, cs, limiter, solver)
		go func() {
			slog.Info("status server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("status server shutdown", "error", err)
			}
		}()
	}

	// 6. Run the batch
	summary, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	slog.Info("fragility run completed",
		"run_id", summary.RunID,
		"duration_seconds", summary.Duration,
		"tasks", summary.Scheduling.TotalTasks,
		"successful", summary.Scheduling.Successful,
		"failed", summary.Scheduling.Failed,
		"cache_hits", summary.Scheduling.CacheHits,
		"results", filepath.Join(cfg.Run.OutputDir, pipeline.ResultsFile),
	)
	return nil
}

// applyFlags overrides cfg with the flags present in args. Unset flags leave
// the environment configuration alone.
func applyFlags(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("fragility", flag.ContinueOnError)
	geojson := fs.String("geojson", cfg.Run.GeoJSONPath, "building inventory GeoJSON")
	gmDir := fs.String("gm-dir", cfg.Run.GMDir, "ground motion directory")
	gmList := fs.String("gm-list", cfg.Run.GMList, "file listing the ground motion ids to use")
	outputDir := fs.String("output-dir", cfg.Run.OutputDir, "directory for results and reports")
	workers := fs.Int("workers", cfg.Run.Workers, "worker count, 0 for one per CPU")
	cacheFile := fs.String("cache-file", cfg.Cache.Path, "master cache file")
	maxBuildings := fs.Int("max-buildings", cfg.Run.MaxBuildings, "process at most this many buildings, 0 for all")
	skipValidation := fs.Bool("skip-validation", cfg.Run.SkipValidation, "skip result validation")
	backendKind := fs.String("backend", cfg.Backend.Kind, "structural backend: exec, http or mock")
	statusPort := fs.Int("status-port", cfg.Server.Port, "status API port, 0 to disable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg.Run.GeoJSONPath = *geojson
	cfg.Run.GMDir = *gmDir
	cfg.Run.GMList = *gmList
	cfg.Run.OutputDir = *outputDir
	cfg.Run.Workers = *workers
	cfg.Cache.Path = *cacheFile
	cfg.Run.MaxBuildings = *maxBuildings
	cfg.Run.SkipValidation = *skipValidation
	cfg.Backend.Kind = *backendKind
	cfg.Server.Port = *statusPort
	return nil
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "warn":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
	}
}

// newStatusServer wires the status API. st, cs, limiter and solver may be
// nil; without a store the run and result endpoints answer 501.
func newStatusServer(cfg *config.Config, p *pipeline.Pipeline, locking cache.LockStrategy, st store.Store, cs counters.Counters, limiter mw.Incrementer, solver handler.Pinger) *http.Server {
	auth := mw.NewAuth(cfg.Server.TokenHash)
	if !auth.Enabled() {
		slog.Warn("FRAGILITY_STATUS_TOKEN_HASH not set, protected status endpoints will reject every request")
	}

	pingers := map[string]handler.Pinger{"database": nil, "counters": nil, "solver": solver}
	if st != nil {
		pingers["database"] = st
	}
	if cs != nil {
		pingers["counters"] = cs
	}

	path := p.CachePath()
	lock := cache.NewFileLock(path, locking, cfg.Cache.LockTimeout)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: mw.NewRateLimit(limiter, statusRequestsPerMin),

		HealthHandler:     handler.NewHealthHandler(pingers),
		ProgressHandler:   handler.NewProgressHandler(p),
		CacheStatsHandler: handler.NewCacheStatsHandler(path),
		CacheEntryHandler: handler.NewCacheEntryHandler(cache.NewMasterView(path, lock)),
	}
	if st != nil {
		deps.GetRunHandler = handler.NewGetRunHandler(st, cs)
		deps.ListOutcomesHandler = handler.NewListOutcomesHandler(st)
		deps.GetResultHandler = handler.NewGetResultHandler(st)
		deps.LookupResultsHandler = handler.NewLookupResultsHandler(st)
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
