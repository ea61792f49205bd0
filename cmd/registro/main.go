package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"registro/internal/backend"
	"registro/internal/cache"
	"registro/internal/cli"
	apphttp "registro/internal/http"
	"registro/internal/log"
	"registro/internal/middleware/ratelimit"
	"registro/internal/middleware/security"
	"registro/internal/pipeline"
	"registro/internal/query"
	"registro/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "registro:", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file for local development (absent in production/docker)
	if err := cli.LoadEnvFile(); err != nil {
		return err
	}

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}

	logger, err := cli.SetupLogger(cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	// Each process gets its own origin so it can skip its own broadcasts.
	origin := uuid.NewString()

	opts, err := backend.OptionsFromConfig(cfg, origin)
	if err != nil {
		return err
	}
	res, err := backend.Open(ctx, opts, logger)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	defer func() {
		if err := res.Close(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	ctrl := query.NewController(res.Repository, cfg.OwnerID, opts.Location, query.Config{
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
	})
	orch := pipeline.New(ctrl, logger, pipeline.Config{})
	res.Service.AddListener(orch.NotifyLedgerChanged)
	changes := worker.NewChangeWorker(orch, cfg.OwnerID, logger)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimitPerMinute,
		MaxClients:        ratelimit.DefaultConfig().MaxClients,
	})
	clientIP, err := security.NewClientIP(cfg.TrustedProxies...)
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	caches := cache.NewManager()
	if c := ctrl.Cache(); c != nil {
		caches.Register(c)
	}
	caches.Register(limiter.Cache())
	sweepEvery := cfg.CacheCleanupInterval
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Pipeline: orch,
		Ledger:   res.Service,
		Query:    ctrl,
		Limiter:  limiter,
		ClientIP: clientIP,
		Logger:   logger,
	})
	srv.BindContext(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return caches.Run(gctx, sweepEvery) })
	g.Go(func() error { return changes.RefreshPeriodically(gctx, cfg.RefreshInterval) })
	if res.Changes != nil {
		g.Go(func() error { return res.Changes.ConsumeLedgerChanges(gctx, changes.HandleLedgerChange) })
	}
	g.Go(func() error {
		logger.Info("Starting registro server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			log.FieldOwnerID, cfg.OwnerID,
			log.FieldOrigin, origin)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", "reason", context.Cause(gctx))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
