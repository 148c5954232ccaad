package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/wellsolve/calcgateway/internal/api"
	"github.com/wellsolve/calcgateway/internal/backend/solver"
	"github.com/wellsolve/calcgateway/internal/config"
	"github.com/wellsolve/calcgateway/internal/engine"
	"github.com/wellsolve/calcgateway/internal/hub"
	"github.com/wellsolve/calcgateway/internal/registry"
	"github.com/wellsolve/calcgateway/internal/resilience"
)

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("calcgateway: starting",
		"listen_addr", cfg.ListenAddr,
		"backend_addr", cfg.BackendAddr,
		"max_concurrent", cfg.MaxConcurrent,
	)

	client := solver.NewClient(cfg.BackendAddr, cfg.DialTimeout, logger)
	proxy := resilience.NewProxy(client, resilience.Config{
		FailureRatio:    cfg.BreakerFailureRatio,
		MinRequests:     cfg.BreakerMinRequests,
		Interval:        cfg.BreakerInterval,
		Cooldown:        cfg.BreakerCooldown,
		HalfOpenMax:     cfg.BreakerHalfOpenMax,
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
	}, logger)

	reg := registry.New(cfg.MaxConcurrent, logger)
	h := hub.New(logger)

	eng := engine.NewEngine(reg, h, proxy, engine.Options{
		CalcTimeout:   cfg.CalcTimeout,
		IdleTimeout:   cfg.IdleTimeout,
		CompletedTTL:  cfg.CompletedTTL,
		SweepInterval: cfg.SweepInterval,
	}, logger)
	eng.StartSweeper()
	defer eng.Shutdown()

	srv := api.NewServer(cfg, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
