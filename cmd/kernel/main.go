package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/config"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/logging"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/monitoring"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/server"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/shared/id"
)

func main() {
	// Parse flags
	bootFile := flag.String("config", "", "YAML boot file (overrides environment)")
	scenarioFile := flag.String("scenario", "", "YAML menu scenario (default: built-in test run)")
	debug := flag.Bool("debug", false, "Serve the debug endpoint and keep running after the scenario")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg, err := loadConfig(*bootFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *debug {
		cfg.Debug.Enabled = true
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	boot := id.NewBootID()
	logger = logger.WithBoot(boot)
	defer func() { _ = logger.Sync() }()

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, boot, logger, *scenarioFile); err != nil {
		logger.Error("Kernel stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

// run boots the kernel, runs the scenario and, with the debug endpoint
// enabled, keeps serving until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, boot id.BootID, logger *logging.Logger, scenarioFile string) error {
	scenario, err := LoadScenario(scenarioFile)
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetrics()
	k, err := bootKernel(cfg, logger, metrics, os.Stdout)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Debug.Enabled {
		srv := server.New(server.Options{
			Addr:              cfg.Debug.Addr,
			RequestsPerSecond: cfg.Debug.RequestsPerSecond,
			Burst:             cfg.Debug.Burst,
			Development:       cfg.Logging.Development,
			Boot:              boot,
			Procs:             k.procs,
			Metrics:           metrics,
			Logger:            logger,
		})
		g.Go(func() error { return srv.Run(ctx) })
	}

	g.Go(func() error {
		if err := k.runScenario(ctx, scenario); err != nil {
			return err
		}
		snap := metrics.GetSnapshot()
		logger.Info("Scenario complete",
			zap.Int("steps", len(scenario.Steps)),
			zap.Int64("forks", snap.Forks),
			zap.Int64("reaps", snap.Reaps),
			zap.Int64("syscalls", snap.Syscalls),
		)
		if cfg.Debug.Enabled {
			logger.Info("Debug endpoint still serving; interrupt to stop", zap.String("addr", cfg.Debug.Addr))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
