package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docvet/scheduler/internal/balance"
	"github.com/docvet/scheduler/internal/config"
	"github.com/docvet/scheduler/internal/credential"
	"github.com/docvet/scheduler/internal/platform/gemini"
	"github.com/docvet/scheduler/internal/platform/logger"
	"github.com/docvet/scheduler/internal/sched"
	"github.com/docvet/scheduler/internal/sysmon"
)

// textGenerator is the LLM surface the work factory closes over.
// Satisfied by the rotating client; tests supply stubs.
type textGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// application holds the wired scheduler components and their
// configuration. Everything is injected; there is no package-level state.
type application struct {
	config   *config.Config
	logger   *slog.Logger
	monitor  *sysmon.Monitor
	rotator  *credential.Rotator
	balancer *balance.Balancer
	manager  *sched.Manager
	pool     *sched.Pool
	llm      textGenerator
}

// newApplication loads configuration and constructs every component in
// dependency order. The balancer is built before the manager and bound to
// its queue stats afterwards, because each needs the other.
func newApplication(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Server)
	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"workers", cfg.Scheduler.Workers,
		"credentials", len(cfg.Credentials.Keys))

	monitor := sysmon.NewMonitor(sysmon.MonitorConfig{
		Interval: cfg.Scheduler.SampleInterval,
	}, log)

	rotator, err := credential.NewRotator(cfg.Credentials.Keys, credential.Config{
		BlacklistThreshold: cfg.Credentials.BlacklistThreshold,
		BaseCooldown:       cfg.Credentials.BaseCooldown,
		MaxCooldown:        cfg.Credentials.MaxCooldown,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential rotator: %w", err)
	}

	balancer := balance.New(monitor, balancerConfig(cfg.Balancer), log)

	managerCfg := sched.DefaultManagerConfig()
	if cfg.Scheduler.QueueCapacity > 0 {
		for i := range managerCfg.Queues {
			managerCfg.Queues[i].Capacity = cfg.Scheduler.QueueCapacity
		}
	}
	if cfg.Scheduler.ResultRetention > 0 {
		managerCfg.ResultRetention = cfg.Scheduler.ResultRetention
	}

	manager, err := sched.NewManager(managerCfg, balancer, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue manager: %w", err)
	}
	balancer.BindQueueStats(manager)

	pool := sched.NewPool(manager, sched.PoolConfig{
		Workers:        cfg.Scheduler.Workers,
		MaxRetries:     cfg.Scheduler.MaxRetries,
		RetryBaseDelay: cfg.Scheduler.RetryBaseDelay,
		RetryMaxDelay:  cfg.Scheduler.RetryMaxDelay,
	}, log)

	llm, err := gemini.NewRotatingClient(ctx, cfg.LLM, cfg.Credentials.Keys, rotator, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	if cfg.Broker.URL != "" {
		// Collaborator wiring only; the in-process substrate opens no
		// connection itself.
		log.Info("broker endpoint configured for external collaborators",
			"url_present", true)
	}

	return &application{
		config:   cfg,
		logger:   log,
		monitor:  monitor,
		rotator:  rotator,
		balancer: balancer,
		manager:  manager,
		pool:     pool,
		llm:      llm,
	}, nil
}

// balancerConfig overlays configured thresholds onto the balancer
// defaults. Zero values keep the default.
func balancerConfig(cfg config.BalancerConfig) balance.Config {
	out := balance.DefaultConfig()
	if cfg.HighWaterCPU > 0 {
		out.HighWaterCPU = cfg.HighWaterCPU
	}
	if cfg.HighWaterMem > 0 {
		out.HighWaterMem = cfg.HighWaterMem
	}
	if cfg.ThrottleCPU > 0 {
		out.ThrottleCPU = cfg.ThrottleCPU
	}
	if cfg.ThrottleMem > 0 {
		out.ThrottleMem = cfg.ThrottleMem
	}
	if cfg.ReduceStep > 0 {
		out.ReduceStep = cfg.ReduceStep
	}
	if cfg.SustainWindow > 0 {
		out.SustainWindow = cfg.SustainWindow
	}
	return out
}

// run starts the background components and serves the monitoring API
// until a shutdown signal arrives.
func (app *application) run(ctx context.Context) error {
	app.monitor.Start(ctx)
	app.manager.Start(ctx)
	app.pool.Start(ctx)

	return app.startHTTPServer(ctx, app.setupRouter())
}

// cleanup stops the components in reverse dependency order: the pool
// drains in-flight work first, then the manager and monitor halt.
func (app *application) cleanup() {
	app.pool.Stop()
	app.manager.Close()
	app.monitor.Stop()
}
