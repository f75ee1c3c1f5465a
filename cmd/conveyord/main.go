// Command conveyord runs the pipeline orchestration daemon: it accepts
// trigger requests over HTTP and advances each work item through the
// preprocess, gpu, and postprocess stages.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"conveyor/internal/backoff"
	"conveyor/internal/config"
	"conveyor/internal/daemon"
	"conveyor/internal/engine"
	"conveyor/internal/logging"
	"conveyor/internal/metrics"
	"conveyor/internal/pool"
	"conveyor/internal/runner"
	"conveyor/internal/scheduler"
	"conveyor/internal/stage"
	"conveyor/internal/storage"
	"conveyor/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("validate config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	pools, err := pool.NewSet(cfg)
	if err != nil {
		log.Fatalf("create compute pools: %v", err)
	}

	coord, err := storage.NewCoordinator(cfg.Paths.VolumeRoot)
	if err != nil {
		log.Fatalf("create storage coordinator: %v", err)
	}

	m := metrics.New()
	sched := scheduler.New(pools, st, runner.NewProcessRunner(), m, logger)
	executor := stage.NewExecutor(sched, backoff.FromSettings(cfg.Backoff.BaseSeconds, cfg.Backoff.Rate), coord, logger)

	eng, err := engine.New(cfg, st, executor, m, logger)
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}

	d, err := daemon.New(cfg, st, eng, pools, m, logger)
	if err != nil {
		log.Fatalf("create daemon: %v", err)
	}

	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}

	<-ctx.Done()
	logger.Info("conveyord shutting down")
	d.Stop()
}
