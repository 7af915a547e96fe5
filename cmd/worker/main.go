package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/migration-orchestrator/config"
	"github.com/feichai0017/migration-orchestrator/internal/service/migration"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
	"github.com/feichai0017/migration-orchestrator/pkg/progress/relay"
	"github.com/feichai0017/migration-orchestrator/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// a worker only ever executes queued runs
	cfg.Run.Mode = config.RunModeQueue

	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := progress.NewBus(cfg.Bus, log)
	defer bus.Close()

	// publish local progress to the server
	if cfg.Redis.Channel != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		host, _ := os.Hostname()
		sub, err := bus.Subscribe(relay.NewPublisher(rdb, cfg.Redis.Channel, "worker:"+host, log), progress.WithReplay(0))
		if err != nil {
			return errors.Wrap(err, "failed to attach event relay")
		}
		defer sub.Close()
	}

	svc, err := migration.GetService(ctx, cfg, bus, log)
	if err != nil {
		return errors.Wrap(err, "failed to create migration service")
	}
	defer svc.Close()

	migrationWorker, err := worker.NewMigrationWorker(cfg.QueueConfig(), svc, log)
	if err != nil {
		return errors.Wrap(err, "failed to create migration worker")
	}

	if err := migrationWorker.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start worker")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	return migrationWorker.Stop()
}
