package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/migration-orchestrator/api/handlers"
	"github.com/feichai0017/migration-orchestrator/api/routes"
	"github.com/feichai0017/migration-orchestrator/config"
	"github.com/feichai0017/migration-orchestrator/internal/service/migration"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
	"github.com/feichai0017/migration-orchestrator/pkg/progress/relay"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// init logger
	log, err := cfg.Logger()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := progress.NewBus(cfg.Bus, log)
	defer bus.Close()

	// init migration service
	svc, err := migration.GetService(ctx, cfg, bus, log)
	if err != nil {
		log.Fatal("Failed to get migration service", logger.Error(err))
	}
	defer svc.Close()

	// queued runs execute in workers; their events arrive over the relay
	if cfg.Run.Mode == config.RunModeQueue && cfg.Redis.Channel != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		self, _ := os.Hostname()
		go func() {
			if err := relay.Run(ctx, rdb, cfg.Redis.Channel, "server:"+self, bus, log); err != nil {
				log.Error("Event relay stopped", logger.Error(err))
			}
		}()
	}

	// init handlers
	gin.SetMode(cfg.Server.Mode)
	h := handlers.NewHandlers(svc, bus, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, log)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr), logger.String("runMode", cfg.Run.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	// graceful shutdown
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
