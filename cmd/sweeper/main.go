// cmd/sweeper/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"guaranteedesk/internal/clients"
	"guaranteedesk/internal/guarantee"
	"guaranteedesk/internal/platform/config"
	"guaranteedesk/internal/platform/logger"
	"guaranteedesk/internal/scheduler"
)

func main() {
	once := flag.Bool("once", false, "sweep and refresh alerts once, then exit")
	flag.Parse()

	cfg, err := config.Load("sweeper", "8089")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.ServiceName, cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	client := clients.NewGuaranteeClient(cfg.GuaranteeServiceURL, guarantee.SystemActor)
	jobs := scheduler.NewJobs(client, zl, 5*time.Minute)

	if *once {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		expired, raised, err := jobs.RunOnce(ctx)
		if err != nil {
			zl.Fatal("sweep failed", zap.Error(err))
		}
		zl.Info("sweep finished", zap.Int("expired", expired), zap.Int("raised", raised))
		return
	}

	sched := scheduler.New(jobs, zl, cfg.SweepSchedule)
	if err := sched.Start(); err != nil {
		zl.Fatal("failed to start scheduler", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	zl.Info("stopping scheduler")
	<-sched.Stop().Done()
}
