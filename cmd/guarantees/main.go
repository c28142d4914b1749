// cmd/guarantees/main.go
package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"guaranteedesk/internal/clients"
	"guaranteedesk/internal/guarantee"
	"guaranteedesk/internal/guarantee/metrics"
	"guaranteedesk/internal/platform/config"
	"guaranteedesk/internal/platform/httpx"
	"guaranteedesk/internal/platform/logger"
	"guaranteedesk/internal/platform/tracing"
	"guaranteedesk/internal/scheduler"
	"guaranteedesk/pkg/eventstore"
	"guaranteedesk/pkg/rabbitmq"
)

func main() {
	cfg, err := config.Load("guarantees", "8082")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.ServiceName, cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	ctx := context.Background()
	shutdown, err := tracing.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		zl.Fatal("failed to set up tracing", zap.Error(err))
	}
	defer shutdown(ctx)

	var repo guarantee.Repository = guarantee.NewMemoryRepository()
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			zl.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		pg := guarantee.NewPostgresRepository(db, eventstore.NewEventStore(db))
		if err := pg.EnsureSchema(ctx); err != nil {
			zl.Fatal("failed to create schema", zap.Error(err))
		}
		repo = pg
	} else {
		zl.Warn("DATABASE_URL not set, guarantees are kept in memory")
	}

	svc := guarantee.NewService(repo, clients.NewBankClient(cfg.BankServiceURL),
		guarantee.WithLogger(zl),
		guarantee.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
		guarantee.WithRules(rulesFrom(cfg.Rules)),
	)

	if cfg.AMQPURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.AMQPURL, zl)
		if err != nil {
			zl.Fatal("failed to connect to broker", zap.Error(err))
		}
		defer producer.Close()
		svc.Subscribe(guarantee.NewBrokerListener(producer, cfg.EventExchange))
	}

	// in-memory guarantees are invisible to the standalone sweeper
	if cfg.DatabaseURL == "" && cfg.SweepSchedule != "" {
		jobs := scheduler.NewJobs(svc, zl, 5*time.Minute)
		sched := scheduler.New(jobs, zl, cfg.SweepSchedule)
		if err := sched.Start(); err != nil {
			zl.Fatal("failed to start scheduler", zap.Error(err))
		}
		defer sched.Stop()
	}

	router := httpx.NewRouter(cfg.ServiceName, zl)
	guarantee.NewHandler(svc, guarantee.WithRateLimit(cfg.RateLimitPerMinute, cfg.RateLimitBurst)).Routes(router)

	if err := httpx.Serve(":"+cfg.Port, router, zl); err != nil {
		zl.Fatal("server failed", zap.Error(err))
	}
}

func rulesFrom(rc config.RulesConfig) guarantee.Rules {
	rules := guarantee.DefaultRules()
	rules.MinAmount = decimal.NewFromInt(rc.MinAmount)
	rules.MaxAmount = decimal.NewFromInt(rc.MaxAmount)
	rules.MinExpiryDays = rc.MinExpiryDays
	rules.NearExpiryDays = rc.NearExpiryDays
	rules.MaxFileSize = rc.MaxFileSize
	rules.MinTitleLength = rc.MinTitleLength
	rules.MinRenewalNoticeDays = rc.MinRenewalNoticeDays
	rules.MaxRenewalNoticeDays = rc.MaxRenewalNoticeDays
	return rules
}
