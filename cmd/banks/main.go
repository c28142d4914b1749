// cmd/banks/main.go
package main

import (
	"context"
	"database/sql"
	"log"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"guaranteedesk/internal/bank"
	"guaranteedesk/internal/platform/config"
	"guaranteedesk/internal/platform/httpx"
	"guaranteedesk/internal/platform/logger"
	"guaranteedesk/internal/platform/tracing"
	"guaranteedesk/pkg/eventstore"
)

func main() {
	cfg, err := config.Load("banks", "8081")
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

	var store bank.Store = bank.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			zl.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		pg := bank.NewPostgresStore(db, eventstore.NewEventStore(db))
		if err := pg.EnsureSchema(ctx); err != nil {
			zl.Fatal("failed to create schema", zap.Error(err))
		}
		store = pg
	} else {
		zl.Warn("DATABASE_URL not set, bank profiles are kept in memory")
	}

	svc := bank.NewService(store, bank.WithLogger(zl))

	router := httpx.NewRouter(cfg.ServiceName, zl)
	bank.NewHandler(svc).Routes(router)

	if err := httpx.Serve(":"+cfg.Port, router, zl); err != nil {
		zl.Fatal("server failed", zap.Error(err))
	}
}
