// cmd/api/main.go
package main

import (
	"log"

	"go.uber.org/zap"

	"guaranteedesk/internal/platform/config"
	"guaranteedesk/internal/platform/httpx"
	"guaranteedesk/internal/platform/logger"
)

func main() {
	cfg, err := config.Load("api-gateway", "8080")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.ServiceName, cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	router := httpx.NewRouter(cfg.ServiceName, zl)
	if err := mountUpstreams(router, zl, map[string]string{
		"banks":      cfg.BankServiceURL,
		"guarantees": cfg.GuaranteeServiceURL,
	}); err != nil {
		zl.Fatal("invalid upstream", zap.Error(err))
	}

	if err := httpx.Serve(":"+cfg.Port, router, zl); err != nil {
		zl.Fatal("server failed", zap.Error(err))
	}
}
