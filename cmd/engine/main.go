package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/rawblock/wash-trade-engine/internal/alert"
	"github.com/rawblock/wash-trade-engine/internal/api"
	"github.com/rawblock/wash-trade-engine/internal/config"
	"github.com/rawblock/wash-trade-engine/internal/storage"
)

func main() {
	log.Println("Starting RawBlock Wash-Trade Detection Engine...")

	cfgPath := getEnvOrDefault("CONFIG_FILE", "config.yaml")
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		log.Fatalf("FATAL: failed to load %s: %v", cfgPath, err)
	}
	cfg = config.LoadEnv(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	var store *storage.Store
	if dbURL, err := config.DatabaseURL(); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err = storage.Connect(ctx, dbURL)
		cancel()
		if err != nil {
			log.Printf("Warning: failed to connect to PostgreSQL, continuing without persisting run results. Error: %v", err)
			store = nil
		} else {
			defer store.Close()
			initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := store.InitSchema(initCtx); err != nil {
				log.Printf("Warning: schema init failed: %v", err)
			}
			initCancel()
		}
	} else {
		log.Println("DATABASE_URL not set — runs are served from the in-process cache only")
	}

	hub := alert.NewHub()
	go hub.Run()

	alertManager := alert.NewManager()
	if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		alertManager.RegisterWebhook("default", url, "low", nil)
	}

	r := api.SetupRouter(store, hub, alertManager, cfg)

	port := getEnvOrDefault("PORT", "5339")
	log.Printf("Engine running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
