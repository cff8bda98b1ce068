package main

import (
	"flag"
	"log"
	"os"

	"geovar/internal/di"
	"geovar/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("geovar starting env=%s backend=%s regimes=%d", cfg.Environment, cfg.Backend.Type, cfg.Engine.Regimes)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}
	log.Printf("clickhouse ready db=%s, kafka brokers=%v jobs=%s results=%s",
		cfg.ClickHouse.Database, cfg.Kafka.Brokers, cfg.Kafka.JobsTopic, cfg.Kafka.ResultsTopic)

	// Blocks until SIGINT/SIGTERM.
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
