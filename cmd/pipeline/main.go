package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/sensorgrid/pipeline/pkg/api"
	"github.com/sensorgrid/pipeline/pkg/cache"
	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/history"
	"github.com/sensorgrid/pipeline/pkg/ledger"
	"github.com/sensorgrid/pipeline/pkg/lifecycle"
	"github.com/sensorgrid/pipeline/pkg/oracle"
	"github.com/sensorgrid/pipeline/pkg/pipeline"
	"github.com/sensorgrid/pipeline/pkg/sensor"
)

// cmd/pipeline/main.go

func main() {
	configPath := flag.String("config", "/etc/sensorgrid/pipeline.json", "Path to config file")
	flag.Parse()

	var cfg config.PipelineConfig
	if err := config.LoadAndValidate(*configPath, &cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store := cache.NewRedis(cfg.Cache)

	var hist *history.Store

	if cfg.History.Path != "" {
		var err error

		hist, err = history.New(cfg.History.Path)
		if err != nil {
			log.Fatalf("Failed to open history store: %v", err)
		}

		defer func() {
			if err := hist.Close(); err != nil {
				log.Printf("History close error: %v", err)
			}
		}()
	}

	gateway := sensor.NewGateway(cfg.Ingestion, cfg.Sensors,
		sensor.NewMQTTClient(cfg.Ingestion.MQTT), sensor.NewSocketDialer())

	oracles := oracle.NewService(cfg.Oracles, &http.Client{Timeout: 15 * time.Second})

	connector := ledger.NewConnector(cfg.Networks, cfg.Wallets, cfg.Contracts, ledger.DialBackend)

	orch := pipeline.New(&cfg, store, hist, gateway, oracles, connector, nil)

	apiServer := api.NewServer(orch, gateway, oracles, hist)

	err := lifecycle.RunServer(context.Background(), &lifecycle.ServerOptions{
		ServiceName: cfg.Name,
		HTTPAddr:    cfg.HTTPAddr,
		GRPCAddr:    cfg.GRPCAddr,
		Service:     orch,
		Handler:     apiServer.Router(),
		Health:      orch,
	})
	if err != nil {
		log.Fatalf("Pipeline exited: %v", err)
	}
}
