// Command fleetd runs the fleet control plane as a standalone service.
//
// It loads a YAML configuration file, connects to NATS for persistence and
// notifications, and serves the control HTTP API until interrupted.
//
// Usage:
//
//	fleetd -config fleet.yaml
//	NATS_URL=nats://nats:4222 fleetd
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/fleet"
	"github.com/arloliu/fleet/internal/logging"
	"github.com/arloliu/fleet/internal/metrics"
	"github.com/arloliu/fleet/source"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg := fleet.DefaultConfig()
	if *configPath != "" {
		loaded, err := fleet.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		log.Fatalf("Failed to connect to NATS at %s: %v", natsURL, err)
	}
	defer nc.Close()

	logger := logging.NewSlogDefault()

	// TODO: replace the static source with the schema-service client once its
	// collection API is published.
	src := source.NewStatic(nil)

	mgr, err := fleet.NewManager(&cfg, nc, src,
		fleet.WithLogger(logger),
		fleet.WithMetrics(metrics.NewPrometheus(nil, "fleet")),
	)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		log.Fatalf("Failed to start manager: %v", err)
	}

	logger.Info("fleetd running", "nats_url", natsURL, "http_addr", cfg.HTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	if err := mgr.Stop(context.Background()); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
