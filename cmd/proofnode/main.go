package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"proofnet/internal/config"
	"proofnet/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "Path to config file (YAML)")
	writeDefault := flag.String("write-default", "", "Write the default config to this path and exit")
	flag.Parse()

	if *writeDefault != "" {
		if err := config.WriteDefault(*writeDefault); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Wrote default config to %s\n", *writeDefault)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format)
	logger := logging.Component("proofnode")
	config.LogSummary(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := newNode(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to build node: %v", err)
	}
	runErr := n.run(ctx)
	if err := n.close(); err != nil {
		logger.Errorf("Shutdown: %v", err)
	}
	if runErr != nil {
		logger.Fatalf("Node stopped: %v", runErr)
	}
	logger.Info("Node stopped")
}
