package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"verimesh/internal/config"
	"verimesh/internal/node"
)

func main() {
	var basePath string
	flag.StringVar(&basePath, "prefix", "", "Config file base path")
	flag.Parse()

	// Load MainConfig
	cfg, err := config.LoadMainConfig(basePath)
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	n := node.New(cfg, nil, nil)
	if err := n.Start(); err != nil {
		log.Fatalf("Start node failed: %v", err)
	}

	log.Printf("Ready to start %s on port %s", cfg.NodeName, cfg.Port)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- n.Server.ListenAndServe()
	}()

	select {
	case <-stop:
		log.Println("Stopping node...")
	case err := <-serverErr:
		if err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}

	n.Stop()
	log.Println("Node stopped")
}
