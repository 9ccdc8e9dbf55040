package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ipchat/config"
	"ipchat/directory"
	"ipchat/history"
	"ipchat/logging"
	"ipchat/server"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	dir, err := directory.Load(cfg.Storage.DataDir, log)
	if err != nil {
		log.Fatal("failed to load user and group data", zap.Error(err))
	}

	store := history.New(cfg.Storage.ConversationDir)

	srv := server.New(&server.Config{
		Port:         cfg.Server.Port,
		MaxClients:   cfg.Server.MaxClients,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}, log, dir, store)

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info("shutting down", zap.String("signal", sig.String()))
		srv.Shutdown()
		log.Sync()
		os.Exit(0)
	}()

	if err := srv.Start(); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
