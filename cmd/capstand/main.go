package main

import (
	"context"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"capstan/internal/config"
	"capstan/internal/daemon"
	"capstan/internal/logging"
	"capstan/internal/run"
	"capstan/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, path, existed, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !existed {
		log.Printf("no config found, using defaults (expected at %s)", path)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "capstand.log")},
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := run.Open(cfg)
	if err != nil {
		logger.Error("open run store", logging.Error(err))
		return
	}

	manager := workflow.NewManager(cfg, store, newBroker(cfg), logger)
	if err := registerStages(manager, cfg, store, logger); err != nil {
		logger.Error("register stages", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, store, manager, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("capstand shutting down")
}
