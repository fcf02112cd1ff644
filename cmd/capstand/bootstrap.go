package main

import (
	"fmt"
	"log/slog"

	"capstan/internal/config"
	"capstan/internal/credentials"
	"capstan/internal/deploy"
	"capstan/internal/dockercli"
	"capstan/internal/gitsource"
	"capstan/internal/imagebuild"
	"capstan/internal/publish"
	"capstan/internal/run"
	"capstan/internal/stage"
	"capstan/internal/testgate"
	"capstan/internal/workflow"
)

func newBroker(cfg *config.Config) *credentials.Broker {
	return credentials.NewBroker(cfg)
}

func registerStages(manager *workflow.Manager, cfg *config.Config, store *run.Store, logger *slog.Logger) error {
	source := gitsource.New(cfg.Repo.URL, cfg.MirrorDir())
	docker, err := dockercli.New(cfg.Build.DockerBinary)
	if err != nil {
		return fmt.Errorf("init docker client: %w", err)
	}

	gate, err := testgate.New(cfg, docker, source, logger)
	if err != nil {
		return fmt.Errorf("init test gate: %w", err)
	}
	builder, err := imagebuild.New(cfg, docker, source, logger)
	if err != nil {
		return fmt.Errorf("init image builder: %w", err)
	}

	handlers := []stage.Handler{
		gate,
		builder,
		publish.New(cfg, store, logger),
		deploy.New(cfg, logger),
	}
	for _, h := range handlers {
		if err := manager.Register(h); err != nil {
			return err
		}
	}
	return nil
}
