package main

import (
	"context"
	"fmt"
	"os"

	"ffqueue/config"
	"ffqueue/engine"
	"ffqueue/ffmpeg"
	"ffqueue/logger"
	"ffqueue/task"

	"go.uber.org/zap"
)

// app is the wired set of components shared by serve and convert.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	session *engine.Session
	manager *task.Manager
	tempDir string
	ownsDir bool
}

func newApp(configure func(*config.Config)) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if configure != nil {
		configure(cfg)
	}

	log, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ownsDir := cfg.TempDir == ""
	dir, err := ffmpeg.PrepareTempDir(cfg)
	if err != nil {
		return nil, err
	}
	log.Info("configuration loaded",
		zap.Strings("engineSources", cfg.EngineSources),
		zap.String("tempDir", dir),
		zap.String("queueMode", cfg.QueueMode))

	session := engine.NewSession(newLoaders(cfg, log), log.Named("engine"))
	manager, err := task.NewManager(cfg, session, log.Named("queue"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize task manager: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  log,
		session: session,
		manager: manager,
		tempDir: dir,
		ownsDir: ownsDir,
	}, nil
}

// newLoaders turns ENGINE_SOURCES into the ordered fallback chain.
func newLoaders(cfg *config.Config, log *zap.Logger) []engine.Loader {
	loaders := make([]engine.Loader, 0, len(cfg.EngineSources))
	for _, source := range cfg.EngineSources {
		launcher := ffmpeg.NewLauncher(cfg, source, log.Named("ffmpeg"))
		loaders = append(loaders, engine.LoaderFunc(launcher.Name(), func(ctx context.Context) (engine.Instance, error) {
			p, err := launcher.Launch(ctx)
			if err != nil {
				return nil, err
			}
			return p, nil
		}))
	}
	return loaders
}

// close stops the queue, tears the engine down and removes a temp dir this
// process created.
func (a *app) close() {
	a.manager.Shutdown()
	if err := a.session.Cancel(); err != nil {
		a.logger.Warn("engine shutdown failed", zap.Error(err))
	}
	if a.ownsDir {
		if err := os.RemoveAll(a.tempDir); err != nil {
			a.logger.Warn("failed to remove temp directory", zap.String("dir", a.tempDir), zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
