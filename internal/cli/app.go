// Package cli implements the agentcheck command-line interface.
// This file wires the shared application stack used by commands.
package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/hangw/agentcheck/internal/artifact"
	"github.com/hangw/agentcheck/internal/config"
	"github.com/hangw/agentcheck/internal/db"
	"github.com/hangw/agentcheck/internal/engine"
	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/fusion"
	"github.com/hangw/agentcheck/internal/gate"
	"github.com/hangw/agentcheck/internal/runner"
	"github.com/hangw/agentcheck/internal/service"
)

// app bundles the stores and services a command needs. Close releases
// the database handle.
type app struct {
	cfg       *config.Config
	database  *db.DB
	store     db.Store
	artifacts *artifact.Store
	publisher *events.MemoryPublisher
	tasks     *service.TaskService
	analytics *service.AnalyticsService
	history   *service.HistoryService
}

func (a *app) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.database != nil {
		_ = a.database.Close()
	}
}

// openApp builds the full stack: config, repository, artifact store,
// participant runner, workflow engine, and the service layers.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	database, err := db.OpenDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabaseURL, err)
	}
	store := db.NewSQLStore(database)
	artifacts := artifact.NewStore(cfg.ArtifactRoot)

	run, err := runner.NewRunner(
		runner.WithDryRun(cfg.DryRun),
		runner.WithTimeoutRetries(cfg.ParticipantTimeoutRetries),
	)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	executor := gate.NewShellExecutor(
		gate.WithCommandTimeout(time.Duration(cfg.CommandTimeoutSeconds) * time.Second),
	)
	snapshots := fusion.NewManager(filepath.Join(cfg.ArtifactRoot, "snapshots"))
	eng := engine.New(run, executor,
		engine.WithFusionManager(snapshots),
		engine.WithWorkflowBackend(cfg.WorkflowBackend),
	)

	publisher := events.NewMemoryPublisher()
	tasks := service.NewTaskService(store, artifacts, eng, cfg,
		service.WithPublisher(publisher),
	)

	return &app{
		cfg:       cfg,
		database:  database,
		store:     store,
		artifacts: artifacts,
		publisher: publisher,
		tasks:     tasks,
		analytics: service.NewAnalyticsService(store),
		history:   service.NewHistoryService(store, artifacts),
	}, nil
}
