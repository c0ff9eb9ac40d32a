package main

import (
	"context"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/pkg/config"
	"github.com/stewardhq/steward/pkg/dispatch"
	"github.com/stewardhq/steward/pkg/events"
	"github.com/stewardhq/steward/pkg/logger"
	"github.com/stewardhq/steward/pkg/sandbox"
	"github.com/stewardhq/steward/pkg/skills"
	"github.com/stewardhq/steward/pkg/store"
	"github.com/stewardhq/steward/pkg/types/host"
	"github.com/stewardhq/steward/pkg/venv"
)

// hostRuntime bundles everything a steward command needs to dispatch skills.
type hostRuntime struct {
	cfg        config.Config
	store      *store.SQLiteStore
	bus        *events.Bus
	registry   *skills.Registry
	dispatcher *dispatch.Dispatcher
}

// newHostRuntime assembles the store, bus, registry, sandbox runner, and
// dispatcher, then discovers skills.
func newHostRuntime(ctx context.Context) (*hostRuntime, error) {
	cfg, err := config.FromViper()
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	services := &host.Services{
		Memory:   db,
		Storage:  db,
		Notifier: &logNotifier{},
		Actions:  &logActionSink{},
		Bus:      bus,
	}

	envs := venv.NewProvisioner(cfg.VenvRoot, venv.WithPython(cfg.Python))
	runner := sandbox.NewRunner(services, envs, cfg.MaxRPCCalls)

	registry := skills.NewRegistry(bus, skills.WithDirs(cfg.SkillDirs...))
	registry.SetProvisioner(func(ctx context.Context, skill *skills.Skill) error {
		_, err := envs.Ensure(ctx, skill.Name, skill.Dependencies)
		return err
	})
	dispatcher := dispatch.NewDispatcher(registry, services, runner)
	registry.Discover(ctx)

	return &hostRuntime{
		cfg:        cfg,
		store:      db,
		bus:        bus,
		registry:   registry,
		dispatcher: dispatcher,
	}, nil
}

func (h *hostRuntime) Close() error {
	return h.store.Close()
}

// logNotifier surfaces notifications through the structured log. A desktop
// or chat delivery channel can replace it without touching skill code.
type logNotifier struct{}

func (n *logNotifier) Notify(ctx context.Context, title, message string) error {
	logger.G(ctx).WithField("title", title).WithField("message", message).Info("notification")
	return nil
}

// logActionSink records proposed actions in the structured log and assigns
// them an id. Proposals are never executed by the host itself.
type logActionSink struct{}

func (s *logActionSink) Propose(ctx context.Context, skill, action string, params map[string]any) (string, error) {
	id := uuid.NewString()
	logger.G(ctx).
		WithField("skill", skill).
		WithField("action", action).
		WithField("params", params).
		WithField("id", id).
		Info("action proposed")
	return id, nil
}
