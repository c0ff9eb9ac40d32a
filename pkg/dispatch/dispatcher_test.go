package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/pkg/capability"
	"github.com/stewardhq/steward/pkg/events"
	"github.com/stewardhq/steward/pkg/skills"
	"github.com/stewardhq/steward/pkg/types/host"
)

const billingManifest = `---
name: billing
version: 0.1.0
description: Answers invoice questions and runs a reconciliation sweep.
permissions:
  - read_memory
triggers:
  - on_ask: "invoice|payment"
  - schedule: every 5m
  - on_event: mail.received
handlers:
  on_ask: handlers/ask.py
  schedule: handlers/sweep.py
  on_event: handlers/mail.py
---

# Billing
`

const weatherManifest = `---
name: weather
version: 0.1.0
description: Morning forecast.
triggers:
  - on_ask: "weather"
handlers:
  on_ask: handlers/ask.py
---

# Weather
`

// writeSkillDir lays out a skill directory containing just a SKILL.md.
func writeSkillDir(dir, manifest string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, skills.ManifestFileName), []byte(manifest), 0o644)
}

func registryWith(t *testing.T, manifests ...string) *skills.Registry {
	t.Helper()
	dir := t.TempDir()
	for _, m := range manifests {
		parsed, err := skills.ParseManifest([]byte(m))
		require.NoError(t, err)
		require.NoError(t, writeSkillDir(filepath.Join(dir, parsed.Name), m))
	}
	r := skills.NewRegistry(events.NewBus(), skills.WithDirs(dir))
	return r
}

func dispatcherFor(t *testing.T, manifests ...string) (*Dispatcher, *skills.Registry) {
	t.Helper()
	r := registryWith(t, manifests...)
	d := NewDispatcher(r, &host.Services{}, nil)
	r.Discover(context.Background())
	return d, r
}

func TestMatchAsk_FirstMatchingTriggerFiresOnce(t *testing.T) {
	d, _ := dispatcherFor(t, billingManifest, weatherManifest)

	var invocations []skills.Invocation
	d.RegisterFunc("billing", skills.HandlerAsk, func(ctx context.Context, capctx *capability.Context, inv skills.Invocation) (any, error) {
		invocations = append(invocations, inv)
		return map[string]string{"answer": "paid"}, nil
	})

	results := d.MatchAsk(context.Background(), "did the invoice payment clear?")
	require.Len(t, results, 1)
	assert.Equal(t, "billing", results[0].Skill)
	assert.JSONEq(t, `{"answer":"paid"}`, string(results[0].Output))

	require.Len(t, invocations, 1)
	assert.Equal(t, skills.HandlerAsk, invocations[0].Handler)
	assert.Equal(t, "did the invoice payment clear?", invocations[0].Text)
	assert.NotEmpty(t, invocations[0].ID)
}

func TestMatchAsk_NoMatch(t *testing.T) {
	d, _ := dispatcherFor(t, billingManifest)
	d.RegisterFunc("billing", skills.HandlerAsk, func(ctx context.Context, capctx *capability.Context, inv skills.Invocation) (any, error) {
		t.Fatal("handler should not fire")
		return nil, nil
	})

	assert.Empty(t, d.MatchAsk(context.Background(), "what is for lunch"))
}

func TestMatchAsk_DisabledSkillSkipped(t *testing.T) {
	d, r := dispatcherFor(t, billingManifest)
	d.RegisterFunc("billing", skills.HandlerAsk, func(ctx context.Context, capctx *capability.Context, inv skills.Invocation) (any, error) {
		t.Fatal("handler should not fire")
		return nil, nil
	})
	require.True(t, r.SetEnabled("billing", false))

	assert.Empty(t, d.MatchAsk(context.Background(), "invoice status"))
}

func TestMatchAsk_FailureDoesNotStopSiblings(t *testing.T) {
	d, _ := dispatcherFor(t, billingManifest, weatherManifest)
	d.RegisterFunc("billing", skills.HandlerAsk, func(ctx context.Context, capctx *capability.Context, inv skills.Invocation) (any, error) {
		panic("boom")
	})
	d.RegisterFunc("weather", skills.HandlerAsk, func(ctx context.Context, capctx *capability.Context, inv skills.Invocation) (any, error) {
		return "sunny", nil
	})

	results := d.MatchAsk(context.Background(), "invoice weather report")
	require.Len(t, results, 1)
	assert.Equal(t, "weather", results[0].Skill)
}

func TestTick_SchedulesKeepIndependentClocks(t *testing.T) {
	d, _ := dispatcherFor(t, billingManifest)

	fired := 0
	d.RegisterFunc("billing", skills.HandlerSchedule, func(ctx context.Context, capctx *capability.Context, inv skills.Invocation) (any, error) {
		fired++
		return nil, nil
	})

	clock := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	d.Tick(context.Background())
	assert.Equal(t, 1, fired, "first tick fires immediately")

	clock = clock.Add(time.Minute)
	d.Tick(context.Background())
	assert.Equal(t, 1, fired, "interval not yet elapsed")

	clock = clock.Add(4 * time.Minute)
	d.Tick(context.Background())
	assert.Equal(t, 2, fired, "fires once the interval elapses")
}

func TestTick_ZeroIntervalTriggerIsInert(t *testing.T) {
	const manifest = `---
name: odd
description: Unresolvable schedule phrase.
triggers:
  - schedule: whenever the mood strikes
handlers:
  schedule: handlers/run.py
---

# Odd
`
	d, _ := dispatcherFor(t, manifest)
	d.RegisterFunc("odd", skills.HandlerSchedule, func(ctx context.Context, capctx *capability.Context, inv skills.Invocation) (any, error) {
		t.Fatal("inert trigger must never fire")
		return nil, nil
	})

	d.Tick(context.Background())
	d.Tick(context.Background())
}

func TestHandleEvent_ExactMatch(t *testing.T) {
	d, _ := dispatcherFor(t, billingManifest, weatherManifest)

	var got skills.Invocation
	d.RegisterFunc("billing", skills.HandlerEvent, func(ctx context.Context, capctx *capability.Context, inv skills.Invocation) (any, error) {
		got = inv
		return nil, nil
	})

	assert.Equal(t, 1, d.HandleEvent(context.Background(), "mail.received", map[string]any{"from": "acme"}))
	assert.Equal(t, "mail.received", got.Event)
	assert.Equal(t, skills.HandlerEvent, got.Handler)

	assert.Equal(t, 0, d.HandleEvent(context.Background(), "mail.sent", nil))
}

func TestBusEmitReachesEventHandlers(t *testing.T) {
	bus := events.NewBus()
	dir := t.TempDir()
	require.NoError(t, writeSkillDir(filepath.Join(dir, "billing"), billingManifest))
	r := skills.NewRegistry(bus, skills.WithDirs(dir))
	d := NewDispatcher(r, &host.Services{}, nil)
	r.Discover(context.Background())

	fired := 0
	d.RegisterFunc("billing", skills.HandlerEvent, func(ctx context.Context, capctx *capability.Context, inv skills.Invocation) (any, error) {
		fired++
		return nil, nil
	})

	require.NoError(t, bus.Emit(context.Background(), "mail.received", nil))
	assert.Equal(t, 1, fired)
}

func TestRegisterFuncIgnoredForIsolatedSkills(t *testing.T) {
	const manifest = `---
name: locked
description: Must always run sandboxed.
isolated: true
triggers:
  - on_ask: "secret"
handlers:
  on_ask: handlers/ask.py
---

# Locked
`
	d, _ := dispatcherFor(t, manifest)
	d.RegisterFunc("locked", skills.HandlerAsk, func(ctx context.Context, capctx *capability.Context, inv skills.Invocation) (any, error) {
		t.Fatal("isolated skill must not run in-process")
		return nil, nil
	})

	// No runner is wired, so the sandboxed path fails and yields no result.
	assert.Empty(t, d.MatchAsk(context.Background(), "tell me the secret"))
}
