// Package dispatch routes trigger firings to skill handlers. It owns the
// schedule clock, matches incoming questions against on_ask patterns, and
// decides per invocation whether a handler runs in-process or inside the
// sandboxed subprocess runner.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/stewardhq/steward/pkg/capability"
	"github.com/stewardhq/steward/pkg/logger"
	"github.com/stewardhq/steward/pkg/sandbox"
	"github.com/stewardhq/steward/pkg/skills"
	"github.com/stewardhq/steward/pkg/types/host"
)

// HandlerFunc is a trusted in-process handler. Skills shipped with the host
// register these instead of script handlers; they receive the same
// capability-gated context a sandboxed handler talks to over RPC.
type HandlerFunc func(ctx context.Context, capctx *capability.Context, inv skills.Invocation) (any, error)

// Result is the outcome of one successful handler invocation.
type Result struct {
	Skill   string
	Handler string
	Output  json.RawMessage
}

// fireKey identifies one schedule trigger's independent clock.
type fireKey struct {
	skill string
	raw   string
}

// Dispatcher fans trigger firings out to skill handlers. One invocation per
// firing; handler failures are logged and never stop sibling skills from
// running.
type Dispatcher struct {
	registry *skills.Registry
	services *host.Services
	runner   *sandbox.Runner

	mu        sync.Mutex
	funcs     map[string]map[string]HandlerFunc
	lastFired map[fireKey]time.Time

	now func() time.Time
}

// NewDispatcher wires a dispatcher to the registry. It installs itself as
// the registry's event invoker so bus-published events reach on_event
// handlers.
func NewDispatcher(registry *skills.Registry, services *host.Services, runner *sandbox.Runner) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		services:  services,
		runner:    runner,
		funcs:     make(map[string]map[string]HandlerFunc),
		lastFired: make(map[fireKey]time.Time),
		now:       time.Now,
	}
	registry.SetEventInvoker(d.invokeEvent)
	return d
}

// RegisterFunc installs a trusted in-process handler for a skill. It takes
// precedence over a script handler with the same key unless the skill's
// manifest marks it isolated.
func (d *Dispatcher) RegisterFunc(skillName, handlerKey string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.funcs[skillName] == nil {
		d.funcs[skillName] = make(map[string]HandlerFunc)
	}
	d.funcs[skillName][handlerKey] = fn
}

// MatchAsk runs the on_ask handler of every enabled skill whose trigger
// matches the question text. Each skill fires at most once per question,
// on its first matching trigger in declaration order.
func (d *Dispatcher) MatchAsk(ctx context.Context, text string) []Result {
	var results []Result
	for _, skill := range d.registry.Skills() {
		if !skill.Enabled {
			continue
		}
		for _, trigger := range skill.AskTriggers() {
			if !trigger.MatchesAsk(text) {
				continue
			}
			inv := skills.Invocation{
				ID:      uuid.NewString(),
				Handler: skills.HandlerAsk,
				Text:    text,
			}
			if res, ok := d.invoke(ctx, skill, skills.HandlerAsk, inv); ok {
				results = append(results, res)
			}
			break
		}
	}
	return results
}

// HandleEvent runs the on_event handler of every enabled skill with a
// trigger matching the event type exactly. It returns the number of skills
// invoked.
func (d *Dispatcher) HandleEvent(ctx context.Context, eventType string, payload any) int {
	invoked := 0
	for _, skill := range d.registry.Skills() {
		if !skill.Enabled {
			continue
		}
		for _, trigger := range skill.EventTriggers() {
			if !trigger.MatchesEvent(eventType) {
				continue
			}
			d.invokeEvent(ctx, skill, eventType, payload)
			invoked++
			break
		}
	}
	return invoked
}

// invokeEvent is installed on the registry as its event invoker, so skills
// publishing to the bus reach subscribers through the same path.
func (d *Dispatcher) invokeEvent(ctx context.Context, skill *skills.Skill, eventType string, payload any) {
	if !skill.Enabled {
		return
	}
	inv := skills.Invocation{
		ID:      uuid.NewString(),
		Handler: skills.HandlerEvent,
		Event:   eventType,
		Payload: payload,
	}
	d.invoke(ctx, skill, skills.HandlerEvent, inv)
}

// Tick advances every schedule trigger's clock and fires the ones that are
// due. Each (skill, trigger) pair keeps its own last-fired stamp; a trigger
// whose interval could not be resolved never fires.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.now()
	for _, skill := range d.registry.Skills() {
		if !skill.Enabled {
			continue
		}
		for _, trigger := range skill.ScheduleTriggers() {
			if trigger.Interval <= 0 {
				continue
			}
			key := fireKey{skill: skill.Name, raw: trigger.Raw}
			d.mu.Lock()
			last, seen := d.lastFired[key]
			due := !seen || now.Sub(last) >= trigger.Interval
			if due {
				d.lastFired[key] = now
			}
			d.mu.Unlock()
			if !due {
				continue
			}
			inv := skills.Invocation{
				ID:      uuid.NewString(),
				Handler: skills.HandlerSchedule,
			}
			d.invoke(ctx, skill, skills.HandlerSchedule, inv)
		}
	}
}

// Run ticks the schedule clock at the given resolution until the context
// is cancelled.
func (d *Dispatcher) Run(ctx context.Context, resolution time.Duration) {
	ticker := time.NewTicker(resolution)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// invoke runs one handler and normalizes its output. In-process handlers
// win for non-isolated skills; everything else goes through the sandbox
// runner. Failures are logged and reported as a missing result.
func (d *Dispatcher) invoke(ctx context.Context, skill *skills.Skill, handlerKey string, inv skills.Invocation) (Result, bool) {
	log := logger.G(ctx).
		WithField("skill", skill.Name).
		WithField("handler", handlerKey).
		WithField("invocation", inv.ID)

	output, err := d.run(ctx, skill, handlerKey, inv)
	if err != nil {
		log.WithError(err).Error("handler invocation failed")
		return Result{}, false
	}
	log.Debug("handler invocation complete")
	return Result{Skill: skill.Name, Handler: handlerKey, Output: output}, true
}

func (d *Dispatcher) run(ctx context.Context, skill *skills.Skill, handlerKey string, inv skills.Invocation) (json.RawMessage, error) {
	if fn := d.trustedFunc(skill, handlerKey); fn != nil {
		return d.runInProcess(ctx, skill, fn, inv)
	}
	if d.runner == nil {
		return nil, errors.Errorf("skill %q has no registered %s handler", skill.Name, handlerKey)
	}
	return d.runner.Invoke(ctx, skill, handlerKey, inv)
}

// trustedFunc returns the registered in-process handler, or nil when the
// skill must run sandboxed.
func (d *Dispatcher) trustedFunc(skill *skills.Skill, handlerKey string) HandlerFunc {
	if skill.Isolated {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.funcs[skill.Name][handlerKey]
}

func (d *Dispatcher) runInProcess(ctx context.Context, skill *skills.Skill, fn HandlerFunc, inv skills.Invocation) (output json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panicked: %v", r)
		}
	}()

	capctx := capability.NewContext(skill.Name, skill.Permissions, d.services)
	value, err := fn(ctx, capctx, inv)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling handler result")
	}
	return raw, nil
}
