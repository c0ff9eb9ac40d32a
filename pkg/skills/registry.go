package skills

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/stewardhq/steward/pkg/events"
	"github.com/stewardhq/steward/pkg/logger"
)

// EventInvoker is the callback the registry installs on the bus for each
// discovered on_event trigger. The dispatcher provides it so bus emissions
// reach skill handlers with the full invocation pipeline (permission
// checking, sandboxing, failure isolation).
type EventInvoker func(ctx context.Context, skill *Skill, eventType string, payload any)

// SkillProvisioner prepares a skill's dependency environment. The registry
// calls it once per newly discovered skill with a non-empty dependency list,
// so environments are ready before the first trigger fires.
type SkillProvisioner func(ctx context.Context, skill *Skill) error

// Registry holds the set of known skills. Discovery scans each configured
// root directory's immediate children for a manifest document; first
// registration wins on name collision. The registry owns its map: accessors
// return copies, and mutation happens synchronously within one event-loop
// turn.
type Registry struct {
	mu        sync.Mutex
	dirs      []string
	bus       *events.Bus
	invoker   EventInvoker
	provision SkillProvisioner

	skills map[string]*Skill
	order  []string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDirs sets the discovery root directories in precedence order
// (built-in skills first, user-writable second).
func WithDirs(dirs ...string) RegistryOption {
	return func(r *Registry) {
		r.dirs = dirs
	}
}

// NewRegistry creates a registry bound to the shared event bus.
func NewRegistry(bus *events.Bus, opts ...RegistryOption) *Registry {
	r := &Registry{
		bus:    bus,
		skills: make(map[string]*Skill),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetEventInvoker installs the dispatch callback used by bus subscriptions
// for on_event triggers. Must be set before Discover wires any skill.
func (r *Registry) SetEventInvoker(invoker EventInvoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoker = invoker
}

// SetProvisioner installs the dependency-environment callback run for each
// newly discovered skill that declares dependencies. Must be set before
// Discover.
func (r *Registry) SetProvisioner(provision SkillProvisioner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provision = provision
}

// Discover scans the configured directories and returns the newly added
// skills. Manifests that fail parsing are logged and skipped; a name that
// collides with an already-registered skill is dropped with a shadowing
// warning. Calling Discover repeatedly registers each skill exactly once.
// Newly added skills with dependencies get their environment provisioned
// before Discover returns; a provisioning failure is logged and never
// blocks registration.
func (r *Registry) Discover(ctx context.Context) []*Skill {
	r.mu.Lock()
	var added []*Skill
	for _, dir := range r.dirs {
		added = append(added, r.discoverDir(ctx, dir)...)
	}
	provision := r.provision
	r.mu.Unlock()

	// Provisioning shells out to pip and can take a while; keep it outside
	// the registry lock so accessors stay responsive.
	if provision != nil {
		for _, skill := range added {
			if len(skill.Dependencies) == 0 {
				continue
			}
			if err := provision(ctx, skill); err != nil {
				logger.G(ctx).WithError(err).WithField("name", skill.Name).
					Warn("failed to provision skill dependencies")
			}
		}
	}
	return added
}

func (r *Registry) discoverDir(ctx context.Context, dir string) []*Skill {
	log := logger.G(ctx).WithField("dir", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warn("failed to read skill directory")
		}
		return nil
	}

	var added []*Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillDir := filepath.Join(dir, entry.Name())

		manifest, err := LoadManifest(filepath.Join(skillDir, ManifestFileName))
		if err != nil {
			if !os.IsNotExist(errors.Cause(err)) {
				log.WithError(err).WithField("skill_dir", skillDir).Warn("rejected skill manifest")
			}
			continue
		}
		manifest.Directory = skillDir

		if existing, ok := r.skills[manifest.Name]; ok {
			if existing.Directory != skillDir {
				log.WithField("name", manifest.Name).
					WithField("registered", existing.Directory).
					WithField("shadowed", skillDir).
					Warn("skill name already registered, ignoring shadowed copy")
			}
			continue
		}

		skill := &Skill{Manifest: *manifest, Enabled: true}
		r.skills[skill.Name] = skill
		r.order = append(r.order, skill.Name)
		r.subscribeEvents(skill)
		added = append(added, skill)

		log.WithField("name", skill.Name).WithField("triggers", len(skill.Triggers)).Debug("registered skill")
	}
	return added
}

// subscribeEvents wires every on_event trigger of a newly discovered skill
// onto the shared bus.
func (r *Registry) subscribeEvents(skill *Skill) {
	if r.bus == nil {
		return
	}
	for _, trigger := range skill.EventTriggers() {
		eventType := trigger.Event
		r.bus.Subscribe(eventType, func(ctx context.Context, payload any) error {
			if r.invoker != nil {
				r.invoker(ctx, skill, eventType, payload)
			}
			return nil
		})
	}
}

// Get returns a copy of the skill with the given name. Mutating the copy
// has no effect on the registry; enabled state changes go through
// SetEnabled.
func (r *Registry) Get(name string) (*Skill, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	skill, ok := r.skills[name]
	if !ok {
		return nil, false
	}
	c := *skill
	return &c, true
}

// Skills returns copies of the registered skills in registration order.
// The manifest inside each copy is shared but immutable after parsing.
func (r *Registry) Skills() []*Skill {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Skill, 0, len(r.order))
	for _, name := range r.order {
		c := *r.skills[name]
		out = append(out, &c)
	}
	return out
}

// SetEnabled toggles a skill's enabled flag. Disabled skills stay registered
// but never dispatch.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	skill, ok := r.skills[name]
	if !ok {
		return false
	}
	skill.Enabled = enabled
	return true
}
