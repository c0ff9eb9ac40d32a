package capability

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/stewardhq/steward/pkg/logger"
	"github.com/stewardhq/steward/pkg/skills"
	"github.com/stewardhq/steward/pkg/types/host"
)

// Context is the capability-gated façade over host services handed to one
// skill invocation. It is created fresh per invocation, holds no durable
// state, and is discarded when the invocation returns.
type Context struct {
	skill    string
	perms    skills.PermissionSet
	services *host.Services

	// integrations authenticated during this invocation; the cache dies
	// with the context.
	authed map[string]host.IntegrationClient
}

// NewContext builds a context for one invocation of one skill.
func NewContext(skill string, perms skills.PermissionSet, services *host.Services) *Context {
	return &Context{
		skill:    skill,
		perms:    perms,
		services: services,
		authed:   make(map[string]host.IntegrationClient),
	}
}

// Skill returns the invoking skill's name.
func (c *Context) Skill() string {
	return c.skill
}

// HasCapability reports whether the invoking skill holds a capability token.
// The sandbox bridge uses this to check permissions before spending budget.
func (c *Context) HasCapability(token string) bool {
	return c.perms.Has(token)
}

// check enforces the operation->capability table before any side effect.
func (c *Context) check(op string) error {
	token, unconditional, ok := RequiredCapability(op)
	if !ok {
		return errors.Wrap(ErrUnknownOperation, op)
	}
	if unconditional || c.perms.Has(token) {
		return nil
	}
	return &PermissionDeniedError{Skill: c.skill, Capability: token, Operation: op}
}

// SearchMemory queries the structured knowledge/memory store.
func (c *Context) SearchMemory(ctx context.Context, query string, limit int) ([]host.Document, error) {
	if err := c.check(OpMemorySearch); err != nil {
		return nil, err
	}
	if c.services.Memory == nil {
		return nil, errors.New("memory store is not configured")
	}
	return c.services.Memory.Search(ctx, query, limit)
}

// StoreMemory writes a document to the knowledge/memory store.
func (c *Context) StoreMemory(ctx context.Context, doc host.Document) (string, error) {
	if err := c.check(OpMemoryStore); err != nil {
		return "", err
	}
	if c.services.Memory == nil {
		return "", errors.New("memory store is not configured")
	}
	return c.services.Memory.Store(ctx, doc)
}

// Notify sends a user-facing notification.
func (c *Context) Notify(ctx context.Context, title, message string) error {
	if err := c.check(OpNotify); err != nil {
		return err
	}
	if c.services.Notifier == nil {
		return errors.New("notifier is not configured")
	}
	return c.services.Notifier.Notify(ctx, title, message)
}

// ProposeAction submits an action awaiting user approval.
func (c *Context) ProposeAction(ctx context.Context, action string, params map[string]any) (string, error) {
	if err := c.check(OpProposeAction); err != nil {
		return "", err
	}
	if c.services.Actions == nil {
		return "", errors.New("action sink is not configured")
	}
	return c.services.Actions.Propose(ctx, c.skill, action, params)
}

// GetValue reads from the skill's namespaced durable storage. ok=false means
// the key is absent.
func (c *Context) GetValue(ctx context.Context, key string) (string, bool, error) {
	if err := c.check(OpStorageGet); err != nil {
		return "", false, err
	}
	if c.services.Storage == nil {
		return "", false, errors.New("storage is not configured")
	}
	return c.services.Storage.Get(ctx, c.skill, key)
}

// SetValue writes to the skill's namespaced durable storage.
func (c *Context) SetValue(ctx context.Context, key, value string) error {
	if err := c.check(OpStorageSet); err != nil {
		return err
	}
	if c.services.Storage == nil {
		return errors.New("storage is not configured")
	}
	return c.services.Storage.Set(ctx, c.skill, key, value)
}

// DeleteValue removes a key from the skill's namespaced durable storage.
func (c *Context) DeleteValue(ctx context.Context, key string) error {
	if err := c.check(OpStorageDelete); err != nil {
		return err
	}
	if c.services.Storage == nil {
		return errors.New("storage is not configured")
	}
	return c.services.Storage.Delete(ctx, c.skill, key)
}

// ListValues returns all keys and values in the skill's namespace.
func (c *Context) ListValues(ctx context.Context) (map[string]string, error) {
	if err := c.check(OpStorageList); err != nil {
		return nil, err
	}
	if c.services.Storage == nil {
		return nil, errors.New("storage is not configured")
	}
	return c.services.Storage.List(ctx, c.skill)
}

// Integration returns a named integration client, authenticating it lazily
// on first use. The authenticated client is cached only for this
// invocation's lifetime.
func (c *Context) Integration(ctx context.Context, name string) (host.IntegrationClient, error) {
	if err := c.check(OpIntegrationGet); err != nil {
		return nil, err
	}
	if client, ok := c.authed[name]; ok {
		return client, nil
	}
	client, ok := c.services.Integrations[name]
	if !ok {
		return nil, errors.Errorf("integration %q is not configured", name)
	}
	if err := client.Authenticate(ctx); err != nil {
		return nil, errors.Wrapf(err, "failed to authenticate integration %q", name)
	}
	c.authed[name] = client
	return client, nil
}

// Complete sends a completion request down the host's LLM path.
func (c *Context) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.check(OpLLMComplete); err != nil {
		return "", err
	}
	if c.services.LLM == nil {
		return "", errors.New("llm request path is not configured")
	}
	return c.services.LLM.Complete(ctx, prompt)
}

// PublishEvent emits an event on the host-wide bus.
func (c *Context) PublishEvent(ctx context.Context, eventType string, payload any) error {
	if err := c.check(OpPublishEvent); err != nil {
		return err
	}
	if c.services.Bus == nil {
		return errors.New("event bus is not configured")
	}
	return c.services.Bus.Emit(ctx, eventType, payload)
}

// Log writes a skill-attributed log line. Always allowed.
func (c *Context) Log(ctx context.Context, level, message string) {
	entry := logger.G(ctx).WithField("skill", c.skill)
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	entry.Log(parsed, message)
}
