// Package host defines the interfaces of the host services that the skill
// capability surface delegates to. Concrete mail/calendar clients, LLM
// request paths, and knowledge stores live outside this subsystem; skills
// only ever see these interfaces through a permission-checked context.
package host

import "context"

// Document is one entry in the structured knowledge/memory store.
type Document struct {
	ID      string         `json:"id"`
	Content string         `json:"content"`
	Tags    []string       `json:"tags,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// MemoryStore is the structured knowledge/memory store.
type MemoryStore interface {
	Search(ctx context.Context, query string, limit int) ([]Document, error)
	Store(ctx context.Context, doc Document) (string, error)
}

// KVStore is durable namespaced key-value storage. The namespace is the
// skill name for skill-local storage, or a host-reserved namespace for user
// preferences. Get returns ok=false when the key is absent.
type KVStore interface {
	Get(ctx context.Context, namespace, key string) (value string, ok bool, err error)
	Set(ctx context.Context, namespace, key, value string) error
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) (map[string]string, error)
}

// IntegrationClient is a named external integration (mail, calendar, chat).
// Authenticate is called lazily on first use within an invocation.
type IntegrationClient interface {
	Name() string
	Authenticate(ctx context.Context) error
}

// LLMClient is the host's completion request path.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Notifier delivers user-facing notifications.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// ActionSink receives proposed actions that await user approval.
type ActionSink interface {
	Propose(ctx context.Context, skill, action string, params map[string]any) (id string, err error)
}

// Publisher is the host-wide event publish point.
type Publisher interface {
	Emit(ctx context.Context, eventType string, payload any) error
}

// Services bundles the host-side service references handed to capability
// contexts. Nil fields mean the host does not provide that service; the
// corresponding capability operations fail with a descriptive error.
type Services struct {
	Memory       MemoryStore
	Storage      KVStore
	LLM          LLMClient
	Notifier     Notifier
	Actions      ActionSink
	Bus          Publisher
	Integrations map[string]IntegrationClient
}
