package skills

import (
	"bytes"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"

	"github.com/stewardhq/steward/pkg/version"
)

// ManifestFileName is the manifest document each skill directory carries.
// The YAML frontmatter is the manifest mapping; the body holds human-facing
// instructions and is ignored by the host.
const ManifestFileName = "SKILL.md"

// Manifest is one skill's validated descriptor. Immutable after parsing.
type Manifest struct {
	Name         string            `mapstructure:"name"`
	Version      string            `mapstructure:"version"`
	Description  string            `mapstructure:"description"`
	Author       string            `mapstructure:"author"`
	Category     string            `mapstructure:"category"`
	MinVersion   string            `mapstructure:"min_version"`
	Isolated     bool              `mapstructure:"isolated"`
	Permissions  PermissionSet     `mapstructure:"-"`
	Handlers     map[string]string `mapstructure:"handlers"`
	Dependencies []string          `mapstructure:"dependencies"`
	Triggers     []Trigger         `mapstructure:"-"`

	// Directory is the skill's source directory, set at discovery time.
	Directory string `mapstructure:"-"`
}

// rawManifest mirrors the frontmatter shape before trigger and permission
// conversion.
type rawManifest struct {
	Name         string              `mapstructure:"name"`
	Version      string              `mapstructure:"version"`
	Description  string              `mapstructure:"description"`
	Author       string              `mapstructure:"author"`
	Category     string              `mapstructure:"category"`
	MinVersion   string              `mapstructure:"min_version"`
	Isolated     bool                `mapstructure:"isolated"`
	Triggers     []map[string]string `mapstructure:"triggers"`
	Permissions  []string            `mapstructure:"permissions"`
	Handlers     map[string]string   `mapstructure:"handlers"`
	Dependencies []string            `mapstructure:"dependencies"`
}

// ParseManifest parses one skill's manifest document. Callers (discovery)
// log and skip on error; parsing never aborts a scan.
func ParseManifest(content []byte) (*Manifest, error) {
	md := goldmark.New(goldmark.WithExtensions(meta.Meta))

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest document")
	}

	mapping, err := meta.TryGet(pctx)
	if err != nil {
		return nil, errors.Wrap(err, "manifest frontmatter is not a mapping")
	}
	if mapping == nil {
		return nil, errors.New("manifest frontmatter is missing")
	}

	var raw rawManifest
	if err := mapstructure.Decode(mapping, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode manifest fields")
	}

	if raw.Name == "" {
		return nil, errors.New("skill name is required")
	}
	if raw.MinVersion != "" && !version.AtLeast(raw.MinVersion) {
		return nil, errors.Errorf("skill %q requires host version >= %s (running %s)", raw.Name, raw.MinVersion, version.Version)
	}

	triggers := make([]Trigger, 0, len(raw.Triggers))
	for _, entry := range raw.Triggers {
		if len(entry) != 1 {
			return nil, errors.Errorf("skill %q has a trigger entry with %d keys, want exactly one", raw.Name, len(entry))
		}
		for kind, value := range entry {
			trigger, err := ParseTrigger(kind, value)
			if err != nil {
				return nil, errors.Wrapf(err, "skill %q", raw.Name)
			}
			triggers = append(triggers, trigger)
		}
	}

	handlers := raw.Handlers
	if handlers == nil {
		handlers = map[string]string{}
	}

	return &Manifest{
		Name:         raw.Name,
		Version:      raw.Version,
		Description:  raw.Description,
		Author:       raw.Author,
		Category:     raw.Category,
		MinVersion:   raw.MinVersion,
		Isolated:     raw.Isolated,
		Permissions:  NewPermissionSet(raw.Permissions),
		Handlers:     handlers,
		Dependencies: raw.Dependencies,
		Triggers:     triggers,
	}, nil
}

// LoadManifest reads and parses the manifest document in a skill directory.
func LoadManifest(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read manifest")
	}
	return ParseManifest(content)
}

// AskTriggers returns the skill's on_ask triggers in declaration order.
func (m *Manifest) AskTriggers() []Trigger {
	return m.triggersOfKind(KindAsk)
}

// ScheduleTriggers returns the skill's schedule triggers in declaration order.
func (m *Manifest) ScheduleTriggers() []Trigger {
	return m.triggersOfKind(KindSchedule)
}

// EventTriggers returns the skill's on_event triggers in declaration order.
func (m *Manifest) EventTriggers() []Trigger {
	return m.triggersOfKind(KindEvent)
}

func (m *Manifest) triggersOfKind(kind TriggerKind) []Trigger {
	var out []Trigger
	for _, t := range m.Triggers {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}
