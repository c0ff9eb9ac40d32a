package skills

import (
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TriggerKind is one of the three stimuli that can fire a skill handler.
type TriggerKind string

// The closed set of trigger kinds. Manifests naming any other kind are
// rejected at parse time.
const (
	KindSchedule TriggerKind = "schedule"
	KindAsk      TriggerKind = "on_ask"
	KindEvent    TriggerKind = "on_event"
)

// Trigger is a tagged variant over the three kinds. Only the fields of the
// active kind are populated.
type Trigger struct {
	Kind TriggerKind
	Raw  string

	// KindSchedule: resolved interval. Zero means the specifier could not
	// be resolved and the trigger is permanently inert.
	Interval time.Duration

	// KindAsk: compiled case-insensitive pattern.
	pattern *regexp.Regexp

	// KindEvent: exact event name.
	Event string
}

// triggerParsers is the dispatch table over the closed kind set.
var triggerParsers = map[TriggerKind]func(raw string) Trigger{
	KindSchedule: parseScheduleTrigger,
	KindAsk:      parseAskTrigger,
	KindEvent:    parseEventTrigger,
}

// ParseTrigger builds a trigger from a manifest entry. Unknown kinds are an
// error, which rejects the whole manifest.
func ParseTrigger(kind, raw string) (Trigger, error) {
	parse, ok := triggerParsers[TriggerKind(kind)]
	if !ok {
		return Trigger{}, errors.Errorf("unknown trigger kind %q", kind)
	}
	return parse(raw), nil
}

// MatchesAsk reports whether an on_ask trigger matches the question text.
func (t Trigger) MatchesAsk(text string) bool {
	return t.Kind == KindAsk && t.pattern != nil && t.pattern.MatchString(text)
}

// MatchesEvent reports whether an on_event trigger matches the event type
// exactly.
func (t Trigger) MatchesEvent(eventType string) bool {
	return t.Kind == KindEvent && t.Event == eventType
}

func parseAskTrigger(raw string) Trigger {
	pattern, err := regexp.Compile("(?i)" + raw)
	if err != nil {
		// Fall back to a literal case-insensitive match so a skill with an
		// unusual pattern still answers questions containing it verbatim.
		pattern = regexp.MustCompile("(?i)" + regexp.QuoteMeta(raw))
	}
	return Trigger{Kind: KindAsk, Raw: raw, pattern: pattern}
}

func parseEventTrigger(raw string) Trigger {
	return Trigger{Kind: KindEvent, Raw: raw, Event: raw}
}

// parseScheduleTrigger resolves interval specifiers like "every 5m", "30s",
// "hourly", or "daily". Unresolvable specifiers resolve to zero and the
// trigger never fires.
func parseScheduleTrigger(raw string) Trigger {
	return Trigger{Kind: KindSchedule, Raw: raw, Interval: resolveInterval(raw)}
}

func resolveInterval(raw string) time.Duration {
	spec := strings.ToLower(strings.TrimSpace(raw))
	spec = strings.TrimSpace(strings.TrimPrefix(spec, "every "))

	switch spec {
	case "minutely":
		return time.Minute
	case "hourly":
		return time.Hour
	case "daily":
		return 24 * time.Hour
	case "weekly":
		return 7 * 24 * time.Hour
	}

	d, err := time.ParseDuration(spec)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
