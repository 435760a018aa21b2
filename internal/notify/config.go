package notify

import "slices"

// Payload formats.
const (
	FormatGeneric   = "generic"
	FormatSlack     = "slack"
	FormatPagerDuty = "pagerduty"
)

// WebhookConfig defines a webhook alert destination.
type WebhookConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"`
	Events  []string          `yaml:"events"  json:"events"` // empty matches every event type
	Headers map[string]string `yaml:"headers" json:"headers"`
	// RoutingKey is the PagerDuty integration key.
	RoutingKey string `yaml:"routing_key" json:"routing_key,omitempty"`
}

// matches reports whether ev should go to this destination. Entries may
// name an event type or a decision.
func (c WebhookConfig) matches(ev Event) bool {
	if len(c.Events) == 0 {
		return true
	}
	return slices.ContainsFunc(c.Events, func(e string) bool {
		return e == string(ev.Type) || (ev.Decision != "" && e == string(ev.Decision))
	})
}
