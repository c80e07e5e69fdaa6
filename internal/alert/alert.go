package alert

// WebhookConfig defines one webhook alert destination.
type WebhookConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack"
	Events  []string          `yaml:"events"  json:"events"` // ["deny", "timed_out"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp     string `json:"timestamp"`
	CorrelationID string `json:"correlation_id"`
	Client        string `json:"client"`
	Tool          string `json:"tool"`
	Resource      string `json:"resource"`
	Decision      string `json:"decision"`
	Kind          string `json:"kind,omitempty"`
	Reason        string `json:"reason,omitempty"`
	ConfigHash    string `json:"config_hash"`
	Type          string `json:"type,omitempty"` // "timed_out" for execution timeouts
}

// Dispatcher fans out events to matching webhook configurations.
type Dispatcher struct {
	configs []WebhookConfig
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []WebhookConfig) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs}
}

// Dispatch sends the event to all webhooks whose Events list matches.
// Matching is based on event.Decision or event.Type.
// Delivery runs in goroutines and never blocks the caller. Safe on a
// nil Dispatcher.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if matches(cfg.Events, event) {
			go Send(cfg, event)
		}
	}
}

func matches(events []string, event Event) bool {
	for _, e := range events {
		if e == event.Decision {
			return true
		}
		if event.Type != "" && e == event.Type {
			return true
		}
	}
	return false
}
