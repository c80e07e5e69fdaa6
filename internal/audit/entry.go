package audit

import "github.com/buildgate/buildgate/internal/model"

// Entry is one line in the hash-chained JSONL audit log.
// All fields are flat typed values (no map[string]any) so json.Marshal
// field order is deterministic and hashing is reproducible.
type Entry struct {
	Timestamp     string         `json:"ts"`
	CorrelationID string         `json:"correlation_id"`
	Client        string         `json:"client"`
	Tool          string         `json:"tool"`
	Resource      string         `json:"resource,omitempty"`
	Decision      model.Decision `json:"decision"`
	Kind          model.Kind     `json:"kind,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	ConfigHash    string         `json:"config_hash"`
	PrevHash      string         `json:"prev_hash"`
}
