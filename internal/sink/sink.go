// Package sink fans screening outcomes out to audit destinations. Every
// deny (and, when enabled, every allow) becomes one FlagEvent.
package sink

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FlagEvent is the audit record for one admission decision.
type FlagEvent struct {
	EventID      string   `json:"event_id"`
	TS           string   `json:"ts"` // ISO8601
	EvaluationID string   `json:"evaluation_id,omitempty"`
	LinkUID      string   `json:"link_uid,omitempty"`
	LinkID       string   `json:"link_id,omitempty"`
	ProjectID    string   `json:"project_id,omitempty"`
	Allowed      bool     `json:"allowed"`
	Reason       string   `json:"reason,omitempty"`
	ThreatLevel  string   `json:"threat_level,omitempty"`
	ThreatScore  int      `json:"threat_score"`
	Flags        []string `json:"flags,omitempty"`
	CountryCode  string   `json:"country_code,omitempty"`
	IPHash       string   `json:"ip_hash,omitempty"`
}

// NewFlagEvent stamps identity and timestamp fields.
func NewFlagEvent() FlagEvent {
	return FlagEvent{
		EventID: uuid.NewString(),
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
	}
}

type Sink interface {
	Start(ctx context.Context) error
	Enqueue(e FlagEvent) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}
