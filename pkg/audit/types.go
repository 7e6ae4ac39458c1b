// Package audit records authorization decisions for compliance
// logging and intrusion detection.
package audit

import "time"

// Decision is the outcome of an authorization check.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Event is one recorded authorization decision. The guard emits an
// event on every denial and on allowed mutating operations.
type Event struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Actor
	ActorID   string `json:"actor_id,omitempty"`
	ActorRole string `json:"actor_role,omitempty"`

	// Target
	ResourceID string `json:"resource_id,omitempty"`
	Path       string `json:"path"`
	Method     string `json:"method"`

	// Outcome
	Decision Decision `json:"decision"`
	Check    string   `json:"check"`          // which guard check decided
	Code     string   `json:"code,omitempty"` // e.g. REAUTH_REQUIRED
	Message  string   `json:"message,omitempty"`

	// Permission levels, where a resolver was involved.
	RequiredLevel  *int `json:"required_level,omitempty"`
	EffectiveLevel *int `json:"effective_level,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
}
