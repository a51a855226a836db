package events

import (
	"time"

	"clearpath-hq/gatekeeper/pkg/rule"
)

// DecisionEvent is one recorded execution decision.
type DecisionEvent struct {
	// ID is a UUID assigned at record time.
	ID string `json:"id"`

	// RequestID correlates the event with the authorization request.
	RequestID string `json:"request_id"`

	// OccurredAt is when the decision was rendered.
	OccurredAt time.Time `json:"occurred_at"`

	// PID is the process that attempted the execution.
	PID int `json:"pid"`

	// Identity facts of the binary.
	Path            string `json:"path"`
	ContentHash     string `json:"sha256"`
	CDHash          string `json:"cdhash,omitempty"`
	SigningID       string `json:"signing_id,omitempty"`
	TeamID          string `json:"team_id,omitempty"`
	CertificateHash string `json:"cert_sha256,omitempty"`

	// Outcome.
	Verdict string          `json:"verdict"`
	Reason  string          `json:"reason"`
	Mode    rule.ClientMode `json:"mode"`

	// Notify is false for silent blocks: the external notifier must skip
	// this event.
	Notify bool `json:"notify"`

	// Message is the matched rule's custom message, if any.
	Message string `json:"message,omitempty"`
}

// Query selects events for listing.
type Query struct {
	// Since limits results to events at or after this time.
	Since time.Time

	// DeniedOnly limits results to deny-class verdicts.
	DeniedOnly bool

	// Limit caps the number of returned events. 0 means the store
	// default.
	Limit int
}
