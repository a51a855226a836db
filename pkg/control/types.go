// Package control provides the local HTTP control API for the gatekeeper
// daemon and the client the CLI subcommands use to reach it. The API is
// privileged and binds loopback only.
package control

import (
	"fmt"
	"time"

	"clearpath-hq/gatekeeper/pkg/rule"
	"clearpath-hq/gatekeeper/pkg/rule/store"
)

// AuthorizeRequest is an execution-authorization request from the
// enforcement shim: the vnode key plus the pre-computed identity facts.
type AuthorizeRequest struct {
	Device uint64 `json:"device"`
	Inode  uint64 `json:"inode"`
	Path   string `json:"path"`
	PID    int    `json:"pid"`

	SHA256     string `json:"sha256"`
	CDHash     string `json:"cdhash,omitempty"`
	SigningID  string `json:"signing_id,omitempty"`
	TeamID     string `json:"team_id,omitempty"`
	CertSHA256 string `json:"cert_sha256,omitempty"`

	PlatformBinary       bool `json:"platform_binary,omitempty"`
	CriticalSystemBinary bool `json:"critical_system_binary,omitempty"`
}

// Identity converts the request to the engine's identity form.
func (r AuthorizeRequest) Identity() rule.BinaryIdentity {
	return rule.BinaryIdentity{
		VnodeKey:               rule.VnodeKey{Device: r.Device, Inode: r.Inode},
		Path:                   r.Path,
		ContentHash:            r.SHA256,
		CodeDirectoryHash:      r.CDHash,
		SigningID:              r.SigningID,
		TeamID:                 r.TeamID,
		CertificateHash:        r.CertSHA256,
		IsPlatformBinary:       r.PlatformBinary,
		IsCriticalSystemBinary: r.CriticalSystemBinary,
	}
}

// AuthorizeResponse is the rendered decision.
type AuthorizeResponse struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason"`

	// Message and URL come from the matched rule's custom fields, for the
	// user notification on a block.
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`

	// Notify is false for silent blocks.
	Notify bool `json:"notify"`

	// Cached reports whether the decision came from the cache.
	Cached bool `json:"cached"`
}

// ProcessExitRequest notifies the daemon that a process exited, resolving
// any compiler tracking tied to its PID.
type ProcessExitRequest struct {
	PID int `json:"pid"`
}

// FileCreatedRequest notifies the daemon that a process wrote a file, for
// compiler artifact tracking.
type FileCreatedRequest struct {
	PID    int    `json:"pid"`
	Device uint64 `json:"device"`
	Inode  uint64 `json:"inode"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// CacheCheckResponse is the result of a read-only cache inspection for one
// vnode key.
type CacheCheckResponse struct {
	// Found reports whether the cache holds any state for the key.
	Found bool `json:"found"`

	// Verdict is the cached verdict when Found.
	Verdict string `json:"verdict,omitempty"`

	// Reason is the cached decision's reason when Found.
	Reason string `json:"reason,omitempty"`

	// RuleType and RuleIdentifier name the matched rule, when the cached
	// decision came from one.
	RuleType       string `json:"rule_type,omitempty"`
	RuleIdentifier string `json:"rule_identifier,omitempty"`
}

// FlushResponse reports how many cache entries a flush affected.
type FlushResponse struct {
	Flushed int `json:"flushed"`
}

// AddRulesRequest is a rule sync payload: rules in the exchange format plus
// a cleanup mode applied before insertion.
type AddRulesRequest struct {
	Rules []rule.FileRule `json:"rules"`

	// Cleanup is "none", "all" or "non_transitive". Empty means none.
	Cleanup string `json:"cleanup,omitempty"`
}

// AddRulesResponse reports how many rules were applied.
type AddRulesResponse struct {
	Applied int    `json:"applied"`
	Cleanup string `json:"cleanup"`
}

// LookupRequest carries any subset of a binary's identifiers; the daemon
// tries them in precedence order and returns the first matching rule.
type LookupRequest struct {
	CDHash            string `json:"cdhash,omitempty"`
	BinarySHA256      string `json:"sha256,omitempty"`
	SigningID         string `json:"signing_id,omitempty"`
	CertificateSHA256 string `json:"cert_sha256,omitempty"`
	TeamID            string `json:"team_id,omitempty"`
}

// IdentifierSet converts the request to a store lookup set.
func (r LookupRequest) IdentifierSet() store.IdentifierSet {
	return store.IdentifierSet{
		CDHash:            r.CDHash,
		BinarySHA256:      r.BinarySHA256,
		SigningID:         r.SigningID,
		CertificateSHA256: r.CertificateSHA256,
		TeamID:            r.TeamID,
	}
}

// LookupResponse is the matched rule, in the exchange format.
type LookupResponse struct {
	Found bool           `json:"found"`
	Rule  *rule.FileRule `json:"rule,omitempty"`
}

// StatusResponse is the daemon status summary.
type StatusResponse struct {
	// Mode is the current operating mode.
	Mode string `json:"mode"`

	// WatchMode reports whether configuration hot-reload is active.
	WatchMode bool `json:"watch_mode"`

	// RuleCounts holds per-category rule counts.
	RuleCounts store.Counts `json:"rule_counts"`

	// CacheSize is the number of decision cache entries, committed and in
	// flight.
	CacheSize int `json:"cache_size"`

	// EventCount is the number of recorded decision events, -1 when event
	// recording is disabled.
	EventCount int64 `json:"event_count"`

	// Version identifies the daemon build.
	Version string `json:"version"`

	// StartedAt is when the daemon started.
	StartedAt time.Time `json:"started_at"`

	// UptimeSeconds is derived from StartedAt at response time.
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-2xx control API response surfaced by the client.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("control API error: %s (status %d)", e.Message, e.StatusCode)
}
