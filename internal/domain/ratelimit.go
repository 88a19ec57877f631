package domain

import "time"

// RateLimitScope selects which request attributes a window is keyed by.
type RateLimitScope string

const (
	ScopeUser RateLimitScope = "user"
	ScopeIP   RateLimitScope = "ip"
	ScopeBoth RateLimitScope = "both"
)

func (s RateLimitScope) IsValid() bool {
	switch s {
	case ScopeUser, ScopeIP, ScopeBoth:
		return true
	}
	return false
}

// Rate-limited operations.
const (
	OpCreateSubmission  = "create_submission"
	OpUpdateSubmission  = "update_submission"
	OpArchiveSubmission = "archive_submission"
	OpQuerySubmissions  = "query_submissions"
	OpBulkOperation     = "bulk_operation"
)

// RateLimit is the admission policy of one operation.
type RateLimit struct {
	MaxRequests int
	Window      time.Duration
	Scope       RateLimitScope
}

// DefaultRateLimits returns the built-in per-operation limits.
func DefaultRateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		OpCreateSubmission:  {MaxRequests: 60, Window: time.Hour, Scope: ScopeUser},
		OpUpdateSubmission:  {MaxRequests: 120, Window: time.Hour, Scope: ScopeUser},
		OpArchiveSubmission: {MaxRequests: 120, Window: time.Hour, Scope: ScopeUser},
		OpQuerySubmissions:  {MaxRequests: 600, Window: time.Hour, Scope: ScopeUser},
		OpBulkOperation:     {MaxRequests: 10, Window: time.Hour, Scope: ScopeBoth},
	}
}

// RequestEntry is one admitted request inside a window.
type RequestEntry struct {
	Timestamp time.Time `firestore:"timestamp" json:"timestamp"`
	Attribute string    `firestore:"ip" json:"ip"`
}

// RateLimitWindow is the request log stored under a scoped key.
type RateLimitWindow struct {
	Key          string         `firestore:"-" json:"key"`
	Operation    string         `firestore:"operation" json:"operation"`
	Requests     []RequestEntry `firestore:"requests" json:"requests"`
	FirstRequest time.Time      `firestore:"firstRequest" json:"firstRequest"`
	LastRequest  time.Time      `firestore:"lastRequest" json:"lastRequest"`
}

const (
	AlertSuspiciousRateLimit = "suspicious_rate_limit"
	SeverityHigh             = "high"
)

// SecurityAlert records a suspected spoofing pattern.
type SecurityAlert struct {
	ID                   string    `firestore:"-" json:"id"`
	Type                 string    `firestore:"type" json:"type"`
	Severity             string    `firestore:"severity" json:"severity"`
	UserID               string    `firestore:"userId" json:"userId"`
	Operation            string    `firestore:"operation" json:"operation"`
	SuspiciousAttributes []string  `firestore:"suspiciousIPs" json:"suspiciousIPs"`
	Description          string    `firestore:"description" json:"description"`
	Timestamp            time.Time `firestore:"timestamp" json:"timestamp"`
}
