// Package ratelimit admits requests against per-operation sliding windows.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/metrics"
	"github.com/cuongbtq/questionnaire-be/internal/store"
	"github.com/google/uuid"
)

// anomalyShare is the fraction of the limit a single attribute may use before a
// multi-attribute window is treated as spoofing.
const anomalyShare = 0.8

const anonymous = "anonymous"

// Limiter checks and records requests. Windows are read, pruned and appended
// inside one atomic store operation per key.
type Limiter struct {
	windows store.WindowStore
	alerts  store.AlertSink
	limits  map[string]domain.RateLimit
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(windows store.WindowStore, alerts store.AlertSink, limits map[string]domain.RateLimit, logger *slog.Logger, opts ...Option) *Limiter {
	if limits == nil {
		limits = domain.DefaultRateLimits()
	}
	l := &Limiter{
		windows: windows,
		alerts:  alerts,
		limits:  limits,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key builds the scoped window key for an operation.
func Key(op string, scope domain.RateLimitScope, uid, attribute string) string {
	if uid == "" {
		uid = anonymous
	}
	if attribute == "" {
		attribute = "unknown"
	}
	switch scope {
	case domain.ScopeIP:
		return fmt.Sprintf("%s:ip:%s", op, attribute)
	case domain.ScopeBoth:
		return fmt.Sprintf("%s:%s:%s", op, uid, attribute)
	default:
		return fmt.Sprintf("%s:user:%s", op, uid)
	}
}

// Check reports whether the request may proceed and records it when it may.
// Unknown operations are always allowed. Store errors deny the request.
func (l *Limiter) Check(ctx context.Context, id domain.Identity, op string) (bool, error) {
	limit, ok := l.limits[op]
	if !ok {
		return true, nil
	}

	now := l.now()
	key := Key(op, limit.Scope, id.UID, id.Attribute)
	windowStart := now.Add(-limit.Window)

	var (
		allowed    bool
		suspicious []string
	)
	err := l.windows.UpdateWindow(ctx, key, func(current *domain.RateLimitWindow) (*domain.RateLimitWindow, error) {
		allowed, suspicious = false, nil

		var inWindow []domain.RequestEntry
		if current != nil {
			for _, r := range current.Requests {
				if r.Timestamp.After(windowStart) {
					inWindow = append(inWindow, r)
				}
			}
		}

		suspicious = suspiciousAttributes(inWindow, limit.MaxRequests)
		if len(suspicious) > 0 {
			return nil, nil
		}
		if len(inWindow) >= limit.MaxRequests {
			return nil, nil
		}

		allowed = true
		next := &domain.RateLimitWindow{
			Key:         key,
			Operation:   op,
			Requests:    append(inWindow, domain.RequestEntry{Timestamp: now, Attribute: id.Attribute}),
			LastRequest: now,
		}
		next.FirstRequest = next.Requests[0].Timestamp
		return next, nil
	})
	if err != nil {
		l.logger.Error("Rate limit check failed, denying request",
			slog.String("operation", op),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		metrics.RecordRateLimitDecision(op, "error")
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if len(suspicious) > 0 {
		l.raiseAlert(ctx, id.UID, op, suspicious, now)
		metrics.RecordRateLimitDecision(op, "suspicious")
		return false, nil
	}

	if allowed {
		metrics.RecordRateLimitDecision(op, "allowed")
	} else {
		l.logger.Warn("Rate limit exceeded",
			slog.String("operation", op),
			slog.String("key", key),
			slog.Int("max_requests", limit.MaxRequests),
		)
		metrics.RecordRateLimitDecision(op, "denied")
	}
	return allowed, nil
}

// Allow is Check expressed as an error: denials and failures both yield a
// resource-exhausted domain error.
func (l *Limiter) Allow(ctx context.Context, id domain.Identity, op string) error {
	allowed, err := l.Check(ctx, id, op)
	if err != nil || !allowed {
		return domain.ResourceExhausted("rate limit exceeded for %s, try again later", op)
	}
	return nil
}

// Cleanup deletes windows idle for longer than the longest configured window.
func (l *Limiter) Cleanup(ctx context.Context) (int, error) {
	var longest time.Duration
	for _, limit := range l.limits {
		if limit.Window > longest {
			longest = limit.Window
		}
	}
	cutoff := l.now().Add(-longest)

	deleted, err := l.windows.DeleteStaleWindows(ctx, cutoff, store.MaxWriteGroup)
	if err != nil {
		return deleted, fmt.Errorf("failed to delete stale rate limit windows: %w", err)
	}

	l.logger.Info("Rate limit cleanup finished",
		slog.Int("deleted", deleted),
		slog.Time("cutoff", cutoff),
	)
	return deleted, nil
}

func (l *Limiter) raiseAlert(ctx context.Context, uid, op string, attrs []string, now time.Time) {
	alert := &domain.SecurityAlert{
		ID:                   uuid.New().String(),
		Type:                 domain.AlertSuspiciousRateLimit,
		Severity:             domain.SeverityHigh,
		UserID:               uid,
		Operation:            op,
		SuspiciousAttributes: attrs,
		Description:          fmt.Sprintf("User %s made excessive %s requests from attributes %s", uid, op, strings.Join(attrs, ", ")),
		Timestamp:            now,
	}

	l.logger.Warn("Suspicious rate limit pattern detected",
		slog.String("user_id", uid),
		slog.String("operation", op),
		slog.Any("attributes", attrs),
	)

	if l.alerts == nil {
		return
	}
	if err := l.alerts.RecordAlert(ctx, alert); err != nil {
		l.logger.Error("Failed to record security alert",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
}

// suspiciousAttributes returns the attributes that exceed their share of the
// limit, when the window spans at least two distinct attributes.
func suspiciousAttributes(entries []domain.RequestEntry, max int) []string {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Attribute]++
	}
	// A single attribute hitting its own limit is ordinary exhaustion, not an
	// anomaly; without this a plain 11th-of-10 request would also raise an alert.
	if len(counts) < 2 {
		return nil
	}

	threshold := float64(max) * anomalyShare
	var out []string
	for attr, n := range counts {
		if float64(n) > threshold {
			out = append(out, attr)
		}
	}
	sort.Strings(out)
	return out
}
