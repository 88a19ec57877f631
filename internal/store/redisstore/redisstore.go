// Package redisstore keeps rate-limit windows and security alerts in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	windowPrefix = store.CollectionRateLimits + ":"
	alertsKey    = store.CollectionSecurityAlerts
	maxTxRetries = 20
	scanCount    = 200
)

// Store implements store.WindowStore and store.AlertSink.
type Store struct {
	client *redis.Client
	// ttl expires idle windows on the server in addition to the scheduled cleanup.
	ttl time.Duration
}

var (
	_ store.WindowStore = (*Store)(nil)
	_ store.AlertSink   = (*Store)(nil)
)

// New returns a store; ttl <= 0 disables key expiry.
func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// UpdateWindow applies fn under WATCH so that a concurrent writer to the same
// key aborts the transaction, which is then retried.
func (s *Store) UpdateWindow(ctx context.Context, key string, fn store.WindowFunc) error {
	rkey := windowPrefix + key
	txf := func(tx *redis.Tx) error {
		var current *domain.RateLimitWindow
		raw, err := tx.Get(ctx, rkey).Bytes()
		switch {
		case err == nil:
			var w domain.RateLimitWindow
			if err := json.Unmarshal(raw, &w); err != nil {
				return fmt.Errorf("failed to decode window %s: %w", key, err)
			}
			w.Key = key
			current = &w
		case errors.Is(err, redis.Nil):
		default:
			return err
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		next.Key = key
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode window %s: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, encoded, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, rkey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("rate limit window %s: too much contention", key)
}

// DeleteStaleWindows scans the window keys and deletes those idle since
// before cutoff, batchSize keys per DEL.
func (s *Store) DeleteStaleWindows(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = store.MaxWriteGroup
	}
	var (
		stale   []string
		deleted int
	)
	flush := func() error {
		if len(stale) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, stale...).Result()
		if err != nil {
			return fmt.Errorf("failed to delete stale windows: %w", err)
		}
		deleted += int(n)
		stale = stale[:0]
		return nil
	}

	iter := s.client.Scan(ctx, 0, windowPrefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		rkey := iter.Val()
		raw, err := s.client.Get(ctx, rkey).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("failed to read window: %w", err)
		}
		var w domain.RateLimitWindow
		if err := json.Unmarshal(raw, &w); err != nil || w.LastRequest.Before(cutoff) {
			stale = append(stale, rkey)
		}
		if len(stale) >= batchSize {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan windows: %w", err)
	}
	return deleted, flush()
}

// RecordAlert pushes the alert onto a capped list, newest first.
func (s *Store) RecordAlert(ctx context.Context, alert *domain.SecurityAlert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	encoded, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode security alert: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, alertsKey, encoded)
		pipe.LTrim(ctx, alertsKey, 0, 9999)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record security alert: %w", err)
	}
	return nil
}

// Alerts returns up to limit alerts, newest first.
func (s *Store) Alerts(ctx context.Context, limit int64) ([]domain.SecurityAlert, error) {
	raws, err := s.client.LRange(ctx, alertsKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list security alerts: %w", err)
	}
	alerts := make([]domain.SecurityAlert, 0, len(raws))
	for _, raw := range raws {
		var a domain.SecurityAlert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("failed to decode security alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
