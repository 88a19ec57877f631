package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

type windowRow struct {
	Key          string         `db:"key"`
	Operation    string         `db:"operation"`
	Requests     types.JSONText `db:"requests"`
	FirstRequest *time.Time     `db:"first_request"`
	LastRequest  *time.Time     `db:"last_request"`
}

// UpdateWindow serializes callers on the key's row. A placeholder row is
// inserted first so that the very first requests also contend on a lock.
func (s *Store) UpdateWindow(ctx context.Context, key string, fn store.WindowFunc) error {
	return s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rate_limits (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, key); err != nil {
			return err
		}
		var row windowRow
		if err := tx.GetContext(ctx, &row,
			`SELECT key, operation, requests, first_request, last_request FROM rate_limits WHERE key = $1 FOR UPDATE`, key); err != nil {
			return err
		}

		var current *domain.RateLimitWindow
		if row.LastRequest != nil {
			current = &domain.RateLimitWindow{
				Key:          key,
				Operation:    row.Operation,
				FirstRequest: row.FirstRequest.UTC(),
				LastRequest:  row.LastRequest.UTC(),
			}
			if err := fromJSON(row.Requests, &current.Requests); err != nil {
				return err
			}
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		requests := next.Requests
		if requests == nil {
			requests = []domain.RequestEntry{}
		}
		rj, err := toJSON(requests)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE rate_limits
			SET operation = $2, requests = $3, first_request = $4, last_request = $5
			WHERE key = $1`,
			key, next.Operation, rj, next.FirstRequest, next.LastRequest)
		return err
	})
}

// DeleteStaleWindows deletes idle windows and orphaned placeholders in batches.
func (s *Store) DeleteStaleWindows(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = store.MaxWriteGroup
	}
	total := 0
	for {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM rate_limits WHERE key IN (
				SELECT key FROM rate_limits
				WHERE last_request < $1 OR last_request IS NULL
				LIMIT $2
			)`, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to delete stale windows: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to delete stale windows: %w", err)
		}
		total += int(n)
		if int(n) < batchSize {
			return total, nil
		}
	}
}

func (s *Store) RecordAlert(ctx context.Context, alert *domain.SecurityAlert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	ips := alert.SuspiciousAttributes
	if ips == nil {
		ips = []string{}
	}
	ij, err := toJSON(ips)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_alerts (id, type, severity, user_id, operation, suspicious_ips, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		alert.ID, alert.Type, alert.Severity, alert.UserID, alert.Operation, ij, alert.Description, alert.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record security alert: %w", err)
	}
	return nil
}
