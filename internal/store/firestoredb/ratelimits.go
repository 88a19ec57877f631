package firestoredb

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/store"
)

// UpdateWindow runs fn against the stored window in a transaction; concurrent
// callers on the same key are serialized by Firestore's optimistic retries.
func (s *Store) UpdateWindow(ctx context.Context, key string, fn store.WindowFunc) error {
	ref := s.windows().Doc(windowDocID(key))
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current *domain.RateLimitWindow
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var w domain.RateLimitWindow
			if err := snap.DataTo(&w); err != nil {
				return fmt.Errorf("failed to decode window %s: %w", key, err)
			}
			w.Key = key
			current = &w
		case isNotFound(err):
		default:
			return err
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		return tx.Set(ref, next)
	})
}

// DeleteStaleWindows deletes windows idle since before cutoff, committing each
// group of at most batchSize deletes in its own transaction.
func (s *Store) DeleteStaleWindows(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	snaps, err := s.windows().Where("lastRequest", "<", cutoff).Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("failed to list stale windows: %w", err)
	}
	if batchSize <= 0 || batchSize > store.MaxWriteGroup {
		batchSize = store.MaxWriteGroup
	}

	deleted := 0
	for start := 0; start < len(snaps); start += batchSize {
		end := start + batchSize
		if end > len(snaps) {
			end = len(snaps)
		}
		group := snaps[start:end]
		err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			for _, snap := range group {
				if err := tx.Delete(snap.Ref); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete stale windows: %w", err)
		}
		deleted += len(group)
	}
	return deleted, nil
}

func (s *Store) RecordAlert(ctx context.Context, alert *domain.SecurityAlert) error {
	ref := s.alerts().NewDoc()
	if alert.ID != "" {
		ref = s.alerts().Doc(alert.ID)
	}
	if _, err := ref.Create(ctx, alert); err != nil {
		return fmt.Errorf("failed to record security alert: %w", err)
	}
	alert.ID = ref.ID
	return nil
}
