// Package postgres implements the store capabilities on PostgreSQL with sqlx.
// Nested documents are kept in JSONB columns.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/questionnaire-be/internal/store"
	"github.com/cuongbtq/questionnaire-be/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

//go:embed schema.sql
var schema string

type Store struct {
	pg *postgresql.Client
	db *sqlx.DB
}

var _ store.Backend = (*Store)(nil)

func New(pg *postgresql.Client) *Store {
	return &Store{pg: pg, db: pg.DB()}
}

// Migrate creates the tables and indexes when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.pg.Migrate(ctx, schema)
}

func toJSON(v interface{}) (types.JSONText, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON column: %w", err)
	}
	return types.JSONText(raw), nil
}

func fromJSON(raw types.JSONText, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := raw.Unmarshal(v); err != nil {
		return fmt.Errorf("failed to decode JSON column: %w", err)
	}
	return nil
}

// args accumulates positional parameters for a hand-built statement.
type args []interface{}

func (a *args) add(v interface{}) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}
