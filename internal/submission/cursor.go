package submission

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/store"
)

const cursorVersion = 1

// Fingerprint identifies the filter and sort a page token was issued for.
type Fingerprint struct {
	UserID        string `json:"userId,omitempty"`
	Status        string `json:"status,omitempty"`
	TemplateID    string `json:"templateId,omitempty"`
	SortField     string `json:"sortField"`
	SortDirection string `json:"sortDirection"`
}

type cursorPosition struct {
	SortValue *time.Time `json:"sv,omitempty"`
	CreatedAt time.Time  `json:"ca"`
	ID        string     `json:"id"`
}

type pageCursor struct {
	Version     int            `json:"v"`
	Fingerprint Fingerprint    `json:"fp"`
	PageSize    int            `json:"ps"`
	After       cursorPosition `json:"after"`
}

// EncodeCursor returns an opaque page token resuming after pos.
func EncodeCursor(fp Fingerprint, pageSize int, pos store.Position) (string, error) {
	c := pageCursor{
		Version:     cursorVersion,
		Fingerprint: fp,
		PageSize:    pageSize,
		After: cursorPosition{
			SortValue: pos.SortValue,
			CreatedAt: pos.CreatedAt,
			ID:        pos.ID,
		},
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor parses a page token and checks it was issued for fp.
func DecodeCursor(token string, fp Fingerprint) (*store.Position, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed page token: %w", err)
	}
	var c pageCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("malformed page token: %w", err)
	}
	if c.Version != cursorVersion || c.After.ID == "" {
		return nil, fmt.Errorf("unsupported page token")
	}
	if c.Fingerprint != fp {
		return nil, fmt.Errorf("page token does not match the query filters")
	}
	return &store.Position{
		SortValue: c.After.SortValue,
		CreatedAt: c.After.CreatedAt,
		ID:        c.After.ID,
	}, nil
}
