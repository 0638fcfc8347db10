package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Record is the metadata of one execution.
type Record struct {
	ID         string        `json:"id"`
	Tenant     string        `json:"tenant,omitempty"`
	Subject    string        `json:"subject,omitempty"`
	Status     string        `json:"status"`
	Kind       string        `json:"kind,omitempty"`
	CodeLength int           `json:"code_length"`
	CodeSHA256 string        `json:"code_sha256"`
	Duration   time.Duration `json:"duration_ns"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ListOptions filters and bounds List.
type ListOptions struct {
	// Status keeps only records with this status when set.
	Status string

	// Limit is the maximum number of records returned (default 20, max 100).
	Limit int
}

// Store persists execution records. Every method is scoped to the tenant in
// the context when one is present.
type Store interface {
	// Save persists a record. Returns ErrConflict if the ID exists.
	Save(ctx context.Context, rec *Record) error

	// Get returns a record by ID or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns records newest first.
	List(ctx context.Context, opts ListOptions) ([]*Record, error)

	// HealthCheck reports whether the store is usable.
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Digest returns the hex SHA-256 of code.
func Digest(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// EffectiveLimit clamps a requested list limit.
func EffectiveLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
