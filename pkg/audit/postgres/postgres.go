// Package postgres provides a PostgreSQL implementation of audit.Store.
// It uses pgx/v5 for connection pooling and embedded SQL migrations for the
// schema.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/starbox/pkg/audit"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// Store is a PostgreSQL-backed audit store.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements audit.Store at compile time.
var _ audit.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Save persists an execution record. The tenant in the context overrides
// rec.Tenant.
func (s *Store) Save(ctx context.Context, rec *audit.Record) error {
	tenantID := audit.GetTenant(ctx)
	if tenantID == "" {
		tenantID = rec.Tenant
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (
			id, tenant_id, subject, status, kind,
			code_length, code_sha256, duration_ns, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.ID, tenantID, nullString(rec.Subject), rec.Status, nullString(rec.Kind),
		rec.CodeLength, rec.CodeSHA256, rec.Duration.Nanoseconds(), rec.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return audit.ErrConflict
		}
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, tenant_id, subject, status, kind,
	       code_length, code_sha256, duration_ns, created_at
	FROM executions`

// Get retrieves a record by ID, scoped by tenant when one is present.
func (s *Store) Get(ctx context.Context, id string) (*audit.Record, error) {
	query := selectColumns + " WHERE id = $1"
	args := []any{id}
	if tenantID := audit.GetTenant(ctx); tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, audit.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return rec, nil
}

// List returns records newest first, filtered by tenant and status.
func (s *Store) List(ctx context.Context, opts audit.ListOptions) ([]*audit.Record, error) {
	query := selectColumns + " WHERE TRUE"
	var args []any
	if tenantID := audit.GetTenant(ctx); tenantID != "" {
		args = append(args, tenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, audit.EffectiveLimit(opts.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	records := []*audit.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	return records, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (*audit.Record, error) {
	var rec audit.Record
	var subject, kind *string
	var durationNs int64
	if err := row.Scan(
		&rec.ID, &rec.Tenant, &subject, &rec.Status, &kind,
		&rec.CodeLength, &rec.CodeSHA256, &durationNs, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	if subject != nil {
		rec.Subject = *subject
	}
	if kind != nil {
		rec.Kind = *kind
	}
	rec.Duration = time.Duration(durationNs)
	return &rec, nil
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
