// Package repository persists challenge and block outcomes.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ErrInvalidInput is returned for records that cannot be stored.
var ErrInvalidInput = errors.New("invalid input")

// SQLRepository implements domain.OutcomeRepository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database and runs migrations.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := NewWithDB(db, cfg.Driver)
	if err := repo.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// poolDefaults are the per-driver pool limits used when the config leaves
// them at zero.
type poolDefaults struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
}

func applyPool(db *sql.DB, cfg domain.RepositoryConfig, def poolDefaults) {
	maxOpen := def.maxOpen
	if cfg.MaxOpenConns > 0 {
		maxOpen = cfg.MaxOpenConns
	}
	maxIdle := def.maxIdle
	if cfg.MaxIdleConns > 0 {
		maxIdle = cfg.MaxIdleConns
	}
	if maxOpen > 0 && maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	lifetime := def.maxLifetime
	if cfg.ConnMaxLifetime > 0 {
		lifetime = cfg.ConnMaxLifetime
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
}

// NewWithDB wraps an open database. No migrations are run.
func NewWithDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

// Migrate creates missing tables and indexes.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveOutcome stores rec. Saving an ID twice keeps the first record, so
// redelivered events are harmless.
func (r *SQLRepository) SaveOutcome(ctx context.Context, rec *domain.OutcomeRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: outcome id is required", ErrInvalidInput)
	}

	var metadata []byte
	if len(rec.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal outcome metadata: %w", err)
		}
	}

	permanent := 0
	if rec.Permanent {
		permanent = 1
	}

	query := `
		INSERT INTO outcomes (
			id, status, message, ttl_seconds, permanent, decision, score,
			reason, hard_rule, action, user_id, ip, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, string(rec.Status), rec.Message, rec.TTLSeconds, permanent,
		string(rec.Decision), rec.Score, rec.Reason, rec.HardRule,
		rec.Action, rec.UserID, rec.IP, string(metadata), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save outcome %s: %w", rec.ID, err)
	}
	return nil
}

const selectOutcome = `
	SELECT id, status, message, ttl_seconds, permanent, decision, score,
		   reason, hard_rule, action, user_id, ip, metadata, created_at
	FROM outcomes
`

// GetOutcome retrieves an outcome by ID.
func (r *SQLRepository) GetOutcome(ctx context.Context, id string) (*domain.OutcomeRecord, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(selectOutcome+" WHERE id = ?"), id)

	rec, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListOutcomes returns the newest outcomes matching filter.
func (r *SQLRepository) ListOutcomes(ctx context.Context, filter domain.OutcomeFilter) ([]*domain.OutcomeRecord, error) {
	var where []string
	var args []any

	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.IP != "" {
		where = append(where, "ip = ?")
		args = append(args, filter.IP)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := selectOutcome
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT " + strconv.Itoa(limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outcomes := []*domain.OutcomeRecord{}
	for rows.Next() {
		rec, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, rec)
	}

	return outcomes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(s scanner) (*domain.OutcomeRecord, error) {
	var rec domain.OutcomeRecord
	var status, decision string
	var permanent int
	var hardRule, userID, ip, metadata sql.NullString

	if err := s.Scan(
		&rec.ID, &status, &rec.Message, &rec.TTLSeconds, &permanent, &decision, &rec.Score,
		&rec.Reason, &hardRule, &rec.Action, &userID, &ip, &metadata, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	rec.Status = domain.Decision(status)
	rec.Decision = domain.Decision(decision)
	rec.Permanent = permanent == 1
	rec.HardRule = hardRule.String
	rec.UserID = userID.String
	rec.IP = ip.String
	if metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata of outcome %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
