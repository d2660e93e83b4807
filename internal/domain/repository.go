package domain

import (
	"context"
	"time"
)

// OutcomeRecord is the persisted form of an OutcomeEvent.
type OutcomeRecord struct {
	ID         string         `json:"id"`
	Status     Decision       `json:"status"`
	Message    string         `json:"message"`
	TTLSeconds int64          `json:"ttlSeconds"`
	Permanent  bool           `json:"permanent"`
	Decision   Decision       `json:"decision"`
	Score      int            `json:"score"`
	Reason     string         `json:"reason"`
	HardRule   string         `json:"hardRule,omitempty"`
	Action     string         `json:"action"`
	UserID     string         `json:"userId,omitempty"`
	IP         string         `json:"ip,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// RecordFromEvent flattens an outcome event for storage.
func RecordFromEvent(ev *OutcomeEvent) *OutcomeRecord {
	rec := &OutcomeRecord{
		Score:     ev.Score,
		Reason:    ev.Reason,
		HardRule:  ev.HardRule,
		Action:    ev.Action,
		UserID:    ev.UserID,
		IP:        ev.IP,
		Status:    ev.Decision,
		Decision:  ev.Decision,
		CreatedAt: ev.OccurredAt,
	}
	if o := ev.Outcome; o != nil {
		rec.ID = o.ID
		rec.Status = o.Status
		rec.Message = o.Message
		rec.TTLSeconds = int64(o.TTL / time.Second)
		rec.Permanent = o.Permanent
		rec.Metadata = o.Metadata.Map()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return rec
}

// OutcomeFilter narrows ListOutcomes.
type OutcomeFilter struct {
	UserID string
	IP     string
	Status Decision
	Limit  int
}

// OutcomeRepository persists challenge and block outcomes for audit.
type OutcomeRepository interface {
	SaveOutcome(ctx context.Context, rec *OutcomeRecord) error
	GetOutcome(ctx context.Context, id string) (*OutcomeRecord, error)
	ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]*OutcomeRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath        string        `yaml:"sqlitePath"`
	SQLiteBusyTimeout time.Duration `yaml:"sqliteBusyTimeout"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	PostgresConnectTimeout time.Duration `yaml:"postgresConnectTimeout"`

	// Connection pool settings. Zero values keep the driver defaults.
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
