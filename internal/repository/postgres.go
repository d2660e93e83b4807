package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/opensource-finance/riskguard/internal/domain"
)

const (
	defaultPostgresConnectTimeout = 5 * time.Second
	postgresApplicationName       = "riskguard"
)

var postgresPool = poolDefaults{maxOpen: 10, maxIdle: 5, maxLifetime: 30 * time.Minute}

// postgresDSN builds a lib/pq key/value connection string. Empty user and
// password are left out so libpq defaults apply.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "riskguard"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	params := [][2]string{
		{"host", host},
		{"port", strconv.Itoa(port)},
		{"user", cfg.PostgresUser},
		{"password", cfg.PostgresPassword},
		{"dbname", dbname},
		{"sslmode", sslmode},
		{"connect_timeout", strconv.Itoa(connectTimeoutSeconds(cfg.PostgresConnectTimeout))},
		{"application_name", postgresApplicationName},
	}

	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p[1] == "" {
			continue
		}
		parts = append(parts, p[0]+"="+quoteDSNValue(p[1]))
	}
	return strings.Join(parts, " ")
}

// connectTimeoutSeconds rounds up; libpq takes whole seconds.
func connectTimeoutSeconds(d time.Duration) int {
	if d <= 0 {
		d = defaultPostgresConnectTimeout
	}
	return int(math.Ceil(d.Seconds()))
}

func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	applyPool(db, cfg, postgresPool)

	timeout := time.Duration(connectTimeoutSeconds(cfg.PostgresConnectTimeout)) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return db, nil
}
