package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	defaultSQLitePath        = "./riskguard.db"
	defaultSQLiteBusyTimeout = 5 * time.Second
	sqliteMemoryPath         = ":memory:"
)

// The outcome worker writes while /outcomes reads: readers need WAL and
// concurrent writers wait out busy_timeout.
var sqlitePool = poolDefaults{maxOpen: 4, maxIdle: 4}

func sqlitePath(cfg domain.RepositoryConfig) string {
	if cfg.SQLitePath == "" {
		return defaultSQLitePath
	}
	return cfg.SQLitePath
}

// sqliteDSN builds the modernc.org/sqlite DSN. Pragmas run on every new
// connection, in order.
func sqliteDSN(cfg domain.RepositoryConfig) string {
	path := sqlitePath(cfg)
	busy := cfg.SQLiteBusyTimeout
	if busy <= 0 {
		busy = defaultSQLiteBusyTimeout
	}

	pragmas := []string{fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds())}
	if path != sqliteMemoryPath {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}
	pragmas = append(pragmas, "synchronous(NORMAL)")

	params := make([]string, len(pragmas))
	for i, p := range pragmas {
		params[i] = "_pragma=" + p
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := sqlitePath(cfg)
	if path != sqliteMemoryPath {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if path == sqliteMemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		applyPool(db, cfg, sqlitePool)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultSQLiteBusyTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database %s: %w", path, err)
	}
	return db, nil
}
