package repository

// Schema definitions for the riskguard audit database.
// Compatible with both SQLite and PostgreSQL.

const schemaOutcomes = `
CREATE TABLE IF NOT EXISTS outcomes (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    message TEXT NOT NULL,
    ttl_seconds BIGINT NOT NULL DEFAULT 0,
    permanent INTEGER NOT NULL DEFAULT 0,
    decision TEXT NOT NULL,
    score INTEGER NOT NULL,
    reason TEXT NOT NULL,
    hard_rule TEXT,
    action TEXT NOT NULL,
    user_id TEXT,
    ip TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_user ON outcomes(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_outcomes_ip ON outcomes(ip, created_at);
CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(status, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaOutcomes,
	}
}
