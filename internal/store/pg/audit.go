package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/clawgate/internal/audit"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id               TEXT PRIMARY KEY,
	created_at       TIMESTAMPTZ NOT NULL,
	user_id          TEXT NOT NULL,
	channel_id       TEXT,
	command          TEXT NOT NULL,
	tier             TEXT NOT NULL,
	action           TEXT NOT NULL,
	reason           TEXT NOT NULL,
	approved         BOOLEAN,
	approved_by      TEXT,
	approved_at      TIMESTAMPTZ,
	executed_at      TIMESTAMPTZ,
	output           TEXT,
	error            TEXT,
	secrets_found    JSONB,
	secrets_redacted BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_audit_user_created ON audit_entries (user_id, created_at);
`

// OpenDB opens a Postgres pool via the pgx stdlib driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// AuditArchive stores evicted audit entries in Postgres (managed mode).
type AuditArchive struct {
	db *sql.DB
}

// NewAuditArchive ensures the schema and wraps the pool.
func NewAuditArchive(db *sql.DB) (*AuditArchive, error) {
	if _, err := db.Exec(auditSchema); err != nil {
		return nil, fmt.Errorf("init audit archive: %w", err)
	}
	return &AuditArchive{db: db}, nil
}

// Archive inserts one entry. Re-archiving an id is a no-op.
func (a *AuditArchive) Archive(ctx context.Context, e audit.Entry) error {
	secretsJSON, err := json.Marshal(e.SecretsFound)
	if err != nil {
		return fmt.Errorf("marshal secrets for %s: %w", e.ID, err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO audit_entries
		 (id, created_at, user_id, channel_id, command, tier, action, reason,
		  approved, approved_by, approved_at, executed_at, output, error,
		  secrets_found, secrets_redacted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.CreatedAt, e.UserID, e.ChannelID, e.Command, string(e.Tier),
		string(e.Action), e.Reason, e.Approved, e.ApprovedBy, e.ApprovedAt,
		e.ExecutedAt, e.Output, e.Error, string(secretsJSON), e.SecretsRedacted,
	)
	if err != nil {
		return fmt.Errorf("archive audit entry %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns the newest archived entries for a user, up to limit.
func (a *AuditArchive) Recent(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, created_at, user_id, channel_id, command, tier, action,
		        reason, output, error, secrets_redacted
		 FROM audit_entries WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit archive: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var channel, output, errText sql.NullString
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.UserID, &channel, &e.Command,
			&e.Tier, &e.Action, &e.Reason, &output, &errText, &e.SecretsRedacted); err != nil {
			return nil, fmt.Errorf("scan audit archive: %w", err)
		}
		e.ChannelID = channel.String
		e.Output = output.String
		e.Error = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (a *AuditArchive) Close() error { return a.db.Close() }
