package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/clawgate/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id               TEXT PRIMARY KEY,
	created_at       TIMESTAMP NOT NULL,
	user_id          TEXT NOT NULL,
	channel_id       TEXT,
	command          TEXT NOT NULL,
	tier             TEXT NOT NULL,
	action           TEXT NOT NULL,
	reason           TEXT NOT NULL,
	approved         BOOLEAN,
	approved_by      TEXT,
	approved_at      TIMESTAMP,
	executed_at      TIMESTAMP,
	output           TEXT,
	error            TEXT,
	secrets_found    TEXT,
	secrets_redacted BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_user_created ON audit_entries (user_id, created_at);
`

// AuditArchive stores entries evicted from the in-memory audit ring in a
// local SQLite database.
type AuditArchive struct {
	db *sql.DB
}

// NewAuditArchive opens (creating if needed) the archive database.
func NewAuditArchive(path string) (*AuditArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite archive: %w", err)
	}
	// modernc's driver is not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite archive: %w", err)
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
		`INSERT OR IGNORE INTO audit_entries
		 (id, created_at, user_id, channel_id, command, tier, action, reason,
		  approved, approved_by, approved_at, executed_at, output, error,
		  secrets_found, secrets_redacted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
		 FROM audit_entries WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit archive: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var created time.Time
		var channel, output, errText sql.NullString
		if err := rows.Scan(&e.ID, &created, &e.UserID, &channel, &e.Command,
			&e.Tier, &e.Action, &e.Reason, &output, &errText, &e.SecretsRedacted); err != nil {
			return nil, fmt.Errorf("scan audit archive: %w", err)
		}
		e.CreatedAt = created
		e.ChannelID = channel.String
		e.Output = output.String
		e.Error = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (a *AuditArchive) Close() error { return a.db.Close() }
