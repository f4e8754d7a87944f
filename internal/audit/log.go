package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawgate/internal/secrets"
	"github.com/nextlevelbuilder/clawgate/internal/security"
)

// MaxEntries bounds the in-memory ring. The oldest entry is evicted on
// overflow, never blocking the writer.
const MaxEntries = 10000

// Entry is one audited command decision. Terminal entries are immutable.
type Entry struct {
	ID              string          `json:"id"`
	CreatedAt       time.Time       `json:"created_at"`
	UserID          string          `json:"user_id"`
	ChannelID       string          `json:"channel_id,omitempty"`
	Command         string          `json:"command"`
	Tier            security.Tier   `json:"tier"`
	Action          security.Action `json:"action"`
	Reason          string          `json:"reason"`
	Approved        *bool           `json:"approved,omitempty"`
	ApprovedBy      string          `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	ExecutedAt      *time.Time      `json:"executed_at,omitempty"`
	Output          string          `json:"output,omitempty"`
	Error           string          `json:"error,omitempty"`
	SecretsFound    []secrets.Match `json:"secrets_found,omitempty"`
	SecretsRedacted bool            `json:"secrets_redacted"`
}

// Patch carries the mutable fields of an entry update. Nil fields are left
// untouched.
type Patch struct {
	Approved        *bool
	ApprovedBy      *string
	ApprovedAt      *time.Time
	ExecutedAt      *time.Time
	Output          *string
	Error           *string
	SecretsFound    []secrets.Match
	SecretsRedacted *bool
}

// QueryFilter narrows a log query. Zero values mean "no filter"; Limit
// defaults to 50.
type QueryFilter struct {
	Tier   security.Tier
	Action security.Action
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Stats are derived from the current ring contents.
type Stats struct {
	Total        int                     `json:"total"`
	ByTier       map[security.Tier]int   `json:"by_tier"`
	ByAction     map[security.Action]int `json:"by_action"`
	ApprovalRate float64                 `json:"approval_rate"`
	LastUpdate   time.Time               `json:"last_update"`
}

// Archiver receives entries evicted from the ring, for durable storage.
type Archiver interface {
	Archive(ctx context.Context, entry Entry) error
	Close() error
}

// Log is the in-process audit ring. Entries are held oldest to newest;
// queries return newest first.
type Log struct {
	mu       sync.Mutex
	entries  []*Entry
	byID     map[string]*Entry
	archiver Archiver

	now func() time.Time // overridable in tests
}

// NewLog creates an empty audit log.
func NewLog() *Log {
	return &Log{
		byID: make(map[string]*Entry),
		now:  time.Now,
	}
}

// SetArchiver routes evicted entries to a durable store. Archive failures
// are logged, never propagated.
func (l *Log) SetArchiver(a Archiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.archiver = a
}

// Create appends a new entry and returns a copy of it.
func (l *Log) Create(command string, tier security.Tier, action security.Action, reason, userID, channelID string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := &Entry{
		ID:        uuid.NewString(),
		CreatedAt: l.now(),
		UserID:    userID,
		ChannelID: channelID,
		Command:   command,
		Tier:      tier,
		Action:    action,
		Reason:    reason,
	}
	l.entries = append(l.entries, e)
	l.byID[e.ID] = e

	if len(l.entries) > MaxEntries {
		evicted := l.entries[0]
		l.entries = l.entries[1:]
		delete(l.byID, evicted.ID)
		if l.archiver != nil {
			go l.archive(*evicted)
		}
	}
	return *e
}

func (l *Log) archive(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.archiver.Archive(ctx, e); err != nil {
		slog.Warn("audit.archive_failed", "id", e.ID, "error", err)
	}
}

// Update applies a patch to the entry with the given id.
func (l *Log) Update(id string, patch Patch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byID[id]
	if !ok {
		return fmt.Errorf("audit entry %s: %w", id, ErrNotFound)
	}
	if patch.Approved != nil {
		e.Approved = patch.Approved
	}
	if patch.ApprovedBy != nil {
		e.ApprovedBy = *patch.ApprovedBy
	}
	if patch.ApprovedAt != nil {
		e.ApprovedAt = patch.ApprovedAt
	}
	if patch.ExecutedAt != nil {
		e.ExecutedAt = patch.ExecutedAt
	}
	if patch.Output != nil {
		e.Output = *patch.Output
	}
	if patch.Error != nil {
		e.Error = *patch.Error
	}
	if patch.SecretsFound != nil {
		e.SecretsFound = patch.SecretsFound
	}
	if patch.SecretsRedacted != nil {
		e.SecretsRedacted = *patch.SecretsRedacted
	}
	return nil
}

// Get returns a copy of the entry with the given id.
func (l *Log) Get(id string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byID[id]
	if !ok {
		return Entry{}, fmt.Errorf("audit entry %s: %w", id, ErrNotFound)
	}
	return *e, nil
}

// Query returns matching entries newest first. An empty userID matches all
// users.
func (l *Log) Query(userID string, f QueryFilter) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var out []Entry
	skipped := 0
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if userID != "" && e.UserID != userID {
			continue
		}
		if f.Tier != "" && e.Tier != f.Tier {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.CreatedAt.After(f.To) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, *e)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Count returns the number of entries matching userID (all users when
// empty), ignoring limit and offset.
func (l *Log) Count(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if userID == "" {
		return len(l.entries)
	}
	n := 0
	for _, e := range l.entries {
		if e.UserID == userID {
			n++
		}
	}
	return n
}

// Stats derives aggregate counts over entries from the last `days` days
// (default 7). ApprovalRate is approved ask-entries over all ask-entries,
// zero when there were none.
func (l *Log) Stats(userID string, days int) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	if days <= 0 {
		days = 7
	}
	cutoff := l.now().AddDate(0, 0, -days)

	st := Stats{
		ByTier:   make(map[security.Tier]int),
		ByAction: make(map[security.Action]int),
	}
	totalAsk, approvedAsk := 0, 0
	for _, e := range l.entries {
		if userID != "" && e.UserID != userID {
			continue
		}
		if e.CreatedAt.Before(cutoff) {
			continue
		}
		st.Total++
		st.ByTier[e.Tier]++
		st.ByAction[e.Action]++
		if e.CreatedAt.After(st.LastUpdate) {
			st.LastUpdate = e.CreatedAt
		}
		if e.Action == security.ActionAsk {
			totalAsk++
			if e.Approved != nil && *e.Approved {
				approvedAsk++
			}
		}
	}
	if totalAsk > 0 {
		st.ApprovalRate = float64(approvedAsk) / float64(totalAsk)
	}
	return st
}
