package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/audit"
	"github.com/nextlevelbuilder/clawgate/internal/secrets"
	"github.com/nextlevelbuilder/clawgate/internal/security"
)

func newTestArchive(t *testing.T) *AuditArchive {
	t.Helper()
	a, err := NewAuditArchive(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchiveAndRecent(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	for i, cmd := range []string{"ls", "curl x", "rm -rf /"} {
		e := audit.Entry{
			ID:        string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UserID:    "u1",
			ChannelID: "c1",
			Command:   cmd,
			Tier:      security.TierGreen,
			Action:    security.ActionAllow,
			Reason:    "r",
		}
		if err := a.Archive(ctx, e); err != nil {
			t.Fatalf("Archive: %v", err)
		}
	}

	got, err := a.Recent(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0].Command != "rm -rf /" {
		t.Errorf("not newest-first: %q", got[0].Command)
	}
}

func TestArchive_DuplicateIDIgnored(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	e := audit.Entry{
		ID: "dup", CreatedAt: time.Now(), UserID: "u1", Command: "ls",
		Tier: security.TierGreen, Action: security.ActionAllow, Reason: "r",
		SecretsFound: []secrets.Match{{Type: "Bearer Token", MatchedText: "x"}},
	}
	if err := a.Archive(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := a.Archive(ctx, e); err != nil {
		t.Errorf("re-archive: %v", err)
	}
	got, err := a.Recent(ctx, "u1", 10)
	if err != nil || len(got) != 1 {
		t.Errorf("entries = %d, err %v", len(got), err)
	}
}

func TestRecent_FiltersByUser(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	for i, user := range []string{"u1", "u2"} {
		e := audit.Entry{
			ID: string(rune('a' + i)), CreatedAt: time.Now(), UserID: user,
			Command: "ls", Tier: security.TierGreen, Action: security.ActionAllow, Reason: "r",
		}
		if err := a.Archive(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	got, err := a.Recent(ctx, "u2", 10)
	if err != nil || len(got) != 1 || got[0].UserID != "u2" {
		t.Errorf("got %+v, err %v", got, err)
	}
}
