package security

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRuleStore_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	content := `{
		"blocked_commands": ["\\bterraform\\s+destroy\\b"],
		"allowed_commands": ["^make\\s+test\\b"],
		"auto_approve_patterns": ["^npm\\s+install\\b"]
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewRuleStore()
	if err := store.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	rules := store.Get()
	if len(rules.BlockedCommands) != 1 || len(rules.AllowedCommands) != 1 {
		t.Fatalf("unexpected rules: %+v", rules)
	}

	c := NewClassifier(DefaultPatternSet(), store)

	// Custom block wins over everything.
	if cls := c.Classify("terraform destroy -auto-approve"); cls.Action != ActionBlock {
		t.Errorf("custom block: got %s/%s", cls.Tier, cls.Action)
	}
	// Custom allow upgrades an unknown command.
	if cls := c.Classify("make test ./..."); cls.Action != ActionAllow {
		t.Errorf("custom allow: got %s/%s", cls.Tier, cls.Action)
	}
	// Auto-approve upgrades a built-in ask pattern.
	if cls := c.Classify("npm install express"); cls.Action != ActionAllow {
		t.Errorf("auto approve: got %s/%s", cls.Tier, cls.Action)
	}
}

func TestRuleStore_LoadFileBadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewRuleStore()
	store.Set(&CustomRules{BlockedCommands: []string{"^foo$"}})
	if err := store.LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
	// Previous snapshot stays active.
	if got := store.Get(); len(got.BlockedCommands) != 1 {
		t.Errorf("snapshot replaced on bad load: %+v", got)
	}
}

func TestRuleStore_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	if err := os.WriteFile(path, []byte(`{"blocked_commands":["^one$"]}`), 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewRuleStore()
	if err := store.LoadFile(path); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := store.Watch(ctx, path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"blocked_commands":["^one$","^two$"]}`), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.Get().BlockedCommands) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("rules not reloaded, have %+v", store.Get())
}
