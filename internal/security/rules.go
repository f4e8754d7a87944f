package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// CustomRules are per-caller overrides layered ahead of the built-in
// pattern set. Blocked lists take precedence over allowed lists.
type CustomRules struct {
	AllowedCommands     []string `json:"allowed_commands,omitempty"`
	BlockedCommands     []string `json:"blocked_commands,omitempty"`
	AllowedDomains      []string `json:"allowed_domains,omitempty"`
	BlockedDomains      []string `json:"blocked_domains,omitempty"`
	AutoApprovePatterns []string `json:"auto_approve_patterns,omitempty"`
}

// RuleStore publishes the active custom rule snapshot. Readers dereference
// the current pointer; the file watcher publishes replacements.
type RuleStore struct {
	current atomic.Pointer[CustomRules]
}

// NewRuleStore creates a store with no custom rules.
func NewRuleStore() *RuleStore {
	s := &RuleStore{}
	s.current.Store(&CustomRules{})
	return s
}

// Get returns the active rules snapshot (never nil).
func (s *RuleStore) Get() *CustomRules { return s.current.Load() }

// Set publishes a new snapshot. A nil value clears custom rules.
func (s *RuleStore) Set(rules *CustomRules) {
	if rules == nil {
		rules = &CustomRules{}
	}
	s.current.Store(rules)
}

// LoadFile reads a rules JSON file and publishes it.
func (s *RuleStore) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	var rules CustomRules
	if err := json.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}
	s.Set(&rules)
	slog.Info("security.rules.loaded", "path", path,
		"blocked", len(rules.BlockedCommands), "allowed", len(rules.AllowedCommands))
	return nil
}

// Watch hot-reloads the rules file on change until ctx is done.
// A broken rewrite keeps the previous snapshot active.
func (s *RuleStore) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules watcher: %w", err)
	}

	// Watch the directory: editors replace files rather than write in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("rules watcher: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := s.LoadFile(path); err != nil {
					slog.Warn("security.rules.reload_failed", "path", path, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("security.rules.watch_error", "error", err)
			}
		}
	}()

	return nil
}
