package cron

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore persists jobs as JSON under <dir>/jobs/{id}.json and keeps an
// in-memory cache. Cache and file mutate under the same lock so readers
// never observe a half-written state.
type FileStore struct {
	mu    sync.Mutex
	dir   string
	cache map[string]Job
}

// NewFileStore opens (creating if needed) the job directory and loads
// every persisted job into the cache. Unreadable files are logged and
// skipped.
func NewFileStore(dir string) (*FileStore, error) {
	jobsDir := filepath.Join(dir, "jobs")
	if err := os.MkdirAll(jobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cron dir: %w", err)
	}

	s := &FileStore{dir: dir, cache: make(map[string]Job)}

	entries, err := os.ReadDir(jobsDir)
	if err != nil {
		return nil, fmt.Errorf("read cron dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(jobsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("cron.store.read_failed", "path", path, "error", err)
			continue
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			slog.Warn("cron.store.parse_failed", "path", path, "error", err)
			continue
		}
		s.cache[job.ID] = job
	}
	return s, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, "jobs", id+".json")
}

// List returns every job, sorted by creation time ascending.
func (s *FileStore) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.cache))
	for _, job := range s.cache {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get returns the job with the given id.
func (s *FileStore) Get(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.cache[id]
	if !ok {
		return Job{}, fmt.Errorf("cron job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

// Save writes the job to disk and updates the cache.
func (s *FileStore) Save(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cron job %s: %w", job.ID, err)
	}
	if err := os.WriteFile(s.path(job.ID), data, 0o644); err != nil {
		return fmt.Errorf("write cron job %s: %w", job.ID, err)
	}
	s.cache[job.ID] = job
	return nil
}

// Delete removes the job from disk and cache.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache[id]; !ok {
		return fmt.Errorf("cron job %s: %w", id, ErrNotFound)
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete cron job %s: %w", id, err)
	}
	delete(s.cache, id)
	return nil
}
