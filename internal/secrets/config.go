package secrets

import "sync/atomic"

// Mode controls what happens when output contains secrets.
type Mode string

const (
	ModeWarn   Mode = "warn"   // detect and report only
	ModeRedact Mode = "redact" // replace matched spans in the stored output
	ModeBlock  Mode = "block"  // suppress the output entirely
)

// DetectionConfig is an immutable snapshot of scanner behaviour.
// Writers publish a new snapshot; readers dereference the current one,
// so RPC reconfiguration never races with in-flight scans.
type DetectionConfig struct {
	Mode              Mode `json:"mode"`
	EnableLineNumbers bool `json:"enable_line_numbers"`
	MaxSecretsPerType int  `json:"max_secrets_per_type"`
}

// ConfigStore holds the live detection config.
type ConfigStore struct {
	current atomic.Pointer[DetectionConfig]
}

// NewConfigStore creates a store seeded with the given snapshot.
// Invalid fields are normalized (unknown mode → redact, cap ≤ 0 → 10).
func NewConfigStore(initial DetectionConfig) *ConfigStore {
	s := &ConfigStore{}
	s.Set(initial)
	return s
}

// Get returns the current snapshot.
func (s *ConfigStore) Get() DetectionConfig {
	return *s.current.Load()
}

// Set normalizes and publishes a new snapshot.
func (s *ConfigStore) Set(cfg DetectionConfig) DetectionConfig {
	switch cfg.Mode {
	case ModeWarn, ModeRedact, ModeBlock:
	default:
		cfg.Mode = ModeRedact
	}
	if cfg.MaxSecretsPerType <= 0 {
		cfg.MaxSecretsPerType = 10
	}
	s.current.Store(&cfg)
	return cfg
}

// Update applies non-nil fields onto the current snapshot and publishes it.
func (s *ConfigStore) Update(mode *Mode, lineNumbers *bool, maxPerType *int) DetectionConfig {
	cfg := s.Get()
	if mode != nil {
		cfg.Mode = *mode
	}
	if lineNumbers != nil {
		cfg.EnableLineNumbers = *lineNumbers
	}
	if maxPerType != nil {
		cfg.MaxSecretsPerType = *maxPerType
	}
	return s.Set(cfg)
}
