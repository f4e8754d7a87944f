package security

import (
	"strings"
	"sync"
	"time"
)

// maxRecentCommands bounds the per-user command history.
const maxRecentCommands = 100

// minBaselineSamples is the history size required before a baseline is
// recomputed.
const minBaselineSamples = 10

// TypicalHours is the user's observed activity window, hours of day.
type TypicalHours struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// UserBaseline is the per-user behavioral profile anomaly scoring compares
// against.
type UserBaseline struct {
	UserID             string         `json:"user_id"`
	AvgCommandsPerHour float64        `json:"avg_commands_per_hour"`
	CommandFrequency   map[string]int `json:"command_frequency"`
	TypicalHours       TypicalHours   `json:"typical_hours"`
	LastUpdated        time.Time      `json:"last_updated"`
}

// AnomalyResult is the verdict for one analyzed command.
type AnomalyResult struct {
	IsAnomaly      bool     `json:"is_anomaly"`
	Score          float64  `json:"score"`
	Factors        []string `json:"factors"`
	Recommendation string   `json:"recommendation"`
}

// Anomaly recommendations.
const (
	RecommendAllow = "allow"
	RecommendFlag  = "flag"
	RecommendBlock = "block"
)

// Stable factor strings. Dashboards match on these.
const (
	FactorFrequencySpike  = "Command frequency spike"
	FactorOffHours        = "Off-hours activity"
	FactorNovelCommand    = "Novel command"
	FactorRapidSuccession = "Rapid succession"
)

type commandRecord struct {
	command string
	at      time.Time
}

// AnomalyDetector keeps per-user baselines and recent command history and
// scores each command against them.
type AnomalyDetector struct {
	mu        sync.Mutex
	baselines map[string]*UserBaseline
	recent    map[string][]commandRecord

	now func() time.Time // overridable in tests
}

// NewAnomalyDetector creates an empty detector.
func NewAnomalyDetector() *AnomalyDetector {
	return &AnomalyDetector{
		baselines: make(map[string]*UserBaseline),
		recent:    make(map[string][]commandRecord),
		now:       time.Now,
	}
}

// Analyze scores a command against the user's baseline, then records it in
// the user's history. Factors only fire against an established baseline,
// except rapid succession which needs only the previous command.
func (d *AnomalyDetector) Analyze(userID, command string) AnomalyResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	history := d.recent[userID]
	baseline := d.baselines[userID]

	var score float64
	var factors []string

	if baseline != nil && baseline.AvgCommandsPerHour > 0 {
		lastHour := 0
		for _, rec := range history {
			if now.Sub(rec.at) < time.Hour {
				lastHour++
			}
		}
		if float64(lastHour) > 3*baseline.AvgCommandsPerHour {
			score += 0.30
			factors = append(factors, FactorFrequencySpike)
		}
	}

	if baseline != nil {
		hour := now.Hour()
		if hour < baseline.TypicalHours.Start || hour > baseline.TypicalHours.End {
			score += 0.20
			factors = append(factors, FactorOffHours)
		}
	}

	if baseline != nil && len(baseline.CommandFrequency) > 0 {
		if _, known := baseline.CommandFrequency[headToken(command)]; !known {
			score += 0.20
			factors = append(factors, FactorNovelCommand)
		}
	}

	if n := len(history); n > 0 && now.Sub(history[n-1].at) < time.Second {
		score += 0.15
		factors = append(factors, FactorRapidSuccession)
	}

	history = append(history, commandRecord{command: command, at: now})
	if len(history) > maxRecentCommands {
		history = history[len(history)-maxRecentCommands:]
	}
	d.recent[userID] = history

	res := AnomalyResult{Score: score, Factors: factors, IsAnomaly: score >= 0.5}
	switch {
	case score >= 0.7:
		res.Recommendation = RecommendBlock
	case score >= 0.5:
		res.Recommendation = RecommendFlag
	default:
		res.Recommendation = RecommendAllow
	}
	return res
}

// UpdateBaseline recomputes the user's baseline from recorded history. It
// is a no-op (returning the existing baseline and false) when fewer than
// ten commands have been observed.
func (d *AnomalyDetector) UpdateBaseline(userID string) (*UserBaseline, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	history := d.recent[userID]
	if len(history) < minBaselineSamples {
		return d.baselines[userID], false
	}

	now := d.now()
	baseline := &UserBaseline{
		UserID:           userID,
		CommandFrequency: make(map[string]int),
		TypicalHours:     TypicalHours{Start: 23, End: 0},
		LastUpdated:      now,
	}
	lastHour := 0
	for _, rec := range history {
		if now.Sub(rec.at) < time.Hour {
			lastHour++
		}
		baseline.CommandFrequency[headToken(rec.command)]++
		h := rec.at.Hour()
		if h < baseline.TypicalHours.Start {
			baseline.TypicalHours.Start = h
		}
		if h > baseline.TypicalHours.End {
			baseline.TypicalHours.End = h
		}
	}
	baseline.AvgCommandsPerHour = float64(lastHour)

	d.baselines[userID] = baseline
	return baseline, true
}

// Baseline returns the user's current baseline, or nil if none exists.
func (d *AnomalyDetector) Baseline(userID string) *UserBaseline {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baselines[userID]
}

// headToken returns the whitespace-split first word of a command.
func headToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
