package secrets

import (
	"sort"
	"strings"
)

// Match is one detected secret span.
type Match struct {
	Type          string `json:"type"`
	PatternSource string `json:"pattern_source"`
	MatchedText   string `json:"matched_text"`
	RedactedText  string `json:"redacted_text"`
	StartOffset   int    `json:"start_offset"`
	EndOffset     int    `json:"end_offset"`
	LineNumber    int    `json:"line_number,omitempty"`
}

// ScanResult is the aggregate returned by ScanOutput.
type ScanResult struct {
	HasSecrets   bool           `json:"has_secrets"`
	Count        int            `json:"count"`
	Matches      []Match        `json:"matches"`
	ByType       map[string]int `json:"by_type"`
	RedactedText string         `json:"redacted_text,omitempty"`
}

// Scanner detects credential-shaped substrings in tool output.
type Scanner struct {
	config *ConfigStore
}

// NewScanner creates a scanner reading behaviour from the given config store.
func NewScanner(config *ConfigStore) *Scanner {
	return &Scanner{config: config}
}

// Config returns the scanner's config store.
func (s *Scanner) Config() *ConfigStore { return s.config }

// Scan runs the full catalog against text and returns matches sorted
// ascending by start offset. Identical spans collapse to the first-listed
// catalog type; a span overlapping an earlier-starting accepted span is
// dropped, so the result is pairwise non-overlapping.
func (s *Scanner) Scan(text string) []Match {
	if text == "" {
		return nil
	}

	cfg := s.config.Get()

	type spanKey struct{ start, length int }
	seen := make(map[spanKey]bool)
	var matches []Match

	for _, entry := range catalog {
		for _, loc := range entry.re.FindAllStringIndex(text, -1) {
			key := spanKey{loc[0], loc[1] - loc[0]}
			if seen[key] {
				continue
			}
			seen[key] = true

			matched := text[loc[0]:loc[1]]
			m := Match{
				Type:          entry.Type,
				PatternSource: entry.re.String(),
				MatchedText:   matched,
				RedactedText:  redactValue(matched, entry.Type),
				StartOffset:   loc[0],
				EndOffset:     loc[1],
			}
			if cfg.EnableLineNumbers {
				m.LineNumber = strings.Count(text[:loc[0]], "\n") + 1
			}
			matches = append(matches, m)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].StartOffset != matches[j].StartOffset {
			return matches[i].StartOffset < matches[j].StartOffset
		}
		return matches[i].EndOffset > matches[j].EndOffset
	})

	// Drop overlaps: the earliest-starting (longest at ties) span wins.
	var accepted []Match
	lastEnd := -1
	for _, m := range matches {
		if m.StartOffset < lastEnd {
			continue
		}
		accepted = append(accepted, m)
		lastEnd = m.EndOffset
	}
	return accepted
}

// Redact returns text with every detected secret replaced.
// Redact is idempotent: redacting already-redacted text is a no-op.
func (s *Scanner) Redact(text string) string {
	matches := s.Scan(text)
	if len(matches) == 0 {
		return text
	}

	// Replace in reverse order so earlier offsets stay valid.
	out := text
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		out = out[:m.StartOffset] + m.RedactedText + out[m.EndOffset:]
	}
	return out
}

// ScanOutput scans text and, in redact or block mode, includes the redacted
// form. MaxSecretsPerType caps only what is reported upward — detection and
// redaction always cover every match.
func (s *Scanner) ScanOutput(text string) ScanResult {
	cfg := s.config.Get()
	all := s.Scan(text)

	byType := make(map[string]int)
	reported := make([]Match, 0, len(all))
	for _, m := range all {
		byType[m.Type]++
		if byType[m.Type] <= cfg.MaxSecretsPerType {
			reported = append(reported, m)
		}
	}

	result := ScanResult{
		HasSecrets: len(all) > 0,
		Count:      len(all),
		Matches:    reported,
		ByType:     byType,
	}
	if len(all) > 0 && cfg.Mode != ModeWarn {
		result.RedactedText = s.Redact(text)
	}
	return result
}

// redactValue builds the replacement for one matched secret.
// Short matches are fully masked; longer ones keep 4 chars of context at
// each end so a human can still correlate the redaction with its source.
func redactValue(matched, typ string) string {
	if len(matched) <= 8 {
		return "[REDACTED]"
	}
	return matched[:4] + "...[REDACTED:" + typ + "]..." + matched[len(matched)-4:]
}
