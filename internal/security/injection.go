package security

import (
	"fmt"
	"regexp"
	"strings"
)

// Sensitivity selects the confidence threshold at which a detection is
// declared.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// Threshold returns the detection threshold for the sensitivity level.
// Unknown values fall back to medium.
func (s Sensitivity) Threshold() float64 {
	switch s {
	case SensitivityLow:
		return 0.3
	case SensitivityHigh:
		return 0.7
	default:
		return 0.5
	}
}

// InjectionPattern is one piece of matched evidence.
type InjectionPattern struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	MatchedSpan string `json:"matched_span"`
}

// Detection is the injection detector's verdict for one input.
type Detection struct {
	Detected   bool               `json:"detected"`
	Confidence float64            `json:"confidence"`
	Reason     string             `json:"reason"`
	Patterns   []InjectionPattern `json:"patterns"`
}

type injectionRule struct {
	typ      string
	severity string
	weight   float64
	re       *regexp.Regexp
}

// Manipulation evidence, weighted. Confidence is the capped sum of the
// weights of every rule that fires, so a single high-severity hit is
// enough to cross the medium threshold.
var injectionRules = []injectionRule{
	{
		typ: "instruction_override", severity: "high", weight: 0.6,
		re: regexp.MustCompile(`(?i)\b(ignore|disregard|forget|discard)\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|context)`),
	},
	{
		typ: "instruction_override", severity: "high", weight: 0.5,
		re: regexp.MustCompile(`(?i)\bnew\s+instructions?\s*:`),
	},
	{
		typ: "role_override", severity: "high", weight: 0.4,
		re: regexp.MustCompile(`(?i)\byou\s+are\s+(now|no\s+longer)\b`),
	},
	{
		typ: "role_override", severity: "medium", weight: 0.4,
		re: regexp.MustCompile(`(?i)\b(act|pretend|behave|roleplay)\s+as\s+(if\s+you\s+(are|were)\s+)?(an?\s+)?(different|new|unrestricted|unfiltered)`),
	},
	{
		typ: "system_impersonation", severity: "high", weight: 0.5,
		re: regexp.MustCompile(`(?i)<\|?\s*(im_start|im_end|system|endofprompt)\s*\|?>`),
	},
	{
		typ: "system_impersonation", severity: "medium", weight: 0.4,
		re: regexp.MustCompile(`(?i)\[?\bsystem\s*(prompt|message|override)\b`),
	},
	{
		typ: "jailbreak", severity: "high", weight: 0.5,
		re: regexp.MustCompile(`(?i)\b(jailbreak|dan\s+mode|developer\s+mode|god\s+mode)\b`),
	},
	{
		typ: "guardrail_bypass", severity: "high", weight: 0.5,
		re: regexp.MustCompile(`(?i)\b(bypass|disable|override|turn\s+off)\s+(the\s+|your\s+)?(safety|security|filter(s|ing)?|guardrails?|restrictions?)`),
	},
	{
		typ: "prompt_leak", severity: "medium", weight: 0.5,
		re: regexp.MustCompile(`(?i)\b(reveal|show|print|repeat|output)\s+(me\s+)?(your\s+|the\s+)?(system\s+prompt|hidden\s+instructions?|initial\s+instructions?)`),
	},
	{
		typ: "tool_injection", severity: "high", weight: 0.5,
		re: regexp.MustCompile(`(?i)<\s*/?\s*(tool_use|tool_call|tool_result|function_call)\s*>`),
	},
}

// sanitizeMarker replaces matched spans in sanitized output.
const sanitizeMarker = "[FILTERED]"

// InjectionDetector classifies input text as benign or a manipulation
// attempt. It is stateless and safe for concurrent use.
type InjectionDetector struct {
	sensitivity Sensitivity
}

// NewInjectionDetector creates a detector with the given default sensitivity.
func NewInjectionDetector(sensitivity Sensitivity) *InjectionDetector {
	return &InjectionDetector{sensitivity: sensitivity}
}

// Detect scans text at the detector's default sensitivity.
func (d *InjectionDetector) Detect(text string) Detection {
	return d.DetectWith(text, d.sensitivity)
}

// DetectWith scans text, declaring a detection when the summed evidence
// weight reaches the sensitivity threshold.
func (d *InjectionDetector) DetectWith(text string, sensitivity Sensitivity) Detection {
	var (
		confidence float64
		patterns   []InjectionPattern
		types      []string
		seen       = map[string]bool{}
	)
	for _, rule := range injectionRules {
		span := rule.re.FindString(text)
		if span == "" {
			continue
		}
		confidence += rule.weight
		patterns = append(patterns, InjectionPattern{
			Type:        rule.typ,
			Severity:    rule.severity,
			MatchedSpan: span,
		})
		if !seen[rule.typ] {
			seen[rule.typ] = true
			types = append(types, rule.typ)
		}
	}
	if confidence > 1 {
		confidence = 1
	}

	det := Detection{Confidence: confidence, Patterns: patterns}
	if confidence >= sensitivity.Threshold() && len(patterns) > 0 {
		det.Detected = true
		det.Reason = fmt.Sprintf("Prompt injection detected: %s", strings.Join(types, ", "))
	} else {
		det.Reason = "No injection patterns found"
	}
	return det
}

// Sanitize returns text with every matched span replaced by a neutral
// marker, plus whether anything was replaced.
func (d *InjectionDetector) Sanitize(text string) (string, bool) {
	modified := false
	for _, rule := range injectionRules {
		if !rule.re.MatchString(text) {
			continue
		}
		text = rule.re.ReplaceAllString(text, sanitizeMarker)
		modified = true
	}
	return text, modified
}
