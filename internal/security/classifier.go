package security

import (
	"strings"
)

// maxClassifyLen bounds regex evaluation: longer commands are classified
// against their prefix so a hostile input cannot stall the pipeline.
const maxClassifyLen = 10000

// Stable classification reasons. Dashboards match on these.
const (
	ReasonEmpty            = "Empty command"
	ReasonCustomBlocked    = "Command matched a blocked custom rule"
	ReasonCustomAllowed    = "Command matched an allowed custom rule"
	ReasonDomainBlocked    = "Command contacts a blocked domain"
	ReasonDomainNotAllowed = "Command contacts a domain outside the allowed list"
	ReasonAutoApprove      = "Command matched an auto-approve pattern"
	ReasonDangerous        = "Command matched dangerous operation patterns"
	ReasonNeedsApproval    = "Command requires approval"
	ReasonSafe             = "Command matched safe operation patterns"
	ReasonUnknown          = "Unknown command - requires approval for safety"
)

// Classification is the classifier's verdict for one command.
type Classification struct {
	Command          string `json:"command"`
	Tier             Tier   `json:"tier"`
	Action           Action `json:"action"`
	Reason           string `json:"reason"`
	MatchedPattern   string `json:"matched_pattern,omitempty"`
	RequiresApproval bool   `json:"requires_approval"`
}

// Classifier maps command strings to a (tier, action, reason) verdict by
// layering custom rules over the built-in pattern set.
type Classifier struct {
	patterns *PatternSet
	rules    *RuleStore
}

// NewClassifier builds a classifier over the given pattern set and rule store.
func NewClassifier(patterns *PatternSet, rules *RuleStore) *Classifier {
	if rules == nil {
		rules = NewRuleStore()
	}
	return &Classifier{patterns: patterns, rules: rules}
}

// Rules returns the classifier's custom rule store.
func (c *Classifier) Rules() *RuleStore { return c.rules }

// Classify evaluates the layered rule pipeline. First match wins:
// custom block → custom allow → domain rules → auto-approve →
// built-in BLOCK → ASK → ALLOW → default ask.
func (c *Classifier) Classify(command string) Classification {
	return c.ClassifyWith(command, c.rules.Get())
}

// ClassifyWith classifies against an explicit custom rule set.
func (c *Classifier) ClassifyWith(command string, rules *CustomRules) Classification {
	if strings.TrimSpace(command) == "" {
		return verdict(command, TierGreen, ActionAllow, ReasonEmpty, "")
	}

	eval := command
	if len(eval) > maxClassifyLen {
		eval = eval[:maxClassifyLen]
	}
	if rules == nil {
		rules = &CustomRules{}
	}

	if src, ok := matchSources(rules.BlockedCommands, eval); ok {
		return verdict(command, TierRed, ActionBlock, ReasonCustomBlocked, src)
	}
	if src, ok := matchSources(rules.AllowedCommands, eval); ok {
		return verdict(command, TierGreen, ActionAllow, ReasonCustomAllowed, src)
	}

	if len(rules.BlockedDomains) > 0 || len(rules.AllowedDomains) > 0 {
		for _, host := range ExtractDomains(eval) {
			if matchesAnyDomain(host, rules.BlockedDomains) {
				return verdict(command, TierRed, ActionBlock, ReasonDomainBlocked, host)
			}
			if len(rules.AllowedDomains) > 0 && !matchesAnyDomain(host, rules.AllowedDomains) {
				return verdict(command, TierRed, ActionBlock, ReasonDomainNotAllowed, host)
			}
		}
	}

	if src, ok := matchSources(rules.AutoApprovePatterns, eval); ok {
		return verdict(command, TierGreen, ActionAllow, ReasonAutoApprove, src)
	}

	if src, ok := c.patterns.MatchBlock(eval); ok {
		return verdict(command, TierRed, ActionBlock, ReasonDangerous, src)
	}
	if src, ok := c.patterns.MatchAsk(eval); ok {
		return verdict(command, TierYellow, ActionAsk, ReasonNeedsApproval, src)
	}
	if src, ok := c.patterns.MatchAllow(eval); ok {
		return verdict(command, TierGreen, ActionAllow, ReasonSafe, src)
	}

	return verdict(command, TierYellow, ActionAsk, ReasonUnknown, "")
}

func matchSources(sources []string, command string) (string, bool) {
	for _, src := range sources {
		re := CompilePattern(src)
		if re == nil {
			continue
		}
		if re.MatchString(command) {
			return src, true
		}
	}
	return "", false
}

func verdict(command string, tier Tier, action Action, reason, pattern string) Classification {
	return Classification{
		Command:          command,
		Tier:             tier,
		Action:           action,
		Reason:           reason,
		MatchedPattern:   pattern,
		RequiresApproval: action == ActionAsk,
	}
}
