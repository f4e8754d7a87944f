package security

import (
	"log/slog"
	"regexp"
	"sync"
)

// Tier is the coarse risk label attached to a classified command.
type Tier string

// Action is the pipeline decision for a classified command.
type Action string

const (
	TierGreen  Tier = "green"
	TierYellow Tier = "yellow"
	TierRed    Tier = "red"

	ActionAllow Action = "allow"
	ActionAsk   Action = "ask"
	ActionBlock Action = "block"
)

// maxPatternLen rejects pattern sources long enough to hide pathological
// constructs from the quantifier check.
const maxPatternLen = 100

// riskyQuantifiers matches two adjacent unbounded quantifiers: a quantifier
// directly following another (optionally through a group close, as in (a+)+
// or a*+), or a quantified dot repeated twice (.*.*). A proxy for
// catastrophic backtracking in engines this rule set may be exported to.
var riskyQuantifiers = regexp.MustCompile(`(\*|\+|\{\d*,\})\)?(\*|\+|\{\d*,\})|(\.(\*|\+|\{\d*,\})){2}`)

// compileCache caches compiled regexes by source string across pattern sets
// and custom rules.
var (
	compileCacheMu sync.Mutex
	compileCache   = map[string]*regexp.Regexp{}
)

// CompilePattern validates and compiles a rule pattern, consulting the
// process-wide cache. It returns nil (and logs) for sources that are too
// long, backtracking-prone, or not valid regex syntax.
func CompilePattern(source string) *regexp.Regexp {
	if len(source) > maxPatternLen {
		slog.Warn("security.pattern.rejected", "reason", "too long", "length", len(source))
		return nil
	}
	if riskyQuantifiers.MatchString(source) {
		slog.Warn("security.pattern.rejected", "reason", "adjacent unbounded quantifiers", "pattern", source)
		return nil
	}

	compileCacheMu.Lock()
	defer compileCacheMu.Unlock()
	if re, ok := compileCache[source]; ok {
		return re
	}
	re, err := regexp.Compile(source)
	if err != nil {
		slog.Warn("security.pattern.rejected", "reason", "invalid regex", "pattern", source, "error", err)
		return nil
	}
	compileCache[source] = re
	return re
}

// PatternSet holds the three compiled rule lists. BLOCK is scanned first,
// then ASK, then ALLOW; the first match within a list wins. Immutable after
// construction — replace the whole set to change rules.
type PatternSet struct {
	block []*regexp.Regexp
	ask   []*regexp.Regexp
	allow []*regexp.Regexp
}

// NewPatternSet compiles the given sources, skipping rejected patterns.
func NewPatternSet(block, ask, allow []string) *PatternSet {
	return &PatternSet{
		block: compileAll(block),
		ask:   compileAll(ask),
		allow: compileAll(allow),
	}
}

// DefaultPatternSet returns the built-in three-tier rule set.
func DefaultPatternSet() *PatternSet {
	return NewPatternSet(blockPatterns, askPatterns, allowPatterns)
}

func compileAll(sources []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(sources))
	for _, src := range sources {
		if re := CompilePattern(src); re != nil {
			out = append(out, re)
		}
	}
	return out
}

// MatchBlock returns the source of the first BLOCK pattern matching command.
func (p *PatternSet) MatchBlock(command string) (string, bool) { return matchFirst(p.block, command) }

// MatchAsk returns the source of the first ASK pattern matching command.
func (p *PatternSet) MatchAsk(command string) (string, bool) { return matchFirst(p.ask, command) }

// MatchAllow returns the source of the first ALLOW pattern matching command.
func (p *PatternSet) MatchAllow(command string) (string, bool) { return matchFirst(p.allow, command) }

func matchFirst(patterns []*regexp.Regexp, command string) (string, bool) {
	for _, re := range patterns {
		if re.MatchString(command) {
			return re.String(), true
		}
	}
	return "", false
}

// Dangerous command patterns, denied outright. Defense-in-depth: the sandbox
// is hardened separately, these catch what should never reach it.
var blockPatterns = []string{
	// Destructive file operations
	`\brm\s+-[a-z]*[rf]`,
	`\brm\s+.*--(recursive|force)`,
	`\b(mkfs|diskpart)\b`,
	`\bdd\s+if=`,
	`>\s*/dev/sd[a-z]\b`,
	`\b(shutdown|reboot|poweroff)\b`,
	`:\(\)\s*\{.*\};\s*:`, // fork bomb

	// Data exfiltration
	`\bcurl\b.*\|\s*(ba|z)?sh\b`,
	`\bwget\b.*-O\s*-\s*\|\s*(ba|z)?sh\b`,
	`/dev/tcp/`,

	// Reverse shells
	`\b(nc|ncat|netcat)\b.*-[el]\b`,
	`\bsocat\b`,
	`\bopenssl\b.*s_client`,
	`\bmkfifo\b`,

	// Dangerous eval / code injection
	`\beval\s*\$`,
	`\bbase64\s+(-d|--decode)\b.*\|\s*(ba|z)?sh\b`,

	// Privilege escalation
	`\bsudo\b`,
	`\bsu\s+-`,
	`\b(nsenter|unshare)\b`,
	`\b(mount|umount)\b`,

	// Container escape
	`/var/run/docker\.sock`,
	`/proc/sys/(kernel|fs|net)/`,

	// Environment variable injection and dumping
	`\b(LD_PRELOAD|LD_LIBRARY_PATH|DYLD_INSERT_LIBRARIES|BASH_ENV)\s*=`,
	`^\s*env\s*($|\||>)`,
	`\bprintenv\b`,

	// Filter bypass
	`\bsed\b.*['"]/e\b`,
	`\bsort\b.*--compress-program`,
	`\b(rg|grep)\b.*--pre=`,
	`\bgit\b.*(--upload-pack|--receive-pack|--exec)=`,

	// Persistence and process manipulation
	`\bcrontab\b`,
	`>\s*~?/?\.(bashrc|bash_profile|profile|zshrc)`,
	`\b(killall|pkill)\b`,
	`\bkill\s+-9\s`,
}

// Commands that are legitimate but risky enough to require approval.
var askPatterns = []string{
	// Network access
	`\b(curl|wget|fetch)\b`,
	`\bnc\b`,
	`\b(ssh|scp|sftp|rsync)\b`,

	// Package installation
	`\b(apt|apt-get|yum|dnf|apk)\s+install\b`,
	`\bnpm\s+(install|i)\b`,
	`\bpip3?\s+install\b`,
	`\bgo\s+install\b`,
	`\bcargo\s+install\b`,

	// Writes and mutations
	`\brm\b`,
	`\bmv\b`,
	`\bchmod\b`,
	`\bchown\b`,
	`\bln\s+-s`,
	`>\s*\S`,
	`\btee\b`,

	// Source control mutations
	`\bgit\s+(push|reset|rebase|clean)\b`,

	// Service and container control
	`\bsystemctl\s+(start|stop|restart|reload)\b`,
	`\bdocker\s+(run|rm|kill|stop|exec)\b`,
}

// Read-only inspection commands, allowed without approval.
var allowPatterns = []string{
	`^ls(\s|$)`,
	`^pwd$`,
	`^whoami$`,
	`^date(\s|$)`,
	`^echo\s`,
	`^cat\s`,
	`^head(\s|$)`,
	`^tail(\s|$)`,
	`^wc(\s|$)`,
	`^grep\s`,
	`^find\s`,
	`^which\s`,
	`^file\s`,
	`^stat\s`,
	`^du(\s|$)`,
	`^df(\s|$)`,
	`^ps(\s|$)`,
	`^uptime$`,
	`^uname(\s|$)`,
	`^hostname$`,
	`^id(\s|$)`,
	`^git\s+(status|log|diff|branch|show)\b`,
	`^docker\s+(ps|images|logs)\b`,
}
