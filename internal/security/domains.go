package security

import (
	"regexp"
	"strings"
)

// Hostname extraction for network-touching commands. Classifier step 4
// matches these against per-caller domain allow/block lists.

var (
	embeddedURLRe = regexp.MustCompile(`https?://(?:[^\s/@]+@)?([A-Za-z0-9.-]+)`)
	ncTargetRe    = regexp.MustCompile(`\bnc\s+(?:-\S+\s+)*([A-Za-z0-9.-]+)\s+\d+`)
	sshTargetRe   = regexp.MustCompile(`\b(?:ssh|scp|sftp)\s+(?:-\S+\s+)*(?:\S+@)?([A-Za-z0-9.-]+)`)
	bareDomainRe  = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z]{2,})(?:[:/]|$)`)
)

var fetchCommands = map[string]bool{"curl": true, "wget": true, "fetch": true}

// ExtractDomains returns the deduplicated hostnames referenced by a command:
// curl/wget/fetch arguments, nc and ssh/scp targets, and any embedded
// http(s) URL.
func ExtractDomains(command string) []string {
	seen := make(map[string]bool)
	var domains []string
	add := func(host string) {
		host = strings.ToLower(strings.Trim(host, "."))
		if host == "" || seen[host] {
			return
		}
		seen[host] = true
		domains = append(domains, host)
	}

	for _, m := range embeddedURLRe.FindAllStringSubmatch(command, -1) {
		add(m[1])
	}
	for _, m := range ncTargetRe.FindAllStringSubmatch(command, -1) {
		add(m[1])
	}
	for _, m := range sshTargetRe.FindAllStringSubmatch(command, -1) {
		add(m[1])
	}

	// Bare-domain arguments to fetch commands ("curl example.com/path",
	// including after flags like -X POST).
	fields := strings.Fields(command)
	for i, f := range fields {
		if !fetchCommands[f] {
			continue
		}
		for _, arg := range fields[i+1:] {
			if strings.HasPrefix(arg, "-") || strings.Contains(arg, "://") {
				continue
			}
			if m := bareDomainRe.FindStringSubmatch(arg); m != nil {
				add(m[1])
			}
		}
	}

	return domains
}

// DomainMatches reports whether host equals rule or is a subdomain of it
// ("api.example.com" matches rule "example.com").
func DomainMatches(host, rule string) bool {
	host = strings.ToLower(host)
	rule = strings.ToLower(strings.TrimPrefix(rule, "."))
	return host == rule || strings.HasSuffix(host, "."+rule)
}

// matchesAnyDomain reports whether host matches any rule in the list.
func matchesAnyDomain(host string, rules []string) bool {
	for _, rule := range rules {
		if DomainMatches(host, rule) {
			return true
		}
	}
	return false
}
