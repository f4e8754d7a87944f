package secrets

import "regexp"

// catalogEntry is one named detector. Catalog order matters: when two
// patterns match the identical span, the first-listed type wins.
type catalogEntry struct {
	Type string
	re   *regexp.Regexp
}

// Built-in secret catalog. Patterns are anchored on distinctive prefixes and
// bounded repetitions so a hostile output cannot trigger catastrophic
// backtracking.
var catalog = []catalogEntry{
	{"AWS Access Key ID", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"AWS Secret Access Key", regexp.MustCompile(`(?i)\baws_?secret_?access_?key\b["']?\s*[:=]\s*["']?[A-Za-z0-9/+=]{40}`)},
	{"GitHub Personal Access Token", regexp.MustCompile(`\bghp_[A-Za-z0-9]{36}\b`)},
	{"GitHub Fine-Grained Token", regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{22,255}\b`)},
	{"Slack Token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,72}\b`)},
	{"Stripe Secret Key", regexp.MustCompile(`\b[sr]k_live_[A-Za-z0-9]{24,99}\b`)},
	{"Google API Key", regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`)},
	{"Private Key Block", regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`)},
	{"Database Connection String", regexp.MustCompile(`\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^\s:@/]+:[^\s@/]+@[^\s]+`)},
	{"JSON Web Token", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{5,}\b`)},
	{"Bearer Token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{20,}=*`)},
	{"Credential Assignment", regexp.MustCompile(`(?i)\b(?:api[_-]?key|access[_-]?token|auth[_-]?token|secret|token|passwd|password)\b\s*[:=]\s*["']?[^\s"']{8,}`)},
}

// CatalogTypes returns the detector type names in catalog order.
func CatalogTypes() []string {
	types := make([]string, len(catalog))
	for i, e := range catalog {
		types[i] = e.Type
	}
	return types
}
