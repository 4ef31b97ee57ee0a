// Package findings turns the meta-analyser's structured findings into
// persistent, deduplicated, decaying, auto-resolving entities.
package findings

import (
	"regexp"
	"strings"
)

// fingerprintTextLimit bounds the text part of a fingerprint so trailing
// detail differences do not defeat dedup.
const fingerprintTextLimit = 120

var (
	fpUUIDRe = regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	fpNumRe  = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	fpWsRe   = regexp.MustCompile(`\s+`)
)

// Fingerprint computes the exact-match dedup identity of a finding:
// lower-cased text with UUIDs and numbers replaced by sentinels,
// truncated, then joined with severity and criterion.
func Fingerprint(text, severity, criterionSlug string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = fpUUIDRe.ReplaceAllString(s, "<uuid>")
	s = fpNumRe.ReplaceAllString(s, "<num>")
	s = fpWsRe.ReplaceAllString(s, " ")
	if len(s) > fingerprintTextLimit {
		s = s[:fingerprintTextLimit]
	}
	return s + "|" + severity + "|" + criterionSlug
}
