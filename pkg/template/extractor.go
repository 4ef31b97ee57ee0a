// Package template collapses near-identical log messages into canonical
// templates so LLM scoring work scales with pattern count, not event count.
package template

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/logsift/logsift/pkg/models"
)

// Replacement order matters: composite tokens (timestamps, UUIDs, IPs,
// paths) must be replaced before the bare-number pass would shred them.
var (
	tsRe     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[t ]\d{2}:\d{2}:\d{2}(\.\d+)?(z|[+-]\d{2}:?\d{2})?\b|\b\d{2}:\d{2}:\d{2}(\.\d+)?\b`)
	uuidRe   = regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	ipv4Re   = regexp.MustCompile(`\b(\d{1,3}\.){3}\d{1,3}(:\d+)?\b`)
	ipv6Re   = regexp.MustCompile(`\b([0-9a-f]{1,4}:){2,7}[0-9a-f]{1,4}\b`)
	pathRe   = regexp.MustCompile(`(^|[\s"'=(])(/[\w.\-]+){2,}/?`)
	quotedRe = regexp.MustCompile(`"[^"]*"|'[^']*'`)
	hexRe    = regexp.MustCompile(`\b0x[0-9a-f]+\b|\b[0-9a-f]{12,}\b`)
	numRe    = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
)

// SQL literal-list collapsing: IN (1, 2, 3) and VALUES (...) lists all
// canonicalise to a single placeholder list.
var (
	sqlInListRe = regexp.MustCompile(`\bin\s*\(\s*[^)]*\)`)
	wsRe        = regexp.MustCompile(`\s+`)
)

// Canonicalize reduces a message to its template form: lower-cased,
// trimmed, with volatile tokens replaced by fixed sentinels.
func Canonicalize(message string) string {
	s := strings.ToLower(strings.TrimSpace(message))

	s = tsRe.ReplaceAllString(s, "<TS>")
	s = uuidRe.ReplaceAllString(s, "<UUID>")
	s = ipv4Re.ReplaceAllString(s, "<IP>")
	s = ipv6Re.ReplaceAllString(s, "<IP>")
	s = quotedRe.ReplaceAllString(s, "<STR>")
	s = pathRe.ReplaceAllString(s, "$1<PATH>")
	s = hexRe.ReplaceAllString(s, "<NUM>")
	s = numRe.ReplaceAllString(s, "<NUM>")

	s = sqlInListRe.ReplaceAllString(s, "in (<NUM>)")
	s = wsRe.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

// PatternHash returns the stable identity of a canonical form.
func PatternHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Group is the batch-local grouping of events sharing one pattern hash.
// The representative is the first event encountered; the set of
// (PatternHash, EventIDs) pairs is stable under input permutation.
type Group struct {
	PatternHash  string
	Canonical    string
	Representative models.Event
	EventIDs     []int64
}

// Extract groups a batch of events by canonical form. Groups are returned
// ordered by pattern hash for deterministic downstream batching.
func Extract(events []models.Event) []Group {
	byHash := make(map[string]*Group)
	for _, ev := range events {
		canonical := Canonicalize(ev.Message)
		hash := PatternHash(canonical)
		g, ok := byHash[hash]
		if !ok {
			g = &Group{PatternHash: hash, Canonical: canonical, Representative: ev}
			byHash[hash] = g
		}
		g.EventIDs = append(g.EventIDs, ev.ID)
	}

	out := make([]Group, 0, len(byHash))
	for _, g := range byHash {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatternHash < out[j].PatternHash })
	return out
}
