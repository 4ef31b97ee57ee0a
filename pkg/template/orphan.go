package template

import (
	"regexp"
	"strings"
)

// orphanMaxLength bounds the orphan-fragment heuristic: long messages are
// always considered complete statements.
const orphanMaxLength = 120

var (
	// sqlFragmentRe matches messages that start mid-statement — the usual
	// shape of a PostgreSQL multiline leftover.
	sqlFragmentRe = regexp.MustCompile(`(?i)^\s*(select|insert|update|delete|from|where|and|or|join|group by|order by|values|set)\b`)

	// processLineRe matches bare "Process NNN" lines from deadlock reports.
	processLineRe = regexp.MustCompile(`^\s*Process \d+`)
)

// IsOrphanFragment reports whether a message looks like a stray multiline
// continuation (SQL fragment, deadlock process line, or an indented tail).
// Orphans are stamped as scored with a zero vector and bypass the LLM.
func IsOrphanFragment(message string) bool {
	if len(message) >= orphanMaxLength {
		return false
	}
	if strings.HasPrefix(message, "#011") || strings.HasPrefix(message, "\t") {
		return true
	}
	if sqlFragmentRe.MatchString(message) {
		return true
	}
	return processLineRe.MatchString(message)
}
