package ingest

import (
	"regexp"

	"github.com/logsift/logsift/pkg/models"
)

// severityRule upgrades the header severity when the message body carries
// stronger evidence. Rules are ordered most-severe first; the first match
// wins.
type severityRule struct {
	severity string
	re       *regexp.Regexp
}

var severityRules = []severityRule{
	{models.SeverityEmergency, regexp.MustCompile(`(?i)kernel panic`)},
	{models.SeverityCritical, regexp.MustCompile(`(?i)\bpanic\b|out of memory|oom-?kill|segfault|segmentation fault`)},
	{models.SeverityError, regexp.MustCompile(`(?i)\blevel=error\b|"level"\s*:\s*"error"|^\s*(ERROR|ERR|FATAL)[:\s]|\bfatal\b`)},
	{models.SeverityWarning, regexp.MustCompile(`(?i)\blevel=warn(ing)?\b|"level"\s*:\s*"warn(ing)?"|^\s*WARN(ING)?[:\s]|\bdeprecated\b`)},
}

// EnrichSeverity scans the message body against the ordered ruleset and
// returns the stronger of the header severity and the body evidence.
// Upgrades only — a debug body never downgrades an error header.
func EnrichSeverity(header, message string) string {
	for _, rule := range severityRules {
		if rule.re.MatchString(message) {
			if header == "" || models.SeverityRank(rule.severity) < models.SeverityRank(header) {
				return rule.severity
			}
			return header
		}
	}
	return header
}
