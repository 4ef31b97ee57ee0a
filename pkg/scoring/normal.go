package scoring

import (
	"log/slog"
	"regexp"

	"github.com/logsift/logsift/pkg/models"
)

// normalMatcher is the compiled form of a system's normal-behaviour
// templates. Matching events are routine by definition and skip the
// oracle with a zero vector.
type normalMatcher struct {
	rules []compiledNormalRule
}

type compiledNormalRule struct {
	message *regexp.Regexp
	host    *regexp.Regexp
	program *regexp.Regexp
}

// compileNormalMatcher compiles the enabled templates, logging and
// skipping any with invalid patterns so one bad row cannot disable the
// rest.
func compileNormalMatcher(templates []models.NormalBehaviorTemplate, logger *slog.Logger) *normalMatcher {
	m := &normalMatcher{}
	for _, t := range templates {
		rule := compiledNormalRule{}
		var err error
		if rule.message, err = compileFold(t.MessagePattern); err != nil {
			logger.Warn("Skipping normal-behavior template with invalid message pattern",
				"template_id", t.ID, "error", err)
			continue
		}
		if t.HostPattern != "" {
			if rule.host, err = compileFold(t.HostPattern); err != nil {
				logger.Warn("Skipping normal-behavior template with invalid host pattern",
					"template_id", t.ID, "error", err)
				continue
			}
		}
		if t.ProgramPattern != "" {
			if rule.program, err = compileFold(t.ProgramPattern); err != nil {
				logger.Warn("Skipping normal-behavior template with invalid program pattern",
					"template_id", t.ID, "error", err)
				continue
			}
		}
		m.rules = append(m.rules, rule)
	}
	return m
}

// compileFold compiles a pattern with case folding. Routine messages vary
// in casing across shippers, so normal-behaviour matching is always
// case-insensitive.
func compileFold(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// Matches reports whether the event matches any normal-behaviour rule.
// All patterns present on a rule must match.
func (m *normalMatcher) Matches(ev models.Event) bool {
	for _, rule := range m.rules {
		if !rule.message.MatchString(ev.Message) {
			continue
		}
		if rule.host != nil && !rule.host.MatchString(ev.Host) {
			continue
		}
		if rule.program != nil && !rule.program.MatchString(ev.Program) {
			continue
		}
		return true
	}
	return false
}
