package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

// continuationRe matches PostgreSQL-style continuation headers of the form
// "[N-K] body": N is the session line number, K the continuation index
// (1 = head).
var continuationRe = regexp.MustCompile(`^\[(\d+)-(\d+)\]\s?(.*)$`)

// octalEscapes are syslog octal escapes produced by PostgreSQL log lines.
var octalEscapes = strings.NewReplacer("#011", "\t", "#012", "\n")

// decodeOctal expands #011 (tab) and #012 (newline) escapes.
func decodeOctal(s string) string {
	return octalEscapes.Replace(s)
}

type continuationKey struct {
	host        string
	program     string
	sessionLine int
}

// Reassemble merges PostgreSQL-style multiline fragments before
// normalisation. Consecutive records sharing (host, program, sessionLine)
// with strictly sequential continuation indices K = 2, 3, … are folded into
// the head record, bodies joined with "\n". Orphan continuations pass
// through with the marker stripped. Records without a continuation marker
// pass through untouched.
func Reassemble(records []Record) []Record {
	out := make([]Record, 0, len(records))

	var headIdx = -1
	var headKey continuationKey
	var nextK int
	var parts []string

	flush := func() {
		if headIdx >= 0 {
			setMessage(out[headIdx], strings.Join(parts, "\n"))
			headIdx = -1
			parts = nil
		}
	}

	for _, rec := range records {
		msg := resolveMessage(rec)
		m := continuationRe.FindStringSubmatch(msg)
		if m == nil {
			flush()
			out = append(out, rec)
			continue
		}

		sessionLine, _ := strconv.Atoi(m[1])
		k, _ := strconv.Atoi(m[2])
		body := decodeOctal(m[3])
		key := continuationKey{
			host:        stringField(rec, "host"),
			program:     stringField(rec, "program"),
			sessionLine: sessionLine,
		}

		switch {
		case k == 1:
			// New head: flush any open sequence and start collecting.
			flush()
			setMessage(rec, body)
			out = append(out, rec)
			headIdx = len(out) - 1
			headKey = key
			nextK = 2
			parts = []string{body}
		case headIdx >= 0 && key == headKey && k == nextK:
			parts = append(parts, body)
			nextK++
		default:
			// Orphan continuation: marker stripped, passes through.
			flush()
			setMessage(rec, body)
			out = append(out, rec)
		}
	}
	flush()

	return out
}

// setMessage writes the message back under the alias the record used.
func setMessage(rec Record, msg string) {
	for _, alias := range messageAliases {
		if _, ok := rec[alias]; ok {
			rec[alias] = msg
			return
		}
	}
	rec["message"] = msg
}
