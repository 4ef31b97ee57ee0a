// Package ingest turns heterogeneous raw log records (syslog-style,
// GELF-style, flat key-value JSON) into canonical events, reassembles
// multiline fragments, and routes events to their owning system.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is one raw ingest entry: an unordered mapping from field name to
// value, as decoded from the ingest payload.
type Record map[string]any

// ErrInvalidEntry marks a record without a usable message. Invalid entries
// are dropped silently by the batch path.
var ErrInvalidEntry = errors.New("invalid entry: missing message")

// messageAliases is consulted in order; the first non-empty value wins.
var messageAliases = []string{"message", "short_message", "msg"}

// knownFields are mapped onto the Normalized struct; everything else is
// collected into Raw.
var knownFields = map[string]bool{
	"message": true, "short_message": true, "msg": true,
	"timestamp": true, "severity": true, "level": true,
	"host": true, "source_ip": true, "service": true,
	"facility": true, "program": true,
	"trace_id": true, "span_id": true, "external_id": true,
	"raw": true,
}

// Normalized is the canonical form of one raw record, before routing.
type Normalized struct {
	Message    string
	Timestamp  time.Time
	Severity   string
	Host       string
	SourceIP   string
	Service    string
	Facility   string
	Program    string
	TraceID    string
	SpanID     string
	ExternalID string
	Raw        map[string]any
}

// Normalize converts a raw record into its canonical form.
// now is injected so callers (and tests) control the fallback timestamp.
func Normalize(rec Record, now time.Time) (Normalized, error) {
	msg := resolveMessage(rec)
	if strings.TrimSpace(msg) == "" {
		return Normalized{}, ErrInvalidEntry
	}

	n := Normalized{
		Message:    msg,
		Timestamp:  resolveTimestamp(rec["timestamp"], now),
		Host:       stringField(rec, "host"),
		SourceIP:   stringField(rec, "source_ip"),
		Service:    stringField(rec, "service"),
		Facility:   stringField(rec, "facility"),
		Program:    stringField(rec, "program"),
		TraceID:    stringField(rec, "trace_id"),
		SpanID:     stringField(rec, "span_id"),
		ExternalID: stringField(rec, "external_id"),
	}

	sev := rec["severity"]
	if sev == nil {
		sev = rec["level"]
	}
	header := resolveSeverity(sev)
	n.Severity = EnrichSeverity(header, n.Message)

	n.Raw = collectRaw(rec)
	return n, nil
}

func resolveMessage(rec Record) string {
	for _, alias := range messageAliases {
		if v, ok := rec[alias]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

// timestampLayouts are tried in order for string timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// resolveTimestamp accepts ISO 8601 strings or numeric epochs. Numerics are
// classified by magnitude: >1e18 ns, >1e15 µs, >1e12 ms, else seconds.
// Anything unparseable falls back to now.
func resolveTimestamp(v any, now time.Time) time.Time {
	switch ts := v.(type) {
	case nil:
		return now
	case time.Time:
		return ts.UTC()
	case string:
		s := strings.TrimSpace(ts)
		if s == "" {
			return now
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToTime(f)
		}
		return now
	case float64:
		return epochToTime(ts)
	case int64:
		return epochToTime(float64(ts))
	case int:
		return epochToTime(float64(ts))
	case json.Number:
		if f, err := ts.Float64(); err == nil {
			return epochToTime(f)
		}
		return now
	}
	return now
}

func epochToTime(f float64) time.Time {
	switch {
	case f > 1e18: // nanoseconds
		return time.Unix(0, int64(f)).UTC()
	case f > 1e15: // microseconds
		return time.UnixMicro(int64(f)).UTC()
	case f > 1e12: // milliseconds
		return time.UnixMilli(int64(f)).UTC()
	default: // seconds (possibly fractional)
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	}
}

func stringField(rec Record, key string) string {
	if v, ok := rec[key]; ok {
		switch s := v.(type) {
		case string:
			return strings.TrimSpace(s)
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		case int:
			return strconv.Itoa(s)
		}
	}
	return ""
}

// collectRaw gathers unknown fields into a raw mapping and merges any
// connector-provided raw map. The connector's entries win on key conflict.
func collectRaw(rec Record) map[string]any {
	raw := make(map[string]any)
	if provided, ok := rec["raw"].(map[string]any); ok {
		for k, v := range provided {
			raw[k] = v
		}
	}
	for k, v := range rec {
		if knownFields[k] {
			continue
		}
		if _, exists := raw[k]; !exists {
			raw[k] = v
		}
	}
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// syslogSeverities maps RFC 5424 numeric severities to names.
var syslogSeverities = []string{
	"emerg", "alert", "crit", "error", "warning", "notice", "info", "debug",
}

// severityAliases folds common spellings onto the canonical names.
var severityAliases = map[string]string{
	"emergency":     "emerg",
	"panic":         "emerg",
	"critical":      "crit",
	"err":           "error",
	"warn":          "warning",
	"informational": "info",
	"information":   "info",
	"trace":         "debug",
}

// resolveSeverity maps a raw severity value to a canonical name, or ""
// when the value is unusable.
func resolveSeverity(v any) string {
	switch sev := v.(type) {
	case string:
		s := strings.ToLower(strings.TrimSpace(sev))
		if canonical, ok := severityAliases[s]; ok {
			return canonical
		}
		for _, name := range syslogSeverities {
			if s == name {
				return name
			}
		}
		// Numeric severity delivered as a string
		if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 7 {
			return syslogSeverities[n]
		}
		return ""
	case float64:
		n := int(sev)
		if n >= 0 && n <= 7 && sev == float64(n) {
			return syslogSeverities[n]
		}
		return ""
	case int:
		if sev >= 0 && sev <= 7 {
			return syslogSeverities[sev]
		}
		return ""
	}
	return ""
}

// ApplyTimezoneOffset shifts a timestamp by the system's configured offset
// (integer minutes, subtracted from the parsed time).
func ApplyTimezoneOffset(t time.Time, offsetMinutes int) time.Time {
	if offsetMinutes == 0 {
		return t
	}
	return t.Add(-time.Duration(offsetMinutes) * time.Minute)
}

func (r Record) String() string {
	return fmt.Sprintf("record(%d fields)", len(r))
}
