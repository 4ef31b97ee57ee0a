package models

import "time"

// Event source selectors for a monitored system.
const (
	EventSourceLocal    = "local"
	EventSourceExternal = "external"
)

// MonitoredSystem is a logical unit (server, service, cluster) that owns
// log sources, events, windows, and findings.
type MonitoredSystem struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Description           string    `json:"description,omitempty"`
	RetentionDays         *int      `json:"retention_days,omitempty"`
	TimezoneOffsetMinutes *int      `json:"timezone_offset_minutes,omitempty"`
	EventSource           string    `json:"event_source"`
	CreatedAt             time.Time `json:"created_at"`
}

// Selector fields a log source may match on. Every key present in a
// selector must match for the source to claim an event.
const (
	SelectorHost     = "host"
	SelectorSourceIP = "source_ip"
	SelectorProgram  = "program"
	SelectorService  = "service"
	SelectorFacility = "facility"
)

// LogSource is a routing rule owned by one system. Lower priority is
// evaluated first; at least one selector field is required.
type LogSource struct {
	ID       string            `json:"id"`
	SystemID string            `json:"system_id"`
	Label    string            `json:"label"`
	Selector map[string]string `json:"selector"`
	Priority int               `json:"priority"`
	Enabled  bool              `json:"enabled"`
}

// NormalBehaviorTemplate is a user-curated regex marking events as routine.
// Matching events are excluded from scoring and from max-event
// contribution.
type NormalBehaviorTemplate struct {
	ID             string `json:"id"`
	SystemID       string `json:"system_id"`
	MessagePattern string `json:"message_pattern"`
	HostPattern    string `json:"host_pattern,omitempty"`
	ProgramPattern string `json:"program_pattern,omitempty"`
	Enabled        bool   `json:"enabled"`
}
