// Package models defines the domain types shared across the analysis
// pipeline: criteria, events, templates, windows, findings, and the
// notification surface.
package models

// CriterionID identifies one of the six fixed analysis axes.
type CriterionID int

// The six criteria are fixed and immutable. IDs are stable and match the
// seeded criterion rows.
const (
	CriterionITSecurity CriterionID = iota + 1
	CriterionPerformanceDegradation
	CriterionFailurePrediction
	CriterionAnomaly
	CriterionComplianceAudit
	CriterionOperationalRisk
)

// Criterion is one analysis axis with a stable integer id and slug.
type Criterion struct {
	ID   CriterionID `json:"id"`
	Slug string      `json:"slug"`
}

// Criteria returns the six fixed criteria in id order.
func Criteria() []Criterion {
	return []Criterion{
		{CriterionITSecurity, "it_security"},
		{CriterionPerformanceDegradation, "performance_degradation"},
		{CriterionFailurePrediction, "failure_prediction"},
		{CriterionAnomaly, "anomaly"},
		{CriterionComplianceAudit, "compliance_audit"},
		{CriterionOperationalRisk, "operational_risk"},
	}
}

// CriterionSlug returns the slug for an id, or "" if the id is unknown.
func CriterionSlug(id CriterionID) string {
	for _, c := range Criteria() {
		if c.ID == id {
			return c.Slug
		}
	}
	return ""
}

// CriterionBySlug resolves a slug to its criterion id.
// The second return value is false for unknown slugs.
func CriterionBySlug(slug string) (CriterionID, bool) {
	for _, c := range Criteria() {
		if c.Slug == slug {
			return c.ID, true
		}
	}
	return 0, false
}

// ScoreVector holds one float score in [0,1] per criterion.
// The JSON field names are the criterion slugs, which is also the shape the
// LLM oracle is instructed to return.
type ScoreVector struct {
	ITSecurity             float64 `json:"it_security"`
	PerformanceDegradation float64 `json:"performance_degradation"`
	FailurePrediction      float64 `json:"failure_prediction"`
	Anomaly                float64 `json:"anomaly"`
	ComplianceAudit        float64 `json:"compliance_audit"`
	OperationalRisk        float64 `json:"operational_risk"`
}

// Get returns the score for a criterion id (0 for unknown ids).
func (v ScoreVector) Get(id CriterionID) float64 {
	switch id {
	case CriterionITSecurity:
		return v.ITSecurity
	case CriterionPerformanceDegradation:
		return v.PerformanceDegradation
	case CriterionFailurePrediction:
		return v.FailurePrediction
	case CriterionAnomaly:
		return v.Anomaly
	case CriterionComplianceAudit:
		return v.ComplianceAudit
	case CriterionOperationalRisk:
		return v.OperationalRisk
	}
	return 0
}

// Set assigns the score for a criterion id. Unknown ids are ignored.
func (v *ScoreVector) Set(id CriterionID, score float64) {
	switch id {
	case CriterionITSecurity:
		v.ITSecurity = score
	case CriterionPerformanceDegradation:
		v.PerformanceDegradation = score
	case CriterionFailurePrediction:
		v.FailurePrediction = score
	case CriterionAnomaly:
		v.Anomaly = score
	case CriterionComplianceAudit:
		v.ComplianceAudit = score
	case CriterionOperationalRisk:
		v.OperationalRisk = score
	}
}

// Max returns the largest score in the vector.
func (v ScoreVector) Max() float64 {
	max := 0.0
	for _, c := range Criteria() {
		if s := v.Get(c.ID); s > max {
			max = s
		}
	}
	return max
}

// IsZero reports whether every score in the vector is zero.
func (v ScoreVector) IsZero() bool {
	return v == ScoreVector{}
}

// Clamped returns a copy with every score clamped into [0,1].
// NaN scores clamp to 0 so a malformed oracle response can never poison
// downstream aggregation.
func (v ScoreVector) Clamped() ScoreVector {
	out := v
	for _, c := range Criteria() {
		out.Set(c.ID, clamp01(v.Get(c.ID)))
	}
	return out
}

func clamp01(f float64) float64 {
	if f != f { // NaN
		return 0
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
