package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindingSeverityRank_Ordering(t *testing.T) {
	ordered := []string{
		FindingSeverityCritical, FindingSeverityHigh, FindingSeverityMedium,
		FindingSeverityLow, FindingSeverityInfo,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, FindingSeverityRank(ordered[i-1]), FindingSeverityRank(ordered[i]))
	}
	assert.Greater(t, FindingSeverityRank("bogus"), FindingSeverityRank(FindingSeverityInfo))
}

func TestDecayedSeverity(t *testing.T) {
	tests := []struct{ in, want string }{
		{FindingSeverityCritical, FindingSeverityHigh},
		{FindingSeverityHigh, FindingSeverityMedium},
		{FindingSeverityMedium, FindingSeverityLow},
		{FindingSeverityLow, FindingSeverityInfo},
		{FindingSeverityInfo, FindingSeverityInfo},
		{"unknown", "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DecayedSeverity(tt.in), tt.in)
	}
}
