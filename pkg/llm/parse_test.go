package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsift/logsift/pkg/models"
)

func TestParseScores_Envelope(t *testing.T) {
	content := `{"scores": [
		{"it_security": 0.8, "anomaly": 0.3},
		{"performance_degradation": 0.5}
	]}`

	scores, err := parseScores(content, 2)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, 0.8, scores[0].ITSecurity)
	assert.Equal(t, 0.3, scores[0].Anomaly)
	assert.Equal(t, 0.0, scores[0].PerformanceDegradation)
	assert.Equal(t, 0.5, scores[1].PerformanceDegradation)
}

func TestParseScores_BareArray(t *testing.T) {
	content := `[{"it_security": 0.4}]`

	scores, err := parseScores(content, 1)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, 0.4, scores[0].ITSecurity)
}

func TestParseScores_PadsShortResponse(t *testing.T) {
	content := `{"scores": [{"it_security": 0.9}]}`

	scores, err := parseScores(content, 3)
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Equal(t, 0.9, scores[0].ITSecurity)
	assert.True(t, scores[1].IsZero())
	assert.True(t, scores[2].IsZero())
}

func TestParseScores_TruncatesLongResponse(t *testing.T) {
	content := `{"scores": [{"it_security": 0.1}, {"it_security": 0.2}, {"it_security": 0.3}]}`

	scores, err := parseScores(content, 2)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, 0.2, scores[1].ITSecurity)
}

func TestParseScores_ClampsOutOfRange(t *testing.T) {
	content := `{"scores": [{"it_security": 1.7, "anomaly": -0.4}]}`

	scores, err := parseScores(content, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, scores[0].ITSecurity)
	assert.Equal(t, 0.0, scores[0].Anomaly)
}

func TestParseScores_CodeFence(t *testing.T) {
	content := "```json\n{\"scores\": [{\"anomaly\": 0.6}]}\n```"

	scores, err := parseScores(content, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.6, scores[0].Anomaly)
}

func TestParseScores_Unparseable(t *testing.T) {
	for _, content := range []string{"", "   ", "not json", `{"other": 1}`} {
		_, err := parseScores(content, 1)
		var pe *ParseError
		require.ErrorAs(t, err, &pe, "content %q", content)
	}
}

func TestParseMeta(t *testing.T) {
	content := `{
		"meta_scores": {"it_security": 0.7, "anomaly": 1.4},
		"summary": "  Elevated auth failures across two hosts.  ",
		"new_findings": [
			{"text": "Brute-force attempts against sshd", "severity": "HIGH", "criterion": "it_security"},
			{"text": "Disk latency creeping up", "severity": "bogus", "criterion": "not_a_slug"},
			{"text": "   ", "severity": "low"}
		],
		"resolved_indices": [2, 0, -1, 3],
		"recommended_action": "Rotate exposed credentials",
		"key_event_ids": [101, 0, 102]
	}`

	out, err := parseMeta(content)
	require.NoError(t, err)

	assert.Equal(t, 0.7, out.MetaScores.ITSecurity)
	assert.Equal(t, 1.0, out.MetaScores.Anomaly)
	assert.Equal(t, "Elevated auth failures across two hosts.", out.Summary)
	assert.Equal(t, "Rotate exposed credentials", out.RecommendedAction)

	require.Len(t, out.NewFindings, 2)
	assert.Equal(t, models.FindingSeverityHigh, out.NewFindings[0].Severity)
	assert.Equal(t, "it_security", out.NewFindings[0].CriterionSlug)
	// Unknown severity defaults to medium; unknown criterion is dropped.
	assert.Equal(t, models.FindingSeverityMedium, out.NewFindings[1].Severity)
	assert.Empty(t, out.NewFindings[1].CriterionSlug)

	// Non-positive indices and ids are dropped.
	assert.Equal(t, []int{2, 3}, out.ResolvedIndices)
	assert.Equal(t, []int64{101, 102}, out.KeyEventIDs)
}

func TestParseMeta_StructuralFailure(t *testing.T) {
	for _, content := range []string{"", "not json at all"} {
		_, err := parseMeta(content)
		var mpe *MetaParseError
		require.ErrorAs(t, err, &mpe, "content %q", content)
	}
}

func TestParseMeta_EmptyObject(t *testing.T) {
	out, err := parseMeta(`{}`)
	require.NoError(t, err)
	assert.True(t, out.MetaScores.IsZero())
	assert.Empty(t, out.NewFindings)
	assert.Empty(t, out.ResolvedIndices)
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"leading whitespace", "  ```json\n{}\n```  ", "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFence(tt.in))
		})
	}
}

func TestErrorUnwrapping(t *testing.T) {
	inner := errors.New("boom")
	assert.ErrorIs(t, &CallError{Model: "m", Err: inner}, inner)
	assert.ErrorIs(t, &ParseError{Err: inner}, inner)
	assert.ErrorIs(t, &MetaParseError{Err: inner}, inner)
}
