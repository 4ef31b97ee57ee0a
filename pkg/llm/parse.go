package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/logsift/logsift/pkg/models"
)

// parseScores decodes a scoring response into exactly n clamped vectors.
// Accepts {"scores": [...]} or a bare array. Short responses are padded
// with zero vectors; extras are truncated; out-of-range values clamp;
// missing fields default to 0.
func parseScores(content string, n int) ([]models.ScoreVector, error) {
	content = stripCodeFence(content)
	if strings.TrimSpace(content) == "" {
		return nil, &ParseError{Err: fmt.Errorf("empty content")}
	}

	var envelope struct {
		Scores []models.ScoreVector `json:"scores"`
	}
	if err := json.Unmarshal([]byte(content), &envelope); err == nil && envelope.Scores != nil {
		return fitScores(envelope.Scores, n), nil
	}

	var bare []models.ScoreVector
	if err := json.Unmarshal([]byte(content), &bare); err == nil {
		return fitScores(bare, n), nil
	}

	return nil, &ParseError{Err: fmt.Errorf("content is neither a scores object nor an array")}
}

func fitScores(scores []models.ScoreVector, n int) []models.ScoreVector {
	out := make([]models.ScoreVector, n)
	for i := 0; i < n && i < len(scores); i++ {
		out[i] = scores[i].Clamped()
	}
	return out
}

// MetaOutput is the parsed meta-analysis response.
type MetaOutput struct {
	MetaScores        models.ScoreVector
	Summary           string
	NewFindings       []models.NewFinding
	ResolvedIndices   []int
	RecommendedAction string
	KeyEventIDs       []int64
}

// rawMetaResponse mirrors the oracle's JSON with loose types so malformed
// fields can be repaired instead of failing the decode.
type rawMetaResponse struct {
	MetaScores        models.ScoreVector   `json:"meta_scores"`
	Summary           string               `json:"summary"`
	NewFindings       []rawFinding         `json:"new_findings"`
	ResolvedIndices   []json.Number        `json:"resolved_indices"`
	RecommendedAction string               `json:"recommended_action"`
	KeyEventIDs       []json.Number        `json:"key_event_ids"`
}

type rawFinding struct {
	Text          string `json:"text"`
	Severity      string `json:"severity"`
	CriterionSlug string `json:"criterion"`
}

// parseMeta decodes a meta response. Unknown fields are ignored, malformed
// severities default to medium, non-numeric resolved indices are dropped,
// and meta scores clamp to [0,1]. Structural failure is a *MetaParseError.
func parseMeta(content string) (MetaOutput, error) {
	content = stripCodeFence(content)
	if strings.TrimSpace(content) == "" {
		return MetaOutput{}, &MetaParseError{Err: fmt.Errorf("empty content")}
	}

	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	var raw rawMetaResponse
	if err := dec.Decode(&raw); err != nil {
		return MetaOutput{}, &MetaParseError{Err: err}
	}

	out := MetaOutput{
		MetaScores:        raw.MetaScores.Clamped(),
		Summary:           strings.TrimSpace(raw.Summary),
		RecommendedAction: strings.TrimSpace(raw.RecommendedAction),
	}

	for _, f := range raw.NewFindings {
		text := strings.TrimSpace(f.Text)
		if text == "" {
			continue
		}
		severity := strings.ToLower(strings.TrimSpace(f.Severity))
		if models.FindingSeverityRank(severity) > models.FindingSeverityRank(models.FindingSeverityInfo) {
			severity = models.FindingSeverityMedium
		}
		criterion := strings.ToLower(strings.TrimSpace(f.CriterionSlug))
		if _, ok := models.CriterionBySlug(criterion); !ok {
			criterion = ""
		}
		out.NewFindings = append(out.NewFindings, models.NewFinding{
			Text:          text,
			Severity:      severity,
			CriterionSlug: criterion,
		})
	}

	for _, idx := range raw.ResolvedIndices {
		if i, err := idx.Int64(); err == nil && i > 0 {
			out.ResolvedIndices = append(out.ResolvedIndices, int(i))
		}
	}
	for _, id := range raw.KeyEventIDs {
		if i, err := id.Int64(); err == nil && i > 0 {
			out.KeyEventIDs = append(out.KeyEventIDs, i)
		}
	}

	return out, nil
}

// stripCodeFence removes a surrounding markdown code fence, which some
// models emit despite the json_object response format.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
