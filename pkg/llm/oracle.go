package llm

import (
	"context"

	"github.com/logsift/logsift/pkg/models"
)

// ScoreBatch scores one batch of template representatives for a system and
// returns exactly len(inputs) clamped vectors. A transport failure is a
// *CallError (retryable); an unparseable body is a *ParseError (the caller
// zero-fills and marks events scored).
func (c *Client) ScoreBatch(ctx context.Context, systemSpec string, inputs []ScoringInput) ([]models.ScoreVector, Usage, error) {
	if len(inputs) == 0 {
		return nil, Usage{}, nil
	}

	userPrompt, err := buildScoringUserPrompt(inputs)
	if err != nil {
		return nil, Usage{}, &CallError{Model: c.cfg.Model, Err: err}
	}

	content, usage, err := c.complete(ctx, c.scoringSystemPrompt(systemSpec), userPrompt)
	if err != nil {
		return nil, usage, err
	}

	scores, err := parseScores(content, len(inputs))
	if err != nil {
		c.logger.Warn("Scoring response unparseable, zero-filling batch",
			"batch_size", len(inputs), "error", err)
		return nil, usage, err
	}
	return scores, usage, nil
}

// AnalyzeWindow runs the meta-analysis for one window. A transport failure
// is a *CallError; an unparseable body is a *MetaParseError and the window
// must be recorded as failed by the caller.
func (c *Client) AnalyzeWindow(ctx context.Context, req MetaRequest) (MetaOutput, Usage, error) {
	userPrompt, err := buildMetaUserPrompt(req)
	if err != nil {
		return MetaOutput{}, Usage{}, &CallError{Model: c.cfg.Model, Err: err}
	}

	content, usage, err := c.complete(ctx, c.metaSystemPrompt(req.SystemSpec), userPrompt)
	if err != nil {
		return MetaOutput{}, usage, err
	}

	out, err := parseMeta(content)
	if err != nil {
		return MetaOutput{}, usage, err
	}
	return out, usage, nil
}
