package llm

import "fmt"

// CallError is a transport-level failure talking to the oracle: HTTP
// errors, timeouts, empty responses. Batches failing with a CallError are
// retried at the next pipeline tick.
type CallError struct {
	Model      string
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm call failed (model=%s, status=%d): %v", e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm call failed (model=%s): %v", e.Model, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ParseError is a malformed scoring response. The affected templates get
// zero vectors and their events are still marked scored, so a persistently
// confused model cannot wedge the pipeline.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("llm scoring response unparseable: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// MetaParseError is a malformed meta-analysis response. The window is
// recorded as failed: no effective-score update and no alert evaluation.
type MetaParseError struct {
	Err error
}

func (e *MetaParseError) Error() string { return fmt.Sprintf("meta response unparseable: %v", e.Err) }
func (e *MetaParseError) Unwrap() error { return e.Err }
