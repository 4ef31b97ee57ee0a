package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/logsift/logsift/pkg/ingest"
)

// maxIngestBody caps the request body; a runaway sender cannot exhaust
// memory before the batch-size check runs.
const maxIngestBody = 32 << 20

// ingestHandler handles POST /api/v1/ingest. Accepts three envelope
// forms: {"events": [record…]}, a bare array of records, or a single
// record. Returns 202 with the batch counts, 429 under backpressure.
func (s *Server) ingestHandler(c *gin.Context) {
	if !s.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "ingest rate limit exceeded"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIngestBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	records, ok := decodeRecords(body)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be an events object, an array of records, or a single record"})
		return
	}
	if s.cfg.MaxBatchSize > 0 && len(records) > s.cfg.MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          "batch too large",
			"max_batch_size": s.cfg.MaxBatchSize,
		})
		return
	}

	result, err := s.ingester.Ingest(c.Request.Context(), records)
	if err != nil {
		s.logger.Error("Ingest batch failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest failed"})
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// decodeRecords tries the three accepted envelope forms in order.
func decodeRecords(body []byte) ([]ingest.Record, bool) {
	var envelope struct {
		Events []ingest.Record `json:"events"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Events != nil {
		return envelope.Events, true
	}

	var bare []ingest.Record
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, true
	}

	var single ingest.Record
	if err := json.Unmarshal(body, &single); err == nil && len(single) > 0 {
		return []ingest.Record{single}, true
	}
	return nil, false
}
