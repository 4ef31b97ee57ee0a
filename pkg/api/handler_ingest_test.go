package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/ingest"
)

type fakeIngester struct {
	records []ingest.Record
	result  ingest.Result
	err     error
}

func (f *fakeIngester) Ingest(ctx context.Context, records []ingest.Record) (ingest.Result, error) {
	f.records = records
	return f.result, f.err
}

func testConfig() *config.IngestConfig {
	return &config.IngestConfig{
		MaxBatchSize:  100,
		RatePerSecond: 500,
		Burst:         1000,
	}
}

func postIngest(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestIngest_EventsEnvelope(t *testing.T) {
	ing := &fakeIngester{result: ingest.Result{Ingested: 2}}
	srv := NewServer(ing, nil, nil, testConfig())

	w := postIngest(t, srv, `{"events": [{"message": "a"}, {"message": "b"}]}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, ing.records, 2)
	assert.Equal(t, "a", ing.records[0]["message"])

	var result ingest.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Ingested)
}

func TestIngest_BareArray(t *testing.T) {
	ing := &fakeIngester{}
	srv := NewServer(ing, nil, nil, testConfig())

	w := postIngest(t, srv, `[{"message": "a"}, {"message": "b"}, {"message": "c"}]`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, ing.records, 3)
}

func TestIngest_SingleRecord(t *testing.T) {
	ing := &fakeIngester{}
	srv := NewServer(ing, nil, nil, testConfig())

	w := postIngest(t, srv, `{"message": "standalone", "host": "web-1"}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, ing.records, 1)
	assert.Equal(t, "standalone", ing.records[0]["message"])
}

func TestIngest_EmptyEventsEnvelope(t *testing.T) {
	ing := &fakeIngester{}
	srv := NewServer(ing, nil, nil, testConfig())

	w := postIngest(t, srv, `{"events": []}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, ing.records)
}

func TestIngest_UndecodableBody(t *testing.T) {
	ing := &fakeIngester{}
	srv := NewServer(ing, nil, nil, testConfig())

	w := postIngest(t, srv, `"just a string"`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, ing.records)
}

func TestIngest_BatchTooLarge(t *testing.T) {
	ing := &fakeIngester{}
	cfg := testConfig()
	cfg.MaxBatchSize = 2
	srv := NewServer(ing, nil, nil, cfg)

	w := postIngest(t, srv, `[{"message": "a"}, {"message": "b"}, {"message": "c"}]`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, ing.records)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["max_batch_size"])
}

func TestIngest_RateLimited(t *testing.T) {
	ing := &fakeIngester{}
	cfg := testConfig()
	cfg.RatePerSecond = 0.001
	cfg.Burst = 1
	srv := NewServer(ing, nil, nil, cfg)

	first := postIngest(t, srv, `{"message": "a"}`)
	second := postIngest(t, srv, `{"message": "b"}`)

	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestIngest_ServiceError(t *testing.T) {
	ing := &fakeIngester{err: errors.New("database down")}
	srv := NewServer(ing, nil, nil, testConfig())

	w := postIngest(t, srv, `{"message": "a"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "ingest failed")
}

func TestDecodeRecords(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
		ok   bool
	}{
		{"envelope", `{"events": [{"message": "a"}]}`, 1, true},
		{"bare array", `[{"message": "a"}, {"message": "b"}]`, 2, true},
		{"empty bare array", `[]`, 0, true},
		{"single record", `{"message": "a"}`, 1, true},
		{"empty object", `{}`, 0, false},
		{"scalar", `42`, 0, false},
		{"malformed", `{"events": [`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, ok := decodeRecords([]byte(tt.body))
			assert.Equal(t, tt.ok, ok)
			assert.Len(t, records, tt.want)
		})
	}
}

func TestNewServer_NilArgsPanic(t *testing.T) {
	assert.Panics(t, func() { NewServer(nil, nil, nil, testConfig()) })
	assert.Panics(t, func() { NewServer(&fakeIngester{}, nil, nil, nil) })
}
