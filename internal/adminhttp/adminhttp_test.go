package adminhttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logcollectord/internal/collector"
	"logcollectord/internal/transport"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(noopWriter{})
	return l
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestHealthHandlerWithNoTransportOrStorage(t *testing.T) {
	s := New("127.0.0.1:0", nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.healthHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	_, hasSessions := body["sessions"]
	assert.False(t, hasSessions)
}

func TestStatsHandlerReportsRuntimeFields(t *testing.T) {
	s := New("127.0.0.1:0", nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.statsHandler(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "uptime")
	assert.Contains(t, body, "goroutines")
	assert.Contains(t, body, "memory_mb")
}

func TestStatsHandlerIncludesSessionStatsWithTransport(t *testing.T) {
	tr := transport.New(transport.Config{ListenAddr: "127.0.0.1", Port: 0}, nil, testLogger())
	s := New("127.0.0.1:0", tr, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.statsHandler(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "session_stats")
	assert.Empty(t, body["session_stats"])
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	s := New("127.0.0.1:0", nil, nil, testLogger())
	assert.NotPanics(t, func() { s.Stop() })
}

func TestCollectorStatsJSON(t *testing.T) {
	out := CollectorStatsJSON(7, collector.Stats{Sent: 10, Filtered: 2, Errors: 1, QueueSize: 3})
	assert.Equal(t, "7", out["session_id"])
	assert.Equal(t, int64(10), out["sent"])
	assert.Equal(t, 3, out["queue_size"])
}
