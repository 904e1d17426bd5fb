package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealth_IdleSchedulerReportsZeroedCounters(t *testing.T) {
	s := newTestServer(t, "")
	router := s.NewRouter()

	req, _ := http.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])

	exports := body["exports"].(map[string]interface{})
	require.Equal(t, float64(0), exports["active"])
	require.Equal(t, float64(0), exports["queued"])
	require.Equal(t, float64(1), exports["maxConcurrency"])

	transcription := body["transcription"].(map[string]interface{})
	require.Equal(t, float64(0), transcription["active"])
	require.Equal(t, float64(0), transcription["queued"])
	require.Equal(t, float64(1), transcription["maxConcurrency"])
	require.Equal(t, float64(0), transcription["openJobs"])
}

// /health is explicitly exempt from bearer auth (spec.md §6) even when a
// worker secret is configured.
func TestHealth_NeverRequiresAuth(t *testing.T) {
	s := newTestServer(t, "supersecret")
	router := s.NewRouter()

	req, _ := http.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
}
