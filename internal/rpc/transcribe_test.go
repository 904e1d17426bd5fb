package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranscribeQueue_DedupsWithinSameSession(t *testing.T) {
	s := newTestServer(t, "")
	router := s.NewRouter()

	body := `{"sessionId":"sess1","videoKey":"sessions/sess1/input.mp4"}`

	req1, _ := http.NewRequest("POST", "/transcribe/queue", strings.NewReader(body))
	rr1 := httptest.NewRecorder()
	router.ServeHTTP(rr1, req1)
	require.Equal(t, http.StatusAccepted, rr1.Code)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal(rr1.Body.Bytes(), &first))

	req2, _ := http.NewRequest("POST", "/transcribe/queue", strings.NewReader(body))
	rr2 := httptest.NewRecorder()
	router.ServeHTTP(rr2, req2)
	require.Equal(t, http.StatusOK, rr2.Code)

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal(rr2.Body.Bytes(), &second))

	require.Equal(t, first["jobId"], second["jobId"])
	require.NotEmpty(t, second["jobId"])
}

func TestTranscribeQueue_DifferentSessionsGetDifferentJobs(t *testing.T) {
	s := newTestServer(t, "")
	router := s.NewRouter()

	req1, _ := http.NewRequest("POST", "/transcribe/queue", strings.NewReader(`{"sessionId":"sessA","videoKey":"sessions/sessA/input.mp4"}`))
	rr1 := httptest.NewRecorder()
	router.ServeHTTP(rr1, req1)

	req2, _ := http.NewRequest("POST", "/transcribe/queue", strings.NewReader(`{"sessionId":"sessB","videoKey":"sessions/sessB/input.mp4"}`))
	rr2 := httptest.NewRecorder()
	router.ServeHTTP(rr2, req2)

	var first, second map[string]interface{}
	require.NoError(t, json.Unmarshal(rr1.Body.Bytes(), &first))
	require.NoError(t, json.Unmarshal(rr2.Body.Bytes(), &second))

	require.NotEqual(t, first["jobId"], second["jobId"])
}

func TestTranscribeStatus_UnknownSessionIsNotFound(t *testing.T) {
	s := newTestServer(t, "")
	router := s.NewRouter()

	req, _ := http.NewRequest("GET", "/transcribe/status/no-such-session", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTranscribeStatus_QueuedJobReturns202(t *testing.T) {
	s := newTestServer(t, "")
	router := s.NewRouter()

	enqueueReq, _ := http.NewRequest("POST", "/transcribe/queue", strings.NewReader(`{"sessionId":"sess1","videoKey":"sessions/sess1/input.mp4"}`))
	enqueueRR := httptest.NewRecorder()
	router.ServeHTTP(enqueueRR, enqueueReq)

	statusReq, _ := http.NewRequest("GET", "/transcribe/status/sess1", nil)
	statusRR := httptest.NewRecorder()
	router.ServeHTTP(statusRR, statusReq)

	require.Equal(t, http.StatusAccepted, statusRR.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(statusRR.Body.Bytes(), &body))
	require.Equal(t, "queued", body["status"])
	require.Equal(t, "sess1", body["sessionId"])
}
