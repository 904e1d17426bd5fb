package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExportStart_EnqueuesOntoIdleSchedulerAtQueuePositionOne(t *testing.T) {
	s := newTestServer(t, "")
	router := s.NewRouter()

	body := `{
		"state": {"clips": [{"id": "c1", "assetId": "a1", "startTime": 0, "startOffset": 0, "duration": 5}]},
		"output": {"width": 1080, "height": 1920},
		"fps": 30,
		"duration": 5
	}`
	req, _ := http.NewRequest("POST", "/editor-export/start", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["jobId"])
	require.Equal(t, "queued", resp["status"])
	require.Equal(t, float64(1), resp["queuePosition"])
	require.Equal(t, float64(0), resp["activeExports"])
	require.Equal(t, float64(1), resp["maxConcurrency"])
}

func TestExportStart_MissingOutputIsRejected(t *testing.T) {
	s := newTestServer(t, "")
	router := s.NewRouter()

	body := `{"state": {"clips": [{"id": "c1", "assetId": "a1", "startTime": 0, "startOffset": 0, "duration": 5}]}, "fps": 30, "duration": 5}`
	req, _ := http.NewRequest("POST", "/editor-export/start", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExportStatus_UnknownJobIsNotFound(t *testing.T) {
	s := newTestServer(t, "")
	router := s.NewRouter()

	req, _ := http.NewRequest("GET", "/editor-export/status/does-not-exist", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}
