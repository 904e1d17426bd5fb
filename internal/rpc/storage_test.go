package rpc

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDownloadURL_MissingKeyFailsValidation(t *testing.T) {
	s := newTestServer(t, "")
	router := s.NewRouter()

	req, _ := http.NewRequest("POST", "/download-url", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCleanup_MissingSessionIDFailsValidation(t *testing.T) {
	s := newTestServer(t, "")
	router := s.NewRouter()

	req, _ := http.NewRequest("POST", "/cleanup", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}
