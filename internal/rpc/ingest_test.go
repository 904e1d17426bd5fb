package rpc

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpload_MissingVideoFieldIsRejected(t *testing.T) {
	s := newTestServer(t, "")
	router := s.NewRouter()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("not_video", "x"))
	require.NoError(t, w.Close())

	req, _ := http.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestYoutube_InvalidURLFailsValidation(t *testing.T) {
	s := newTestServer(t, "")
	router := s.NewRouter()

	req, _ := http.NewRequest("POST", "/youtube", strings.NewReader(`{"url":"not-a-url"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetadata_MissingFieldsFailsValidation(t *testing.T) {
	s := newTestServer(t, "")
	router := s.NewRouter()

	req, _ := http.NewRequest("POST", "/metadata", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}
