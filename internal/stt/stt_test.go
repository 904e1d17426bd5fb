package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autoclip/worker/internal/apierr"
)

func writeTempAudioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment.mp3")
	require.NoError(t, os.WriteFile(path, []byte("fake mp3 bytes"), 0o644))
	return path
}

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	return New(Config{
		BaseURL:               serverURL,
		APIKey:                "test-key",
		Model:                 "whisper-1",
		Timeout:               5 * time.Second,
		MaxAttempts:           3,
		ConnectionMaxAttempts: 3,
		ConnectionBackoff:     time.Millisecond,
		ConnectionMaxBackoff:  5 * time.Millisecond,
	})
}

func TestTranscribe_SuccessParsesVerboseJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"text": "hello world",
			"language": "en",
			"segments": [{"start": 0, "end": 1.5, "text": "hello world"}],
			"words": [{"start": 0, "end": 0.5, "word": "hello"}, {"start": 0.5, "end": 1.5, "word": "world"}]
		}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	result, err := c.Transcribe(context.Background(), "job-1", writeTempAudioFile(t), "en")
	require.NoError(t, err)
	require.Equal(t, "hello world", result.Text)
	require.Equal(t, "en", result.Language)
	require.Len(t, result.Segments, 1)
	require.Len(t, result.Words, 2)
}

func TestTranscribe_ConnectionErrorRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"service unavailable"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"ok","language":"en","segments":[],"words":[]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	result, err := c.Transcribe(context.Background(), "job-1", writeTempAudioFile(t), "en")
	require.NoError(t, err)
	require.Equal(t, "ok", result.Text)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTranscribe_NonRetryableFailsImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Transcribe(context.Background(), "job-1", writeTempAudioFile(t), "en")
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var apiErr apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.FatalSTT, apiErr.Kind)
}

func TestTranscribe_ChunkTooLargeFailsImmediatelyWithGuidance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_, _ = w.Write([]byte(`{"error":{"message":"file too large"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Transcribe(context.Background(), "job-1", writeTempAudioFile(t), "en")
	require.Error(t, err)

	var apiErr apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.FatalSTT, apiErr.Kind)
	require.Contains(t, apiErr.Msg, "reduce segment length")
}

func TestTranscribe_ConnectionErrorsExhaustRetriesAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Transcribe(context.Background(), "job-1", writeTempAudioFile(t), "en")
	require.Error(t, err)

	var apiErr apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.TransientSTT, apiErr.Kind)
}
