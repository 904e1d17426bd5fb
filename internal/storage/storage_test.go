package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake media bytes"), 0o600))
	return path
}

func TestUpload_StreamingSucceeds(t *testing.T) {
	path := writeTempFile(t)
	var bufferedCalled bool

	a := &Adapter{
		streamPut: func(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
			return nil
		},
		bufferedPut: func(ctx context.Context, bucket, key string, body []byte, contentType string) error {
			bufferedCalled = true
			return nil
		},
	}

	require.NoError(t, a.Upload(context.Background(), "bucket", "key", path, "video/mp4"))
	require.False(t, bufferedCalled, "streaming succeeded, buffered fallback should not run")
}

func TestUpload_FallsBackToBufferedOnStreamError(t *testing.T) {
	path := writeTempFile(t)
	var bufferedCalled bool

	a := &Adapter{
		streamPut: func(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
			return errors.New("duplex stream not supported by this transport")
		},
		bufferedPut: func(ctx context.Context, bucket, key string, body []byte, contentType string) error {
			bufferedCalled = true
			require.Equal(t, "fake media bytes", string(body))
			return nil
		},
	}

	require.NoError(t, a.Upload(context.Background(), "bucket", "key", path, "video/mp4"))
	require.True(t, bufferedCalled)
}

func TestUpload_PropagatesNonStreamError(t *testing.T) {
	path := writeTempFile(t)

	a := &Adapter{
		streamPut: func(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
			return errors.New("access denied")
		},
		bufferedPut: func(ctx context.Context, bucket, key string, body []byte, contentType string) error {
			t.Fatal("buffered fallback should not run for a non-stream error")
			return nil
		},
	}

	err := a.Upload(context.Background(), "bucket", "key", path, "video/mp4")
	require.Error(t, err)
	require.Contains(t, err.Error(), "access denied")
}

func TestUpload_SurfacesBufferedErrorWhenBothFail(t *testing.T) {
	path := writeTempFile(t)

	a := &Adapter{
		streamPut: func(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
			return errors.New("stream unsupported")
		},
		bufferedPut: func(ctx context.Context, bucket, key string, body []byte, contentType string) error {
			return errors.New("buffered put also failed")
		},
	}

	err := a.Upload(context.Background(), "bucket", "key", path, "video/mp4")
	require.Error(t, err)
	require.Contains(t, err.Error(), "buffered put also failed")
}
