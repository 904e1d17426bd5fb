package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autoclip/worker/internal/apierr"
)

func TestDownload_Success(t *testing.T) {
	d := New("true", 0)
	err := d.Download(context.Background(), "https://example.com/video", "out.mp4")
	require.NoError(t, err)
}

func TestDownload_NonZeroExitSurfacesDependencyFailure(t *testing.T) {
	d := New("false", 0)
	err := d.Download(context.Background(), "https://example.com/video", "out.mp4")
	require.Error(t, err)

	var apiErr apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.DependencyFailure, apiErr.Kind)
}

func TestNew_DefaultsBinPathWhenEmpty(t *testing.T) {
	d := New("", 0)
	require.Equal(t, "yt-dlp", d.BinPath)
}
