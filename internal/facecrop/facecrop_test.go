package facecrop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autoclip/worker/internal/apierr"
)

func TestCrop_Success(t *testing.T) {
	r := New("ignored-script.py", "true", 0)
	err := r.Crop(context.Background(), "in.mp4", "out.mp4", ModeFace)
	require.NoError(t, err)
}

func TestCrop_NonZeroExitSurfacesDependencyFailure(t *testing.T) {
	r := New("ignored-script.py", "false", 0)
	err := r.Crop(context.Background(), "in.mp4", "out.mp4", ModeCenter)
	require.Error(t, err)

	var apiErr apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.DependencyFailure, apiErr.Kind)
}

func TestNew_DefaultsPythonBinWhenEmpty(t *testing.T) {
	r := New("script.py", "", 0)
	require.Equal(t, "python3", r.PythonBin)
}
