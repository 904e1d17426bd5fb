package render

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autoclip/worker/internal/apierr"
)

func testCfg() Config {
	return Config{
		MaxConcurrency:  2,
		HighMinHeight:   1920,
		MediumMinHeight: 1600,
		LowMinHeight:    1080,
		MaxFPS:          30,
		MinFPS:          24,
	}
}

func TestTargetHeight_MapsEachQualityBand(t *testing.T) {
	cfg := testCfg()
	require.Equal(t, 1920, TargetHeight(QualityHigh, cfg))
	require.Equal(t, 1600, TargetHeight(QualityMedium, cfg))
	require.Equal(t, 1080, TargetHeight(QualityLow, cfg))
	require.Equal(t, 1080, TargetHeight("", cfg))
}

func TestClampFPS_PassesThroughWithinRange(t *testing.T) {
	require.Equal(t, 25.0, ClampFPS(25, testCfg()))
}

func TestClampFPS_CapsAtConfiguredMax(t *testing.T) {
	require.Equal(t, 30.0, ClampFPS(60, testCfg()))
}

func TestClampFPS_FloorsAtConfiguredMin(t *testing.T) {
	require.Equal(t, 24.0, ClampFPS(10, testCfg()))
}

func TestClampFPS_ZeroOrNegativeSourceFallsBackToMax(t *testing.T) {
	require.Equal(t, 30.0, ClampFPS(0, testCfg()))
	require.Equal(t, 30.0, ClampFPS(-5, testCfg()))
}

func TestClipRequest_ValidateRejectsEndBeforeStart(t *testing.T) {
	err := ClipRequest{Index: 0, Start: 10, End: 5}.Validate()
	require.Error(t, err)

	var apiErr apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.BadRequest, apiErr.Kind)
	require.Equal(t, "Invalid clip range at index 0.", apiErr.Msg)
}

func TestClipRequest_ValidateRejectsNonFiniteBounds(t *testing.T) {
	err := ClipRequest{Index: 2, Start: 0, End: math.Inf(1)}.Validate()
	require.Error(t, err)
}

func TestClipRequest_ValidateAcceptsOrderedFiniteRange(t *testing.T) {
	err := ClipRequest{Index: 0, Start: 5, End: 10}.Validate()
	require.NoError(t, err)
}

func TestSemaphore_TryAcquireRespectsCapacity(t *testing.T) {
	sem := NewSemaphore(2)
	require.True(t, sem.TryAcquire())
	require.True(t, sem.TryAcquire())
	require.False(t, sem.TryAcquire())

	sem.Release()
	require.True(t, sem.TryAcquire())
}
