package procrunner

import (
	"context"
	"testing"
	"time"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/stretchr/testify/require"
)

func TestSpawn_Success(t *testing.T) {
	res, err := Spawn(context.Background(), "echo", "echo", []string{"hello"})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
}

func TestSpawn_NonZeroExit(t *testing.T) {
	_, err := Spawn(context.Background(), "false", "false", nil)
	require.Error(t, err)

	var apiErr apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.DependencyFailure, apiErr.Kind)
}

func TestSpawn_MissingBinary(t *testing.T) {
	_, err := Spawn(context.Background(), "nope", "this-binary-does-not-exist", nil)
	require.Error(t, err)

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
}

func TestSpawn_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Spawn(ctx, "sleep-forever", "sleep", []string{"5"})
	require.Error(t, err)

	var apiErr apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.Timeout, apiErr.Kind)
}

func TestRingBuffer_BoundsToTrailingBytes(t *testing.T) {
	rb := newRingBuffer(8)
	_, _ = rb.Write([]byte("0123456789"))
	require.Equal(t, "23456789", rb.String())
}
