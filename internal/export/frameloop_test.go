package export

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autoclip/worker/internal/apierr"
)

type fakeRenderer struct {
	closed       bool
	closeReason  string
	setTimeCalls []float64
	setTimeErr   error
	frame        []byte
	screenshotErr error
}

func (f *fakeRenderer) SetTime(_ context.Context, seconds float64) error {
	f.setTimeCalls = append(f.setTimeCalls, seconds)
	return f.setTimeErr
}

func (f *fakeRenderer) Screenshot(_ context.Context) ([]byte, error) {
	if f.screenshotErr != nil {
		return nil, f.screenshotErr
	}
	return f.frame, nil
}

func (f *fakeRenderer) Closed() (bool, string) {
	return f.closed, f.closeReason
}

type fakeWriter struct {
	written  [][]byte
	exited   bool
	writeErr error
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	cp := append([]byte(nil), p...)
	w.written = append(w.written, cp)
	return len(p), nil
}

func (w *fakeWriter) HasExited() bool { return w.exited }

func TestRunFrameLoop_WritesEveryFrameAndReportsProgress(t *testing.T) {
	r := &fakeRenderer{frame: []byte("frame-data")}
	w := &fakeWriter{}

	var progressCalls [][2]int
	err := RunFrameLoop(context.Background(), r, w, 5, 10, time.Hour,
		func(rendered, total int) { progressCalls = append(progressCalls, [2]int{rendered, total}) },
		nil,
	)
	require.NoError(t, err)
	require.Len(t, w.written, 5)
	require.Equal(t, []float64{0, 0.1, 0.2, 0.3, 0.4}, r.setTimeCalls)
	require.Equal(t, [2]int{5, 5}, progressCalls[len(progressCalls)-1])
}

func TestRunFrameLoop_RendererClosedFailsImmediately(t *testing.T) {
	r := &fakeRenderer{closed: true, closeReason: "renderer crashed: oom"}
	w := &fakeWriter{}

	err := RunFrameLoop(context.Background(), r, w, 5, 10, time.Hour, nil, nil)
	require.Error(t, err)

	var apiErr apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.RendererUnavailable, apiErr.Kind)
	require.Contains(t, apiErr.Msg, "oom")
	require.Empty(t, w.written)
}

func TestRunFrameLoop_EncoderExitedEarlyAbortsLoop(t *testing.T) {
	r := &fakeRenderer{frame: []byte("x")}
	w := &fakeWriter{exited: true}

	err := RunFrameLoop(context.Background(), r, w, 3, 10, time.Hour, nil, nil)
	require.Error(t, err)

	var apiErr apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.DependencyFailure, apiErr.Kind)
}

func TestRunFrameLoop_SetTimeErrorSurfacesAsTimeout(t *testing.T) {
	r := &fakeRenderer{setTimeErr: context.DeadlineExceeded}
	w := &fakeWriter{}

	err := RunFrameLoop(context.Background(), r, w, 3, 10, time.Hour, nil, nil)
	require.Error(t, err)

	var apiErr apierr.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.Timeout, apiErr.Kind)
}

func TestRunFrameLoop_SmallFrameStillWritesButWriterErrorPropagates(t *testing.T) {
	r := &fakeRenderer{frame: []byte("x")}
	w := &fakeWriter{writeErr: apierr.APIError{Msg: "pipe closed", Status: 500, Kind: apierr.DependencyFailure}}

	err := RunFrameLoop(context.Background(), r, w, 3, 10, time.Hour, nil, nil)
	require.Error(t, err)
}
