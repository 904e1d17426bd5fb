package export

import (
	"context"
	"time"

	"github.com/autoclip/worker/internal/apierr"
)

// FrameRenderer is the renderer side of the frame loop's contract
// (spec.md §4.5.3/§4.5.4): advance the timeline, capture a frame, and
// report whether the page has gone away. Split out from the
// chromedp-backed implementation so the loop itself is unit-testable
// against a fake, the same separation internal/audio draws between
// MeasureSegmentDurations and TranscribeSegments.
type FrameRenderer interface {
	SetTime(ctx context.Context, seconds float64) error
	Screenshot(ctx context.Context) ([]byte, error)
	Closed() (bool, string)
}

// FrameWriter is the encoder side: a blocking Write (the OS pipe is the
// backpressure mechanism, spec.md §9) plus a liveness check.
type FrameWriter interface {
	Write(p []byte) (int, error)
	HasExited() bool
}

// RunFrameLoop drives framesTotal frames through r into w, reporting
// rendered-frame progress via onProgress and a throttled wall-clock log
// via onLog (spec.md §4.5.4's step 5, "throttled... every 5s of wall
// time" by default). Returns the first error encountered; the caller is
// responsible for tearing the encoder stdin down on exit either way.
func RunFrameLoop(ctx context.Context, r FrameRenderer, w FrameWriter, framesTotal int, fps float64, logInterval time.Duration, onProgress func(rendered, total int), onLog func(rendered, total int)) error {
	lastLog := time.Time{}
	for i := 0; i < framesTotal; i++ {
		if closed, reason := r.Closed(); closed {
			return apierr.APIError{Msg: "editor export renderer closed: " + reason, Status: 502, Kind: apierr.RendererUnavailable}
		}
		if w.HasExited() {
			return apierr.APIError{Msg: "export encoder exited early", Status: 500, Kind: apierr.DependencyFailure}
		}

		t := float64(i) / fps
		if err := r.SetTime(ctx, t); err != nil {
			return apierr.APIError{Msg: "editor export setTime failed", Status: 500, Kind: apierr.Timeout, Err: err}
		}

		frame, err := r.Screenshot(ctx)
		if err != nil {
			return apierr.APIError{Msg: "editor export frame capture failed", Status: 500, Kind: apierr.DependencyFailure, Err: err}
		}

		if _, err := w.Write(frame); err != nil {
			return apierr.APIError{Msg: "failed writing frame to export encoder", Status: 500, Kind: apierr.DependencyFailure, Err: err}
		}

		rendered := i + 1
		if onProgress != nil {
			onProgress(rendered, framesTotal)
		}
		if onLog != nil && (lastLog.IsZero() || time.Since(lastLog) >= logInterval) {
			lastLog = time.Now()
			onLog(rendered, framesTotal)
		}
	}
	return nil
}
