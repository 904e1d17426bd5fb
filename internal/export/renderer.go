package export

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/browser"
	"github.com/autoclip/worker/internal/config"
)

const stageSelector = "[data-export-stage]"

// BrowserRenderer drives one export job's page: payload injection,
// navigation, the waitForReady/setTime contract, and per-frame
// screenshot capture of the data-export-stage element (spec.md
// §4.5.3/§4.5.4).
type BrowserRenderer struct {
	page         *browser.Page
	frameFormat  string
	jpegQuality  int
	frameTimeout time.Duration
}

func NewBrowserRenderer(p *browser.Page, frameFormat string, jpegQuality int, frameTimeout time.Duration) *BrowserRenderer {
	return &BrowserRenderer{page: p, frameFormat: frameFormat, jpegQuality: jpegQuality, frameTimeout: frameTimeout}
}

func (r *BrowserRenderer) Closed() (bool, string) {
	return r.page.Closed()
}

// Prepare injects the render payload, sets the viewport per the
// resolved PlannedViewport, and navigates to the editor render URL with
// export=1 and the shared render-key, waiting for DOMContentLoaded
// (spec.md §4.5.3).
func (r *BrowserRenderer) Prepare(_ context.Context, viewport PlannedViewport, payloadJSON, renderURL, renderKey string) error {
	ctx, cancel := context.WithTimeout(r.page.Ctx, r.loadTimeout())
	defer cancel()

	injectScript := fmt.Sprintf("window.__EDITOR_EXPORT__ = %s;", payloadJSON)

	navURL := fmt.Sprintf("%s?export=1&renderKey=%s", renderURL, renderKey)

	return chromedp.Run(ctx,
		emulation.SetDeviceMetricsOverride(int64(viewport.ViewportWidth), int64(viewport.ViewportHeight), viewport.DeviceScaleFactor, false),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(injectScript).Do(ctx)
			return err
		}),
		navigateWaitDOMContentLoaded(navURL),
	)
}

// loadTimeout is the deadline for navigation and waitForReady, which
// need materially more time than a single captured frame — a generous
// multiple of the per-frame deadline rather than a separate config
// knob, since spec.md doesn't name one.
func (r *BrowserRenderer) loadTimeout() time.Duration {
	return r.frameTimeout * 10
}

// WaitReady awaits window.__EDITOR_EXPORT_API__.waitForReady() resolving
// under a deadline (spec.md §4.5.3).
func (r *BrowserRenderer) WaitReady(_ context.Context) error {
	ctx, cancel := context.WithTimeout(r.page.Ctx, r.loadTimeout())
	defer cancel()

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		const poll = `typeof window.__EDITOR_EXPORT_API__ !== 'undefined' && typeof window.__EDITOR_EXPORT_API__.waitForReady === 'function'`
		for {
			var ready bool
			if err := chromedp.Evaluate(poll, &ready).Do(ctx); err != nil {
				return err
			}
			if ready {
				break
			}
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return apierr.APIError{Msg: "editor export API never appeared", Status: 504, Kind: apierr.Timeout, Err: ctx.Err()}
			}
		}
		return nil
	}))
	if err != nil {
		return err
	}

	return chromedp.Run(ctx, chromedp.Evaluate(
		`window.__EDITOR_EXPORT_API__.waitForReady()`,
		nil,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams { return p.WithAwaitPromise(true) },
	))
}

// SetTime and Screenshot ignore the incoming ctx; chromedp actions must
// run on a context carrying the chromedp execution metadata (one derived
// from chromedp.NewContext), so the deadline is rooted at r.page.Ctx
// rather than the caller's plain context.
func (r *BrowserRenderer) SetTime(_ context.Context, seconds float64) error {
	ctx, cancel := context.WithTimeout(r.page.Ctx, r.frameTimeout)
	defer cancel()
	expr := fmt.Sprintf("window.__EDITOR_EXPORT_API__.setTime(%s)", strconv.FormatFloat(seconds, 'f', -1, 64))
	return chromedp.Run(ctx, chromedp.Evaluate(
		expr,
		nil,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams { return p.WithAwaitPromise(true) },
	))
}

func (r *BrowserRenderer) Screenshot(_ context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(r.page.Ctx, r.frameTimeout)
	defer cancel()

	format := page.CaptureScreenshotFormatPng
	var quality *int64
	if r.frameFormat == "jpeg" || r.frameFormat == "jpg" {
		format = page.CaptureScreenshotFormatJpeg
		q := int64(r.jpegQuality)
		quality = &q
	}

	var buf []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var box []float64
		const boxScript = `(() => { const el = document.querySelector(` + "`" + stageSelector + "`" + `); const r = el.getBoundingClientRect(); return [r.x, r.y, r.width, r.height]; })()`
		if err := chromedp.Evaluate(boxScript, &box).Do(ctx); err != nil {
			return err
		}
		if len(box) != 4 {
			return apierr.APIError{Msg: "could not locate export stage element", Status: 500, Kind: apierr.RendererUnavailable}
		}

		params := page.CaptureScreenshot().WithFormat(format).WithClip(&page.Viewport{
			X: box[0], Y: box[1], Width: box[2], Height: box[3], Scale: 1,
		})
		if quality != nil {
			params = params.WithQuality(*quality)
		}
		data, err := params.Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	if err != nil {
		return nil, err
	}
	if len(buf) < config.FrameMinBytes {
		return nil, apierr.APIError{Msg: "captured frame is suspiciously small", Status: 500, Kind: apierr.RendererUnavailable}
	}
	return buf, nil
}

// navigateWaitDOMContentLoaded navigates then blocks on the page's
// DOMContentLoaded CDP event, per spec.md §4.5.3's completion signal
// ("Navigation uses 'DOMContentLoaded' as the completion signal") rather
// than chromedp.Navigate's default full-load wait.
func navigateWaitDOMContentLoaded(url string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		fired := make(chan struct{})
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()

		chromedp.ListenTarget(lctx, func(ev interface{}) {
			if _, ok := ev.(*page.EventDomContentEventFired); ok {
				select {
				case <-fired:
				default:
					close(fired)
				}
			}
		})

		if _, _, _, err := page.Navigate(url).Do(ctx); err != nil {
			return err
		}

		select {
		case <-fired:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
