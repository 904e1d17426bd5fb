// Package browser owns the one shared headless-browser instance the
// Editor Export Pipeline drives (spec.md §4.5.1). Grounded on the
// teacher's single-flight client construction pattern in
// balancer/mist/mist_balancer.go (MistBalancer.startupOnce/
// waitForStartup — a sync.Once-gated blocking start with a cached
// error), adapted from a one-shot gate into a re-launchable singleton
// since the browser's disconnect must clear the slot so the next job
// triggers a fresh launch, something sync.Once alone can't express.
package browser

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/autoclip/worker/internal/apierr"
)

// Manager holds the process-wide shared browser. Concurrent callers
// arriving during startup await the same launch future; a failed or
// disconnected browser clears the slot so the next caller relaunches.
type Manager struct {
	mu      sync.Mutex
	future  chan struct{}
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
	launchErr   error
}

func NewManager() *Manager {
	return &Manager{}
}

// browserContext returns the shared browser's context, launching it if
// no launch is in flight and awaiting an in-flight launch otherwise.
func (m *Manager) browserContext(ctx context.Context) (context.Context, error) {
	m.mu.Lock()
	if m.future != nil {
		future := m.future
		m.mu.Unlock()
		select {
		case <-future:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.launchErr != nil {
			return nil, m.launchErr
		}
		return m.browserCtx, nil
	}

	future := make(chan struct{})
	m.future = future
	m.mu.Unlock()

	m.launch()

	m.mu.Lock()
	defer m.mu.Unlock()
	close(future)
	if m.launchErr != nil {
		return nil, m.launchErr
	}
	return m.browserCtx, nil
}

// launch starts a fresh headless instance with the sandbox/shared-memory
// flags appropriate for a container (spec.md §4.5.1), recording either
// the running browser's context or a cached launch error.
func (m *Manager) launch() {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("headless", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		allocCancel()
		cancel()
		m.mu.Lock()
		m.launchErr = apierr.APIError{Msg: "failed to launch headless browser", Status: 500, Kind: apierr.RendererUnavailable, Err: err}
		m.future = nil
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.allocCancel = allocCancel
	m.browserCtx = browserCtx
	m.cancel = cancel
	m.launchErr = nil
	m.mu.Unlock()

	go m.watchDisconnect(browserCtx)
}

// watchDisconnect clears the singleton slot once the shared browser's
// context ends (process crash, explicit Close, or a CDP-level
// disconnect), so the next caller relaunches rather than reusing a
// dead allocator.
func (m *Manager) watchDisconnect(browserCtx context.Context) {
	<-browserCtx.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browserCtx == browserCtx {
		m.browserCtx = nil
		m.cancel = nil
		m.allocCancel = nil
		m.future = nil
	}
}

// Close tears down the shared browser, if any. Used at process shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel, allocCancel := m.cancel, m.allocCancel
	m.browserCtx, m.cancel, m.allocCancel, m.future = nil, nil, nil, nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if allocCancel != nil {
		allocCancel()
	}
}

// Page is one job's browser tab: its own context, closed on every exit
// path, plus a sticky closed flag the frame loop checks before every
// setTime/screenshot step (spec.md §4.5.4 step 1).
type Page struct {
	Ctx    context.Context
	cancel context.CancelFunc

	closed      atomic.Bool
	closeReason atomic.Value // string
}

// NewPage launches the shared browser if needed and opens a fresh tab
// scoped to ctx. The page is never shared across jobs: the renderer's
// window.__EDITOR_EXPORT__ injection is context-scoped, so reusing a
// page across jobs would corrupt another render (spec.md §9).
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	browserCtx, err := m.browserContext(ctx)
	if err != nil {
		return nil, err
	}

	pageCtx, cancel := chromedp.NewContext(browserCtx)
	p := &Page{Ctx: pageCtx, cancel: cancel}

	// Tie the page's lifetime to the caller's context too, not just the
	// shared browser's: a job timeout or cancellation must close its own
	// page without touching the singleton other jobs are using.
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-pageCtx.Done():
		}
	}()

	chromedp.ListenTarget(pageCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *target.EventTargetCrashed:
			p.markClosed("renderer crashed: " + e.Status)
		case *target.EventTargetDestroyed:
			p.markClosed("renderer target destroyed")
		}
	})

	if err := chromedp.Run(pageCtx); err != nil {
		cancel()
		return nil, apierr.APIError{Msg: "failed to open export page", Status: 500, Kind: apierr.RendererUnavailable, Err: err}
	}

	return p, nil
}

func (p *Page) markClosed(reason string) {
	if p.closed.CompareAndSwap(false, true) {
		p.closeReason.Store(reason)
	}
}

// Closed reports whether the page's renderer has crashed or been torn
// down, and the recorded reason if so.
func (p *Page) Closed() (bool, string) {
	if !p.closed.Load() {
		return false, ""
	}
	reason, _ := p.closeReason.Load().(string)
	return true, reason
}

// Close tears the page's context down. Safe to call multiple times and
// on every exit path (success, error, timeout) per spec.md §4.5.1.
func (p *Page) Close() {
	p.markClosed("page closed")
	p.cancel()
}
