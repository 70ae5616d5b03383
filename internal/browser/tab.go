package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ErrTabDone is returned by operations on a closed or released tab.
var ErrTabDone = errors.New("tab already closed or released")

// Tab is one browser page target.
type Tab struct {
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc

	mu   sync.Mutex
	id   string
	done bool
}

func newTab(s *Session, ctx context.Context, cancel context.CancelFunc) *Tab {
	return &Tab{session: s, ctx: ctx, cancel: cancel}
}

// init forces chromedp to create or attach the target so its ID is known.
func (t *Tab) init(ctx context.Context) error {
	if err := t.run(ctx, t.session.opts.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}
	if c := chromedp.FromContext(t.ctx); c != nil && c.Target != nil {
		t.id = string(c.Target.TargetID)
	}
	return nil
}

// ID returns the CDP target ID.
func (t *Tab) ID() string {
	return t.id
}

func (t *Tab) run(ctx context.Context, max time.Duration, actions ...chromedp.Action) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done {
		return ErrTabDone
	}
	runCtx, cancel := bound(t.ctx, ctx, max)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Evaluate runs expr in the page and decodes the result into out (which may be nil).
// Promises are awaited.
func (t *Tab) Evaluate(ctx context.Context, expr string, out any) error {
	return t.run(ctx, 30*time.Second, chromedp.Evaluate(expr, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true).WithUserGesture(true)
	}))
}

// MouseClick moves the mouse to (x, y) and presses and releases the left button.
func (t *Tab) MouseClick(ctx context.Context, x, y float64) error {
	return t.run(ctx, 10*time.Second,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		chromedp.Sleep(80*time.Millisecond),
		chromedp.MouseClickXY(x, y),
	)
}

// Navigate loads url and waits for the load event.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := t.run(ctx, t.session.opts.NavigateTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Reload reloads the page.
func (t *Tab) Reload(ctx context.Context) error {
	return t.run(ctx, t.session.opts.NavigateTimeout, chromedp.Reload())
}

// URL returns the current location.
func (t *Tab) URL(ctx context.Context) (string, error) {
	var loc string
	err := t.run(ctx, 5*time.Second, chromedp.Location(&loc))
	return loc, err
}

// HTML returns the serialized document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	err := t.run(ctx, 15*time.Second, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ''`, &html))
	return html, err
}

// Screenshot captures the full page as PNG.
func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := t.run(ctx, 20*time.Second, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

// Close closes the tab in the browser.
func (t *Tab) Close() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	t.mu.Unlock()

	t.cancel()
	return nil
}

// Release stops driving the tab without closing it, handing it over to a person.
func (t *Tab) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
}

// Closed reports whether the target has disappeared from the browser.
func (t *Tab) Closed(ctx context.Context) (bool, error) {
	exists, err := t.session.TargetExists(ctx, t.id)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// IsConnectionLost reports whether err looks like the CDP connection went away
// rather than a page-level failure.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, chromedp.ErrInvalidContext) || errors.Is(err, io.EOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"websocket", "connection reset", "broken pipe", "use of closed network connection",
		"target closed", "session closed", "no target with given id", "not connected",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
