// Package browser attaches to an already-running Chrome over its remote debugging
// endpoint and hands out tabs that can be closed or left open for a person.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// DefaultDebugURL is Chrome's default remote debugging endpoint.
const DefaultDebugURL = "http://127.0.0.1:9222"

// Options configures the connection.
type Options struct {
	// DebugURL is the http endpoint serving /json/version.
	DebugURL string
	// FallbackURLs are tried in order when DebugURL does not answer.
	FallbackURLs []string
	// ChromePath enables relaunching a local browser when reattaching fails.
	ChromePath string
	// UserDataDir is used for a relaunched browser so logins persist.
	UserDataDir string
	// ConnectTimeout bounds endpoint discovery and the first CDP round trip.
	ConnectTimeout time.Duration
	// NavigateTimeout bounds page loads started by NewTab and Navigate.
	NavigateTimeout time.Duration
}

// DefaultOptions returns local defaults.
func DefaultOptions() Options {
	return Options{
		DebugURL:        DefaultDebugURL,
		FallbackURLs:    []string{"http://localhost:9222"},
		ConnectTimeout:  10 * time.Second,
		NavigateTimeout: 60 * time.Second,
	}
}

// ConnectError means no browser could be attached. It is fatal for a run.
type ConnectError struct {
	Endpoints []string
	Cause     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("could not attach to a browser at %s: %v", strings.Join(e.Endpoints, ", "), e.Cause)
}

func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// TargetInfo describes a browser target.
type TargetInfo struct {
	ID       string
	OpenerID string
	Type     string
	URL      string
	Title    string
}

// Session is one CDP connection to a browser.
type Session struct {
	opts Options
	log  *zap.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	controlID     target.ID
	launched      bool
	endpoint      string
}

// Connect attaches to the configured endpoint. Failure returns a *ConnectError.
func Connect(ctx context.Context, opts Options, log *zap.Logger) (*Session, error) {
	def := DefaultOptions()
	if opts.DebugURL == "" {
		opts.DebugURL = def.DebugURL
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = def.NavigateTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Session{opts: opts, log: log.Named("browser")}
	if err := s.attach(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Endpoint returns the websocket URL of the current connection.
func (s *Session) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

func (s *Session) endpoints() []string {
	return append([]string{s.opts.DebugURL}, s.opts.FallbackURLs...)
}

// attach discovers a websocket URL and opens a browser-level context on it.
func (s *Session) attach(ctx context.Context) error {
	var lastErr error
	for _, endpoint := range s.endpoints() {
		wsURL, err := DiscoverWebSocketURL(ctx, endpoint, s.opts.ConnectTimeout)
		if err != nil {
			s.log.Debug("endpoint not reachable", zap.String("endpoint", endpoint), zap.Error(err))
			lastErr = err
			continue
		}

		allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
		if err := s.start(ctx, allocCtx, allocCancel); err != nil {
			lastErr = err
			continue
		}
		s.mu.Lock()
		s.endpoint = wsURL
		s.launched = false
		s.mu.Unlock()
		s.log.Info("attached to browser", zap.String("endpoint", wsURL))
		return nil
	}
	return &ConnectError{Endpoints: s.endpoints(), Cause: lastErr}
}

// launch starts a local browser with the configured executable.
func (s *Session) launch(ctx context.Context) error {
	if s.opts.ChromePath == "" {
		return fmt.Errorf("no chrome executable configured")
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(s.opts.ChromePath),
		chromedp.Flag("headless", false),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-automation", false),
	)
	if s.opts.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(s.opts.UserDataDir))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	if err := s.start(ctx, allocCtx, allocCancel); err != nil {
		return err
	}
	s.mu.Lock()
	s.launched = true
	s.endpoint = s.opts.ChromePath
	s.mu.Unlock()
	s.log.Info("launched local browser", zap.String("path", s.opts.ChromePath))
	return nil
}

func (s *Session) start(ctx context.Context, allocCtx context.Context, allocCancel context.CancelFunc) error {
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			s.log.Debug(fmt.Sprintf(format, args...))
		}),
	)

	runCtx, cancel := context.WithTimeout(browserCtx, s.opts.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("failed to open CDP session: %w", err)
	}

	var controlID target.ID
	if c := chromedp.FromContext(browserCtx); c != nil && c.Target != nil {
		controlID = c.Target.TargetID
	}

	s.mu.Lock()
	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.controlID = controlID
	s.mu.Unlock()
	return nil
}

// Alive reports whether the browser still answers.
func (s *Session) Alive(ctx context.Context) bool {
	_, err := s.Targets(ctx)
	return err == nil
}

// Reconnect drops the current connection and attaches again, relaunching a local
// browser when attaching fails and a Chrome path is configured.
func (s *Session) Reconnect(ctx context.Context) error {
	s.detach(false)

	err := s.attach(ctx)
	if err == nil {
		return nil
	}
	if s.opts.ChromePath == "" {
		return err
	}
	s.log.Warn("reattach failed, relaunching browser", zap.Error(err))
	if lerr := s.launch(ctx); lerr != nil {
		return &ConnectError{Endpoints: s.endpoints(), Cause: fmt.Errorf("%v; relaunch: %w", err, lerr)}
	}
	return nil
}

// Close drops the connection. An attached browser and any released tabs stay open;
// a browser this session launched itself is shut down.
func (s *Session) Close() {
	s.detach(true)
}

func (s *Session) detach(closeControl bool) {
	s.mu.Lock()
	browserCtx, browserCancel, allocCancel := s.browserCtx, s.browserCancel, s.allocCancel
	controlID, launched := s.controlID, s.launched
	s.browserCtx, s.browserCancel, s.allocCancel = nil, nil, nil
	s.mu.Unlock()

	if browserCtx == nil {
		return
	}
	if closeControl && !launched && controlID != "" {
		if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
			ctx, cancel := context.WithTimeout(browserCtx, 2*time.Second)
			_ = target.CloseTarget(controlID).Do(cdp.WithExecutor(ctx, c.Browser))
			cancel()
		}
	}
	browserCancel()
	allocCancel()
}

func (s *Session) current() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCtx == nil {
		return nil, fmt.Errorf("browser session is not connected")
	}
	return s.browserCtx, nil
}

// Targets lists the browser's page targets.
func (s *Session) Targets(ctx context.Context) ([]TargetInfo, error) {
	browserCtx, err := s.current()
	if err != nil {
		return nil, err
	}
	runCtx, cancel := bound(browserCtx, ctx, 5*time.Second)
	defer cancel()

	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	out := make([]TargetInfo, 0, len(infos))
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		out = append(out, TargetInfo{
			ID:       string(info.TargetID),
			OpenerID: string(info.OpenerID),
			Type:     info.Type,
			URL:      info.URL,
			Title:    info.Title,
		})
	}
	return out, nil
}

// TargetExists reports whether a page target with id is still open.
func (s *Session) TargetExists(ctx context.Context, id string) (bool, error) {
	targets, err := s.Targets(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range targets {
		if t.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// NewTab opens url in a new tab. The tab is returned even when the navigation fails
// so the caller can capture diagnostics and decide whether to close it.
func (s *Session) NewTab(ctx context.Context, url string) (*Tab, error) {
	browserCtx, err := s.current()
	if err != nil {
		return nil, err
	}
	// Tabs must outlive the session context: cancelling a tab context closes the tab.
	tabCtx, cancel := chromedp.NewContext(context.WithoutCancel(browserCtx))
	tab := newTab(s, tabCtx, cancel)

	if err := tab.init(ctx); err != nil {
		cancel()
		return nil, err
	}
	if url == "" {
		return tab, nil
	}
	return tab, tab.Navigate(ctx, url)
}

// AttachTab wraps an existing target, such as a tab opened by a page's own script.
func (s *Session) AttachTab(ctx context.Context, id string) (*Tab, error) {
	browserCtx, err := s.current()
	if err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(context.WithoutCancel(browserCtx), chromedp.WithTargetID(target.ID(id)))
	tab := newTab(s, tabCtx, cancel)
	if err := tab.init(ctx); err != nil {
		cancel()
		return nil, err
	}
	return tab, nil
}

// DiscoverWebSocketURL reads the browser websocket URL from <endpoint>/json/version.
// ws:// URLs are returned unchanged.
func DiscoverWebSocketURL(ctx context.Context, endpoint string, timeout time.Duration) (string, error) {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint, nil
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, strings.TrimRight(endpoint, "/")+"/json/version", nil)
	if err != nil {
		return "", fmt.Errorf("invalid debug endpoint %s: %w", endpoint, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("debug endpoint %s unreachable: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("debug endpoint %s returned HTTP %d", endpoint, resp.StatusCode)
	}
	var version struct {
		Browser              string `json:"Browser"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", fmt.Errorf("failed to decode %s/json/version: %w", endpoint, err)
	}
	if version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("debug endpoint %s did not report a websocket URL", endpoint)
	}
	return version.WebSocketDebuggerURL, nil
}

// bound derives a context from base (which carries the chromedp values) that also ends
// when caller ends, with an upper limit of max when caller has no deadline.
func bound(base, caller context.Context, max time.Duration) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if dl, ok := caller.Deadline(); ok {
		ctx, cancel = context.WithDeadline(base, dl)
	} else {
		ctx, cancel = context.WithTimeout(base, max)
	}
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
