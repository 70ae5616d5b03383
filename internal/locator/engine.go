package locator

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

//go:embed locator.js
var library string

// Page is the part of a browser tab the engine drives.
type Page interface {
	// Evaluate runs a JavaScript expression in the top frame and decodes the result into out.
	Evaluate(ctx context.Context, expr string, out any) error
	// MouseClick dispatches a trusted mouse move, press and release at viewport coordinates.
	MouseClick(ctx context.Context, x, y float64) error
	// Navigate loads url in the tab.
	Navigate(ctx context.Context, url string) error
}

// Options tunes timing.
type Options struct {
	// Timeout bounds a whole Locate call.
	Timeout time.Duration
	// StrategyTimeout bounds a single strategy evaluation.
	StrategyTimeout time.Duration
	// PollInterval separates full passes over the strategies.
	PollInterval time.Duration
	// SettleDelay is waited after a click before its verification runs.
	SettleDelay time.Duration
	// TrustedClicks puts the physical mouse click first.
	TrustedClicks bool
	Strategies    []Strategy
}

// DefaultOptions returns the standard timings.
func DefaultOptions() Options {
	return Options{
		Timeout:         10 * time.Second,
		StrategyTimeout: 3 * time.Second,
		PollInterval:    300 * time.Millisecond,
		SettleDelay:     700 * time.Millisecond,
		Strategies:      DefaultStrategies,
	}
}

// Engine locates and operates elements on one Page.
type Engine struct {
	page Page
	opts Options
	log  *zap.Logger
}

// New creates an Engine. Zero option fields take their defaults.
func New(page Page, opts Options, log *zap.Logger) *Engine {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.StrategyTimeout <= 0 {
		opts.StrategyTimeout = def.StrategyTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if len(opts.Strategies) == 0 {
		opts.Strategies = def.Strategies
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{page: page, opts: opts, log: log.Named("locator")}
}

// WithTrustedClicks returns a copy of the engine with the physical click first.
func (e *Engine) WithTrustedClicks(trusted bool) *Engine {
	cp := *e
	cp.opts.TrustedClicks = trusted
	return &cp
}

// Locate runs the strategies in order, repeating full passes until one finds the target
// or the engine timeout expires.
func (e *Engine) Locate(ctx context.Context, t Target) (*Element, error) {
	return e.LocateWithin(ctx, t, e.opts.Timeout)
}

// LocateWithin is Locate with an explicit deadline. A zero timeout runs exactly one pass.
func (e *Engine) LocateWithin(ctx context.Context, t Target, timeout time.Duration) (*Element, error) {
	arg := queryFor(t)
	return e.poll(ctx, t.String(), timeout, func(ctx context.Context) (*Element, error) {
		for _, s := range e.opts.Strategies {
			if s == StrategyHref && !t.Apply {
				continue
			}
			el, err := e.run(ctx, s, arg)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.log.Debug("strategy failed", zap.String("target", t.String()), zap.String("strategy", string(s)), zap.Error(err))
				continue
			}
			if el != nil {
				e.log.Debug("located", zap.String("target", t.String()), zap.String("strategy", string(s)), zap.String("text", el.Text))
				return el, nil
			}
		}
		return nil, nil
	})
}

// LocateSelector returns the first visible element matching any of selectors.
func (e *Engine) LocateSelector(ctx context.Context, selectors []string, timeout time.Duration) (*Element, error) {
	if len(selectors) == 0 {
		return nil, ErrNotFound
	}
	arg := query{Selectors: selectors}
	return e.poll(ctx, fmt.Sprintf("%v", selectors), timeout, func(ctx context.Context) (*Element, error) {
		el, err := e.run(ctx, StrategySelector, arg)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return el, nil
	})
}

// Exists runs one pass without waiting.
func (e *Engine) Exists(ctx context.Context, t Target) bool {
	el, err := e.LocateWithin(ctx, t, 0)
	return err == nil && el != nil
}

// poll repeats pass until it finds an element or the deadline passes. Strategies run
// under the deadline, so a slow evaluation cannot outlast it.
func (e *Engine) poll(ctx context.Context, name string, timeout time.Duration, pass func(context.Context) (*Element, error)) (*Element, error) {
	deadline := time.Now().Add(timeout)
	dctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	notFound := func() error {
		return &Error{Target: name, Message: fmt.Sprintf("not found within %s", timeout), Cause: ErrNotFound}
	}
	aborted := func(err error) error {
		if ctx.Err() == nil && dctx.Err() != nil {
			return notFound()
		}
		return &Error{Target: name, Message: "search aborted", Cause: err}
	}

	for {
		el, err := pass(dctx)
		if err != nil {
			return nil, aborted(err)
		}
		if el != nil {
			return el, nil
		}
		if !time.Now().Add(e.opts.PollInterval).Before(deadline) {
			return nil, notFound()
		}
		if err := sleep(dctx, e.opts.PollInterval); err != nil {
			return nil, aborted(err)
		}
	}
}

func (e *Engine) run(ctx context.Context, s Strategy, arg query) (*Element, error) {
	fn, ok := strategyFuncs[s]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", s)
	}
	// The child context keeps the earlier of the two deadlines.
	sctx, cancel := context.WithTimeout(ctx, e.opts.StrategyTimeout)
	defer cancel()

	var el Element
	if err := e.call(sctx, fn, arg, &el); err != nil {
		return nil, err
	}
	if !el.Found || el.Token == "" {
		return nil, nil
	}
	if el.Strategy == "" {
		el.Strategy = s
	}
	return &el, nil
}

// call evaluates the library followed by fn(arg).
func (e *Engine) call(ctx context.Context, fn string, arg any, out any) error {
	payload, err := json.Marshal(arg)
	if err != nil {
		return err
	}
	return e.page.Evaluate(ctx, Script(fn, string(payload)), out)
}

// Script builds the expression that defines the in-page library and calls fn with a JSON argument.
func Script(fn, jsonArg string) string {
	return "(() => {\n" + library + "\nreturn " + fn + "(" + jsonArg + ");\n})()"
}

// IsNotFound reports whether err means the target was never found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
