package locator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ClickMethod is the mechanism that produced a click.
type ClickMethod string

// Click methods in escalation order. MethodNone means nothing was clicked.
const (
	MethodNone      ClickMethod = ""
	MethodNative    ClickMethod = "native"
	MethodSynthetic ClickMethod = "synthetic"
	MethodPhysical  ClickMethod = "physical"
	MethodNavigate  ClickMethod = "navigate"
)

// ClickOutcome reports how a click went.
type ClickOutcome struct {
	Method ClickMethod
	// Verified is true when the caller's check confirmed the click had an effect.
	// Without a check it mirrors Clicked.
	Verified bool
	Attempts []ClickMethod
}

// Clicked reports whether any method dispatched a click.
func (o ClickOutcome) Clicked() bool {
	return o.Method != MethodNone
}

// VerifyFunc tells Click whether the previous attempt had the intended effect.
type VerifyFunc func(ctx context.Context) bool

type jsResult struct {
	OK     bool    `json:"ok"`
	Method string  `json:"method"`
	Reason string  `json:"reason"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Click escalates native -> synthetic -> physical (physical first for trusted-click sites).
// When verify is set, each attempt is followed by the settle delay and verify; the
// next method runs only if verification failed. Elements found through their href are
// navigated to as a last resort.
func (e *Engine) Click(ctx context.Context, el *Element, verify VerifyFunc) ClickOutcome {
	order := []ClickMethod{MethodNative, MethodSynthetic, MethodPhysical}
	if e.opts.TrustedClicks {
		order = []ClickMethod{MethodPhysical, MethodNative, MethodSynthetic}
	}

	var out ClickOutcome
	for _, m := range order {
		if ctx.Err() != nil {
			return out
		}
		out.Attempts = append(out.Attempts, m)
		if err := e.clickWith(ctx, el, m); err != nil {
			e.log.Debug("click attempt failed", zap.String("method", string(m)), zap.String("token", el.Token), zap.Error(err))
			continue
		}
		out.Method = m
		if verify == nil {
			out.Verified = true
			return out
		}
		if e.verified(ctx, verify) {
			out.Verified = true
			return out
		}
	}

	if el.Href != "" && el.Strategy == StrategyHref {
		out.Attempts = append(out.Attempts, MethodNavigate)
		if err := e.page.Navigate(ctx, el.Href); err == nil {
			out.Method = MethodNavigate
			out.Verified = verify == nil || e.verified(ctx, verify)
		} else {
			e.log.Debug("href navigation failed", zap.String("href", el.Href), zap.Error(err))
		}
	}
	return out
}

// LocateAndClick locates t and clicks it.
func (e *Engine) LocateAndClick(ctx context.Context, t Target, verify VerifyFunc) (ClickOutcome, *Element, error) {
	el, err := e.Locate(ctx, t)
	if err != nil {
		return ClickOutcome{}, nil, err
	}
	return e.Click(ctx, el, verify), el, nil
}

func (e *Engine) verified(ctx context.Context, verify VerifyFunc) bool {
	if err := sleep(ctx, e.opts.SettleDelay); err != nil {
		return false
	}
	return verify(ctx)
}

func (e *Engine) clickWith(ctx context.Context, el *Element, m ClickMethod) error {
	switch m {
	case MethodNative:
		return e.expectOK(ctx, "aaClickNative", map[string]string{"token": el.Token})
	case MethodSynthetic:
		return e.expectOK(ctx, "aaClickSynthetic", map[string]string{"token": el.Token})
	case MethodPhysical:
		var res jsResult
		if err := e.call(ctx, "aaCenter", map[string]string{"token": el.Token}, &res); err != nil {
			return err
		}
		x, y := el.X, el.Y
		if res.OK {
			x, y = res.X, res.Y
		}
		if x <= 0 && y <= 0 {
			return fmt.Errorf("no coordinates for %s", el.Token)
		}
		return e.page.MouseClick(ctx, x, y)
	}
	return fmt.Errorf("unsupported click method %q", m)
}

func (e *Engine) expectOK(ctx context.Context, fn string, arg any) error {
	var res jsResult
	if err := e.call(ctx, fn, arg, &res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%s: %s", fn, res.Reason)
	}
	return nil
}

// FillMethod is how text was written into a field.
type FillMethod string

// Fill methods.
const (
	FillNone       FillMethod = ""
	FillSetter     FillMethod = "setter"
	FillInsertText FillMethod = "insert-text"
)

// FillOutcome reports a fill.
type FillOutcome struct {
	Method FillMethod
}

// Filled reports whether text was written.
func (o FillOutcome) Filled() bool {
	return o.Method != FillNone
}

// Fill writes text into el. Inputs and textareas use the native value setter followed by
// input and change events; contenteditable regions use select-all plus insertText.
func (e *Engine) Fill(ctx context.Context, el *Element, text string) (FillOutcome, error) {
	var res jsResult
	if err := e.call(ctx, "aaFill", map[string]string{"token": el.Token, "text": text}, &res); err != nil {
		return FillOutcome{}, &Error{Target: el.Token, Message: "fill failed", Cause: err}
	}
	if !res.OK {
		return FillOutcome{}, &Error{Target: el.Token, Message: "fill rejected: " + res.Reason}
	}
	return FillOutcome{Method: FillMethod(res.Method)}, nil
}

// Check ticks a checkbox (or role=checkbox) and reports whether it ends up checked.
func (e *Engine) Check(ctx context.Context, el *Element) (bool, error) {
	var res jsResult
	if err := e.call(ctx, "aaCheck", map[string]string{"token": el.Token}, &res); err != nil {
		return false, &Error{Target: el.Token, Message: "check failed", Cause: err}
	}
	return res.OK, nil
}

// WaitFor polls cond every interval until it returns true or timeout passes.
func WaitFor(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond(ctx) {
			return true
		}
		if ctx.Err() != nil || !time.Now().Add(interval).Before(deadline) {
			return false
		}
		if err := sleep(ctx, interval); err != nil {
			return false
		}
	}
}
