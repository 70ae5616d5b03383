package flow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/apply-agent/internal/answer"
	"github.com/jonathan/apply-agent/internal/browser"
	"github.com/jonathan/apply-agent/internal/detect"
	"github.com/jonathan/apply-agent/internal/ledger"
	"github.com/jonathan/apply-agent/internal/locator"
)

// fillQuestion answers a "why this company" field when the form has one.
func (a *attempt) fillQuestion(ctx context.Context) error {
	if err := a.checkCaptcha(ctx); err != nil || a.status != "" {
		return err
	}
	if err := a.c.sleep(ctx, a.c.opts.Timeouts.FieldSettle); err != nil {
		return err
	}

	filled := false
	field, err := a.loc.LocateWithin(ctx, whyTarget(a.cand.CompanyName()), 0)
	switch {
	case err == nil:
		filled, err = a.answer(ctx, field)
		if err != nil {
			return err
		}
	case !locator.IsNotFound(err):
		return err
	}
	if filled {
		a.note("answer=why-company")
	} else {
		a.note("answer=none")
	}

	if a.c.opts.AutoSubmit {
		if el, err := a.loc.LocateWithin(ctx, submitButton, 0); err == nil {
			out := a.loc.Click(ctx, el, nil)
			a.log.Info("submit clicked", zap.String("method", string(out.Method)))
		}
	}
	return nil
}

func (a *attempt) answer(ctx context.Context, field *locator.Element) (bool, error) {
	if a.c.opts.Drafter == nil {
		return false, nil
	}
	snap, err := a.snapshot(ctx)
	if err != nil {
		return false, err
	}
	draft, err := a.c.opts.Drafter.Draft(ctx, answer.Request{
		Company: a.cand.CompanyName(),
		Role:    a.cand.RoleName(),
		URL:     snap.URL,
		HTML:    snap.HTML,
		Profile: a.c.opts.Profile,
	})
	if err != nil || draft.Text == "" {
		a.log.Warn("no answer drafted", zap.Error(err))
		return false, ctx.Err()
	}
	out, err := a.loc.Fill(ctx, field, draft.Text)
	if err != nil {
		a.log.Debug("answer fill failed", zap.Error(err))
		return false, nil
	}
	a.log.Info("answer filled", zap.String("method", string(out.Method)), zap.String("source", string(draft.Source)))
	return out.Filled(), nil
}

// waitSubmission polls for a confirmation. No confirmation is an attempted outcome.
func (a *attempt) waitSubmission(ctx context.Context) error {
	d := detect.NewDetector(a.site.SuccessSelectors, a.log)
	d.Interval = a.c.opts.Timeouts.SubmissionPoll
	d.Timeout = a.c.opts.Timeouts.Submission
	d.Abort = browser.IsConnectionLost

	sig, err := d.Wait(ctx, func(ctx context.Context) (*detect.Snapshot, error) {
		return detect.Probe(ctx, a.tab)
	})
	if err != nil {
		return err
	}
	if sig == detect.SignalNone {
		a.block(ctx, ledger.StatusAttempted, "no confirmation", "no-submit")
		return nil
	}
	a.status = ledger.StatusSubmitted
	a.signal = sig
	a.note("signal=" + string(sig))
	return nil
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
