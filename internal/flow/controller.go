// Package flow drives one job application at a time through a remote browser: load the
// posting, enter the application, pass account gates, fill the narrative answer and wait
// for a confirmation. Outcomes that need a person leave the tab open.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/apply-agent/internal/answer"
	"github.com/jonathan/apply-agent/internal/browser"
	"github.com/jonathan/apply-agent/internal/detect"
	"github.com/jonathan/apply-agent/internal/diagnostics"
	"github.com/jonathan/apply-agent/internal/ledger"
	"github.com/jonathan/apply-agent/internal/locator"
	"github.com/jonathan/apply-agent/internal/sitehints"
	"github.com/jonathan/apply-agent/internal/types"
)

// State is a step of the application flow.
type State string

const (
	StateLoading        State = "loading"
	StateHydrated       State = "hydrated"
	StateApplyEntered   State = "apply-entered"
	StateModalChoice    State = "modal-choice"
	StateAccountGate    State = "account-gate"
	StateQuestionFill   State = "question-fill"
	StateSubmissionWait State = "submission-wait"
	StateSubmitted      State = "submitted"
	StateAttempted      State = "attempted"
	StateBlocked        State = "blocked"
)

// Timeouts holds every wait and retry of the flow.
type Timeouts struct {
	Navigate              time.Duration
	Hydration             time.Duration
	ReloadRetries         int
	ReloadBackoff         time.Duration
	ReloadWait            time.Duration
	BootstrapWait         time.Duration
	NewTabWait            time.Duration
	UnavailableRetryDelay time.Duration
	Modal                 time.Duration
	ModalPoll             time.Duration
	ModalNewTabWait       time.Duration
	Autofill              time.Duration
	Verification          time.Duration
	VerificationPoll      time.Duration
	FieldSettle           time.Duration
	Settle                time.Duration
	Submission            time.Duration
	SubmissionPoll        time.Duration
	Poll                  time.Duration
}

// DefaultTimeouts returns the tuned defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigate:              60 * time.Second,
		Hydration:             10 * time.Second,
		ReloadRetries:         2,
		ReloadBackoff:         1200 * time.Millisecond,
		ReloadWait:            7 * time.Second,
		BootstrapWait:         10 * time.Second,
		NewTabWait:            5 * time.Second,
		UnavailableRetryDelay: 1200 * time.Millisecond,
		Modal:                 8 * time.Second,
		ModalPoll:             300 * time.Millisecond,
		ModalNewTabWait:       3 * time.Second,
		Autofill:              8 * time.Second,
		Verification:          3 * time.Minute,
		VerificationPoll:      7 * time.Second,
		FieldSettle:           2500 * time.Millisecond,
		Settle:                1200 * time.Millisecond,
		Submission:            detect.DefaultTimeout,
		SubmissionPoll:        detect.DefaultInterval,
		Poll:                  300 * time.Millisecond,
	}
}

// Credentials are used to create accounts and sign in. Both fields empty is a valid
// configuration: account walls are then left to a person.
type Credentials struct {
	Email    string
	Password string
}

// Valid reports whether both an email and a password are set.
func (c Credentials) Valid() bool {
	return c.Email != "" && c.Password != ""
}

// Drafter produces the narrative answer for a posting.
type Drafter interface {
	Draft(ctx context.Context, req answer.Request) (answer.Answer, error)
}

// Options configures a Controller.
type Options struct {
	Hints                *sitehints.Table
	Sink                 *diagnostics.Sink
	Drafter              Drafter
	Profile              *types.Profile
	Credentials          Credentials
	Timeouts             Timeouts
	Locator              locator.Options
	AutoSubmit           bool
	AdvanceAfterAutofill bool
}

// Outcome is the terminal result for one candidate.
type Outcome struct {
	Status    ledger.Status
	Detail    string
	State     State
	Signal    detect.Signal
	LeaveOpen bool
	// Tab is the tab the flow ended on; Tabs lists every tab it drove.
	Tab  Tab
	Tabs []Tab
}

// StepError is a failure inside one state of the flow.
type StepError struct {
	State State
	URL   string
	Cause error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.State, e.URL, e.Cause)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// Controller runs the application state machine.
type Controller struct {
	browser Browser
	opts    Options
	log     *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewController creates a controller that opens new tabs on b.
func NewController(b Browser, opts Options, log *zap.Logger) *Controller {
	if opts.Hints == nil {
		opts.Hints = sitehints.Default()
	}
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{browser: b, opts: opts, log: log.Named("flow"), sleep: sleep}
}

// Process drives tab through the application for c. The returned outcome always carries
// the tabs the attempt touched so the caller can close or release them. A non-nil error
// means the candidate failed; its outcome status is then meaningless.
func (c *Controller) Process(ctx context.Context, tab Tab, cand types.Candidate) (Outcome, error) {
	site := c.opts.Hints.ForURL(cand.URL)
	a := &attempt{c: c, cand: cand, site: site, log: c.log.With(zap.String("url", cand.URL), zap.String("site", site.Name))}
	a.switchTo(tab)

	err := a.run(ctx)
	out := Outcome{Status: a.status, State: a.state, Signal: a.signal, Tab: a.tab, Tabs: a.tabs}
	if err != nil {
		out.Status = ledger.StatusError
		out.State = StateBlocked
		return out, &StepError{State: a.state, URL: cand.URL, Cause: err}
	}

	switch out.Status {
	case ledger.StatusSubmitted:
		out.State = StateSubmitted
	case ledger.StatusAttempted:
		out.State = StateAttempted
	default:
		out.State = StateBlocked
	}
	out.Detail = a.detail()
	out.LeaveOpen = out.Status.LeavesTabOpen()
	a.log.Info("application finished", zap.String("status", string(out.Status)), zap.String("detail", out.Detail))
	return out, nil
}

// attempt is the state owned by one Process call.
type attempt struct {
	c    *Controller
	cand types.Candidate
	site sitehints.Site
	log  *zap.Logger

	tab  Tab
	tabs []Tab
	loc  *locator.Engine

	state  State
	status ledger.Status
	reason string
	notes  []string
	signal detect.Signal
	modal  string
}

func (a *attempt) switchTo(t Tab) {
	a.tab = t
	a.tabs = append(a.tabs, t)
	a.loc = locator.New(t, a.c.opts.Locator, a.log).WithTrustedClicks(a.site.TrustedClicks)
}

func (a *attempt) run(ctx context.Context) error {
	steps := []struct {
		state State
		fn    func(context.Context) error
	}{
		{StateLoading, a.load},
		{StateHydrated, a.hydrate},
		{StateApplyEntered, a.enterApply},
		{StateModalChoice, a.chooseModal},
		{StateAccountGate, a.accountGate},
		{StateAccountGate, a.loginGate},
		{StateQuestionFill, a.fillQuestion},
		{StateSubmissionWait, a.waitSubmission},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.state = s.state
		a.log.Debug("entering state", zap.String("state", string(s.state)))
		if err := s.fn(ctx); err != nil {
			return err
		}
		if a.status != "" {
			return nil
		}
	}
	return nil
}

// block ends the flow with a status a person has to resolve. A non-empty tag saves
// diagnostics first.
func (a *attempt) block(ctx context.Context, status ledger.Status, reason, tag string) {
	a.status = status
	a.reason = reason
	if tag != "" {
		a.c.opts.Sink.Record(ctx, a.tab, tag)
	}
	a.log.Info("flow stopped", zap.String("status", string(status)), zap.String("reason", reason))
}

func (a *attempt) note(s string) {
	a.notes = append(a.notes, s)
}

func (a *attempt) detail() string {
	parts := make([]string, 0, len(a.notes)+1)
	if a.reason != "" {
		parts = append(parts, a.reason)
	}
	parts = append(parts, a.notes...)
	return strings.Join(parts, "; ")
}

func (a *attempt) snapshot(ctx context.Context) (*detect.Snapshot, error) {
	snap, err := detect.Probe(ctx, a.tab)
	if err == nil || browser.IsConnectionLost(err) {
		return snap, err
	}
	// A navigation can destroy the execution context mid-probe; try once more.
	if err := a.c.sleep(ctx, a.c.opts.Timeouts.Poll); err != nil {
		return nil, err
	}
	return detect.Probe(ctx, a.tab)
}

func (a *attempt) load(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, a.c.opts.Timeouts.Navigate)
	defer cancel()
	return a.tab.Navigate(navCtx, a.cand.URL)
}

const mountScript = `(selectors) => {
  let present = false;
  for (const s of selectors) {
    let el = null;
    try { el = document.querySelector(s); } catch (e) { continue; }
    if (!el) continue;
    present = true;
    if (el.childElementCount > 0) return { present: true, populated: true };
  }
  return { present: present, populated: false };
}`

type mountState struct {
	Present   bool `json:"present"`
	Populated bool `json:"populated"`
}

func mountExpr(selectors []string) string {
	arg, _ := json.Marshal(selectors)
	return "(" + mountScript + ")(" + string(arg) + ")"
}

func (a *attempt) mount(ctx context.Context) (mountState, error) {
	var st mountState
	err := a.tab.Evaluate(ctx, mountExpr(a.site.MountSelectors), &st)
	return st, err
}

func (a *attempt) waitMounted(ctx context.Context, timeout time.Duration) bool {
	return locator.WaitFor(ctx, timeout, a.c.opts.Timeouts.Poll, func(ctx context.Context) bool {
		st, err := a.mount(ctx)
		return err == nil && (!st.Present || st.Populated)
	})
}

// hydrate waits for a client-rendered mount point to fill. Pages without any of the
// site's mount points are treated as server-rendered.
func (a *attempt) hydrate(ctx context.Context) error {
	if len(a.site.MountSelectors) == 0 {
		return a.checkCaptcha(ctx)
	}
	st, err := a.mount(ctx)
	if err != nil {
		return err
	}
	t := a.c.opts.Timeouts
	if !st.Present || st.Populated || a.waitMounted(ctx, t.Hydration) {
		return a.checkCaptcha(ctx)
	}

	for i := 0; i < t.ReloadRetries; i++ {
		a.log.Debug("mount point empty, reloading", zap.Int("attempt", i+1))
		if err := a.c.sleep(ctx, t.ReloadBackoff*time.Duration(i+1)); err != nil {
			return err
		}
		if err := a.tab.Reload(ctx); err != nil {
			if browser.IsConnectionLost(err) {
				return err
			}
			a.log.Debug("reload failed", zap.Error(err))
		}
		if a.waitMounted(ctx, t.ReloadWait) {
			return a.checkCaptcha(ctx)
		}
	}

	if a.site.BootstrapScript != "" {
		var injected bool
		if err := a.tab.Evaluate(ctx, a.site.BootstrapScript, &injected); err != nil {
			a.log.Debug("bootstrap injection failed", zap.Error(err))
		}
		if injected && a.waitMounted(ctx, t.BootstrapWait) {
			a.note("bootstrapped")
			return a.checkCaptcha(ctx)
		}
	}

	a.block(ctx, ledger.StatusUnavailable, "root-empty", "root-empty")
	return nil
}

func (a *attempt) checkCaptcha(ctx context.Context) error {
	snap, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	if detect.Captcha(snap) {
		a.block(ctx, ledger.StatusCaptcha, "captcha present", "captcha")
	}
	return nil
}

// knownTargets records the open page targets so a tab opened by a click can be found.
func (a *attempt) knownTargets(ctx context.Context) map[string]bool {
	known := map[string]bool{}
	targets, err := a.c.browser.Targets(ctx)
	if err != nil {
		a.log.Debug("failed to list targets", zap.Error(err))
		return known
	}
	for _, t := range targets {
		known[t.ID] = true
	}
	return known
}

func (a *attempt) newTarget(ctx context.Context, known map[string]bool) string {
	targets, err := a.c.browser.Targets(ctx)
	if err != nil {
		return ""
	}
	for _, t := range targets {
		if !known[t.ID] {
			return t.ID
		}
	}
	return ""
}

// adoptNewTab waits up to wait for a tab opened by the page and switches to it.
func (a *attempt) adoptNewTab(ctx context.Context, known map[string]bool, wait time.Duration) (bool, error) {
	var id string
	locator.WaitFor(ctx, wait, a.c.opts.Timeouts.Poll, func(ctx context.Context) bool {
		id = a.newTarget(ctx, known)
		return id != ""
	})
	if id == "" {
		return false, ctx.Err()
	}
	t, err := a.c.browser.Adopt(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to adopt new tab %s: %w", id, err)
	}
	a.log.Info("switched to new tab", zap.String("target", id))
	a.switchTo(t)
	return true, a.c.sleep(ctx, a.c.opts.Timeouts.Settle)
}

// changed verifies a click by looking for a new tab or a different page.
func (a *attempt) changed(before *detect.Snapshot, known map[string]bool) locator.VerifyFunc {
	return func(ctx context.Context) bool {
		if a.newTarget(ctx, known) != "" {
			return true
		}
		now, err := detect.Probe(ctx, a.tab)
		if err != nil {
			// The page is navigating away.
			return true
		}
		return now.URL != before.URL || now.Text != before.Text
	}
}

func (a *attempt) findApply(ctx context.Context) (*locator.Element, error) {
	if len(a.site.ApplySelectors) > 0 {
		if el, err := a.loc.LocateSelector(ctx, a.site.ApplySelectors, 0); err == nil {
			return el, nil
		}
	}
	return a.loc.Locate(ctx, applyTarget)
}

func (a *attempt) enterApply(ctx context.Context) error {
	before, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	known := a.knownTargets(ctx)

	el, err := a.findApply(ctx)
	if err != nil {
		if !locator.IsNotFound(err) {
			return err
		}
		if detect.ApplicationFormPresent(before) {
			a.log.Info("no apply control, application form already present")
			return nil
		}
		a.log.Info("no apply control found")
		a.c.opts.Sink.Record(ctx, a.tab, "no-apply")
		return nil
	}

	out := a.loc.Click(ctx, el, a.changed(before, known))
	a.log.Info("apply clicked",
		zap.String("strategy", string(el.Strategy)),
		zap.String("method", string(out.Method)),
		zap.Bool("verified", out.Verified))
	if !out.Clicked() {
		return ctx.Err()
	}

	adopted, err := a.adoptNewTab(ctx, known, a.c.opts.Timeouts.NewTabWait)
	if err != nil {
		return err
	}
	if !adopted {
		if err := a.c.sleep(ctx, a.c.opts.Timeouts.Settle); err != nil {
			return err
		}
	}
	if err := a.checkUnavailable(ctx); err != nil || a.status != "" {
		return err
	}
	// The apply click can land on a challenge in front of the account wall.
	return a.checkCaptcha(ctx)
}

// checkUnavailable gives a blank or outage page one reload before giving up on it.
func (a *attempt) checkUnavailable(ctx context.Context) error {
	snap, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	if !detect.Unavailable(snap) {
		return nil
	}
	a.log.Info("apply target looks unavailable, retrying once")
	if err := a.c.sleep(ctx, a.c.opts.Timeouts.UnavailableRetryDelay); err != nil {
		return err
	}
	if err := a.tab.Reload(ctx); err != nil {
		if browser.IsConnectionLost(err) {
			return err
		}
		a.log.Debug("reload failed", zap.Error(err))
	}
	if snap, err = a.snapshot(ctx); err != nil {
		return err
	}
	if detect.Unavailable(snap) {
		a.block(ctx, ledger.StatusUnavailable, "apply target unavailable", "unavailable")
	}
	return nil
}

// chooseModal picks a continuation from an application interstitial, if one appears.
func (a *attempt) chooseModal(ctx context.Context) error {
	snap, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	// On an application form the generic "continue" would advance or submit it.
	skipGeneric := detect.ApplicationFormPresent(snap)
	known := a.knownTargets(ctx)

	t := a.c.opts.Timeouts
	locator.WaitFor(ctx, t.Modal, t.ModalPoll, func(ctx context.Context) bool {
		for _, ch := range modalChoices {
			if ch.key == modalGeneric && skipGeneric {
				continue
			}
			el, err := a.loc.LocateWithin(ctx, ch.target, 0)
			if err != nil {
				continue
			}
			if out := a.loc.Click(ctx, el, nil); out.Clicked() {
				a.modal = ch.key
				return true
			}
		}
		return false
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.modal == "" {
		return nil
	}
	a.note("modal=" + a.modal)
	a.log.Info("modal option chosen", zap.String("choice", a.modal))

	adopted, err := a.adoptNewTab(ctx, known, t.ModalNewTabWait)
	if err != nil {
		return err
	}
	if !adopted {
		if err := a.c.sleep(ctx, t.Settle); err != nil {
			return err
		}
	}
	if a.modal == "autofill" && a.c.opts.AdvanceAfterAutofill {
		a.advanceAfterAutofill(ctx)
	}
	return a.checkCaptcha(ctx)
}

// advanceAfterAutofill waits for the resume upload to settle, then presses Continue.
func (a *attempt) advanceAfterAutofill(ctx context.Context) {
	t := a.c.opts.Timeouts
	locator.WaitFor(ctx, t.Autofill, t.Poll, func(ctx context.Context) bool {
		snap, err := detect.Probe(ctx, a.tab)
		return err == nil && detect.AutofillSettled(snap)
	})
	for i := 0; i < 3; i++ {
		el, err := a.loc.LocateWithin(ctx, continueButton, t.ModalNewTabWait)
		if err == nil && a.loc.Click(ctx, el, nil).Clicked() {
			a.note("advanced")
			return
		}
		if a.c.sleep(ctx, t.Poll) != nil {
			return
		}
	}
}
