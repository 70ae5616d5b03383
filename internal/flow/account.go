package flow

import (
	"context"

	"go.uber.org/zap"

	"github.com/jonathan/apply-agent/internal/detect"
	"github.com/jonathan/apply-agent/internal/ledger"
	"github.com/jonathan/apply-agent/internal/locator"
)

// accountGate handles create-account and email-verification walls.
func (a *attempt) accountGate(ctx context.Context) error {
	snap, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	gate := detect.Gate(snap)
	if gate != detect.GateCreateAccount && gate != detect.GateVerifyEmail {
		return nil
	}
	a.log.Info("account gate detected", zap.String("gate", string(gate)), zap.Bool("credentials", a.c.opts.Credentials.Valid()))
	if gate == detect.GateVerifyEmail {
		if !a.c.opts.Credentials.Valid() {
			// The account exists already; only the person can open the link.
			a.block(ctx, ledger.StatusVerifyEmail, "email verification pending", "verify-email")
			return nil
		}
		return a.verifyThenSignIn(ctx)
	}
	if !a.c.opts.Credentials.Valid() {
		a.block(ctx, ledger.StatusNeedsAccount, "account required", "create-account-no-creds")
		return nil
	}
	return a.createAccount(ctx)
}

func (a *attempt) createAccount(ctx context.Context) error {
	creds := a.c.opts.Credentials
	wrote := map[string]bool{}

	email, err := a.fillField(ctx, emailField, creds.Email)
	if err != nil {
		return err
	}
	wrote["email"] = email != nil
	password, err := a.fillField(ctx, passwordField, creds.Password)
	if err != nil {
		return err
	}
	wrote["password"] = password != nil

	if confirm, err := a.loc.LocateWithin(ctx, confirmPasswordField, 0); err == nil && (password == nil || confirm.Token != password.Token) {
		if _, err := a.loc.Fill(ctx, confirm, creds.Password); err == nil {
			wrote["confirm"] = true
		}
	}
	wrote["consent"] = a.checkConsent(ctx)

	clicked := a.clickFirst(ctx, a.site.CreateAccountSelectors, createAccountButton)
	a.log.Info("account form submitted",
		zap.Bool("email", wrote["email"]),
		zap.Bool("password", wrote["password"]),
		zap.Bool("confirm", wrote["confirm"]),
		zap.Bool("consent", wrote["consent"]),
		zap.Bool("clicked", clicked))
	if !clicked {
		return nil
	}
	a.note("account=created")
	if err := a.c.sleep(ctx, a.c.opts.Timeouts.Settle); err != nil {
		return err
	}

	snap, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	if detect.Gate(snap) == detect.GateVerifyEmail {
		return a.verifyThenSignIn(ctx)
	}
	// A sign-in hint and no hint at all both lead to signing in.
	_, err = a.signIn(ctx)
	return err
}

// verifyThenSignIn waits for the applicant to follow the verification link.
func (a *attempt) verifyThenSignIn(ctx context.Context) error {
	a.c.opts.Sink.Record(ctx, a.tab, "verify-email")
	t := a.c.opts.Timeouts
	verified := locator.WaitFor(ctx, t.Verification, t.VerificationPoll, func(ctx context.Context) bool {
		snap, err := detect.Probe(ctx, a.tab)
		return err == nil && detect.VerificationComplete(snap)
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	if !verified {
		a.block(ctx, ledger.StatusVerifyEmail, "email verification pending", "")
		return nil
	}
	a.note("email=verified")
	_, err := a.signIn(ctx)
	return err
}

// signIn fills the credentials into whatever sign-in form is shown and submits it.
func (a *attempt) signIn(ctx context.Context) (bool, error) {
	creds := a.c.opts.Credentials
	if _, err := a.fillField(ctx, emailField, creds.Email); err != nil {
		return false, err
	}
	if _, err := a.fillField(ctx, passwordField, creds.Password); err != nil {
		return false, err
	}
	clicked := a.clickFirst(ctx, a.site.SignInSelectors, signInButton)
	a.log.Info("sign-in submitted", zap.Bool("clicked", clicked))
	if !clicked {
		return false, nil
	}
	return true, a.c.sleep(ctx, a.c.opts.Timeouts.Settle)
}

// loginGate stops on pages that demand a sign-in the agent cannot complete.
func (a *attempt) loginGate(ctx context.Context) error {
	snap, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	if !detect.LoginRequired(snap) {
		return nil
	}
	a.c.opts.Sink.Record(ctx, a.tab, "login_required")
	if !a.c.opts.Credentials.Valid() {
		a.block(ctx, ledger.StatusLoginRequired, "sign-in required", "")
		return nil
	}
	if _, err := a.signIn(ctx); err != nil {
		return err
	}
	if snap, err = a.snapshot(ctx); err != nil {
		return err
	}
	if detect.LoginRequired(snap) {
		a.block(ctx, ledger.StatusLoginRequired, "sign-in did not advance", "")
		return nil
	}
	a.note("signed-in")
	return nil
}

// fillField fills the first field matching t. A missing field is not an error.
func (a *attempt) fillField(ctx context.Context, t locator.Target, value string) (*locator.Element, error) {
	el, err := a.loc.LocateWithin(ctx, t, 0)
	if err != nil {
		if locator.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if _, err := a.loc.Fill(ctx, el, value); err != nil {
		a.log.Debug("fill failed", zap.String("field", t.Name), zap.Error(err))
		return nil, nil
	}
	return el, nil
}

// checkConsent ticks the terms checkbox, trying the site's selectors before the
// generic label match.
func (a *attempt) checkConsent(ctx context.Context) bool {
	if len(a.site.ConsentSelectors) > 0 {
		if el, err := a.loc.LocateSelector(ctx, a.site.ConsentSelectors, 0); err == nil {
			if ok, err := a.loc.Check(ctx, el); err == nil && ok {
				return true
			}
		}
	}
	el, err := a.loc.LocateWithin(ctx, consentTarget(a.site), 0)
	if err != nil {
		return false
	}
	ok, err := a.loc.Check(ctx, el)
	return err == nil && ok
}

// clickFirst clicks the first visible site selector, else the generic target.
func (a *attempt) clickFirst(ctx context.Context, selectors []string, t locator.Target) bool {
	if len(selectors) > 0 {
		if el, err := a.loc.LocateSelector(ctx, selectors, 0); err == nil {
			if a.loc.Click(ctx, el, nil).Clicked() {
				return true
			}
		}
	}
	el, err := a.loc.LocateWithin(ctx, t, 0)
	if err != nil {
		return false
	}
	return a.loc.Click(ctx, el, nil).Clicked()
}
