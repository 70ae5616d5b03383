package flow

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-agent/internal/answer"
	"github.com/jonathan/apply-agent/internal/detect"
	"github.com/jonathan/apply-agent/internal/diagnostics"
	"github.com/jonathan/apply-agent/internal/ledger"
	"github.com/jonathan/apply-agent/internal/locator"
	"github.com/jonathan/apply-agent/internal/types"
)

const (
	greenhouseURL = "https://boards.greenhouse.io/acme/jobs/1"
	leverURL      = "https://jobs.lever.co/acme/1"
	workdayURL    = "https://acme.wd5.myworkdayjobs.com/en-US/careers/job/1"
	careersURL    = "https://careers.acme.com/jobs/1"
)

const postingText = "Backend Intern at Acme. We build logistics software for growing companies and hire across engineering."

var testCreds = Credentials{Email: "sam@example.com", Password: "hunter2-hunter2"}

func fastTimeouts() Timeouts {
	return Timeouts{
		Navigate:              time.Second,
		Hydration:             20 * time.Millisecond,
		ReloadRetries:         2,
		ReloadBackoff:         time.Millisecond,
		ReloadWait:            20 * time.Millisecond,
		BootstrapWait:         20 * time.Millisecond,
		NewTabWait:            20 * time.Millisecond,
		UnavailableRetryDelay: time.Millisecond,
		Modal:                 30 * time.Millisecond,
		ModalPoll:             5 * time.Millisecond,
		ModalNewTabWait:       15 * time.Millisecond,
		Autofill:              20 * time.Millisecond,
		Verification:          40 * time.Millisecond,
		VerificationPoll:      5 * time.Millisecond,
		Submission:            60 * time.Millisecond,
		SubmissionPoll:        5 * time.Millisecond,
		Poll:                  5 * time.Millisecond,
	}
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Sink:    diagnostics.New(t.TempDir(), nil),
		Drafter: answer.NewDrafter(nil),
		Profile: &types.Profile{
			Name:   "Sam",
			Skills: types.Skills{ProgrammingLanguages: []string{"Go"}, Technologies: []string{"Postgres"}},
		},
		Timeouts:   fastTimeouts(),
		Locator:    locator.Options{Timeout: 30 * time.Millisecond, StrategyTimeout: time.Second, PollInterval: 5 * time.Millisecond},
		AutoSubmit: true,
	}
}

func process(t *testing.T, b *fakeBrowser, opts Options, cand types.Candidate) (Outcome, *fakeTab, error) {
	t.Helper()
	tab := b.open(page("about:blank", "", ""))
	out, err := NewController(b, opts, nil).Process(context.Background(), tab, cand)
	return out, tab, err
}

func captured(t *testing.T, opts Options, tag string) bool {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(opts.Sink.Dir(), "*-"+tag+".png"))
	require.NoError(t, err)
	return len(matches) > 0
}

func thanksPage(url string) *fakePage {
	return page(url, "Thank you for applying to Acme! Our team will review your application shortly.",
		"<html><body><h1>Thank you for applying</h1></body></html>")
}

// applicationForm is an embedded form with a "Why Acme?" question and a submit button.
type applicationForm struct {
	page   *fakePage
	why    *fakeElement
	submit *fakeElement
}

func newApplicationForm(url string) *applicationForm {
	f := &applicationForm{why: field("Why Acme?", locator.KindTextarea)}
	f.submit = button("Submit Application", func(t *fakeTab) { t.show(thanksPage(url + "/thanks")) })
	html := `<html><body><form id="application_form">` +
		`<input type="text" name="first_name"><input type="email" name="email"><input type="file" name="resume">` +
		`<textarea name="why"></textarea><button>Submit Application</button></form></body></html>`
	f.page = page(url, "Apply for Backend Intern at Acme. First name, Email, Resume/CV, Why Acme?", html, f.why, f.submit)
	return f
}

func greenhousePosting(next *fakePage) (*fakePage, *fakeElement) {
	apply := button("Apply for this Job", func(t *fakeTab) { t.show(next) }).withSelector("#apply_button")
	return page(greenhouseURL, postingText, "<html><body><h1>Backend Intern</h1><a id='apply_button'>Apply for this Job</a></body></html>", apply), apply
}

func careersPosting(html string, next *fakePage) (*fakePage, *fakeElement) {
	apply := button("Apply Now", func(t *fakeTab) { t.show(next) })
	return page(careersURL, postingText, html, apply), apply
}

// accountForm is a create-account page whose submit button shows next.
type accountForm struct {
	page                     *fakePage
	email, password, confirm *fakeElement
	consent, create          *fakeElement
}

func newAccountForm(next *fakePage) *accountForm {
	f := &accountForm{
		email:    field("Email Address", locator.KindInput),
		password: field("Password", locator.KindInput),
		confirm:  field("Verify New Password", locator.KindInput),
		consent:  field("I agree to the Terms and Conditions", locator.KindCheckbox),
	}
	f.create = button("Create Account", func(t *fakeTab) { t.show(next) })
	html := `<html><body><form><input type="email" aria-label="Email Address"><input type="password">` +
		`<input type="password"><input type="checkbox"><button>Create Account</button></form></body></html>`
	f.page = page(careersURL+"/account", "Create Account. Enter your email address and choose a password to continue your application to Acme.",
		html, f.email, f.password, f.confirm, f.consent, f.create)
	return f
}

func TestProcess_GreenhouseSubmitted(t *testing.T) {
	form := newApplicationForm(greenhouseURL)
	posting, apply := greenhousePosting(form.page)
	b := newFakeBrowser().serve(greenhouseURL, func() *fakePage { return posting })
	opts := testOptions(t)

	out, _, err := process(t, b, opts, types.Candidate{URL: greenhouseURL, Company: "Acme", Title: "Backend Intern"})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusSubmitted, out.Status)
	assert.Equal(t, StateSubmitted, out.State)
	assert.Equal(t, detect.SignalPhrase, out.Signal)
	assert.Equal(t, "answer=why-company; signal=phrase", out.Detail)
	assert.False(t, out.LeaveOpen)
	assert.Len(t, out.Tabs, 1)
	assert.Equal(t, 1, apply.Clicks())
	assert.Equal(t, 1, form.submit.Clicks())
	assert.True(t, strings.HasPrefix(form.why.Value(), "I'm excited about Acme because"), form.why.Value())
}

func TestProcess_NoAutoSubmitIsAttempted(t *testing.T) {
	form := newApplicationForm(greenhouseURL)
	posting, _ := greenhousePosting(form.page)
	b := newFakeBrowser().serve(greenhouseURL, func() *fakePage { return posting })
	opts := testOptions(t)
	opts.AutoSubmit = false

	out, _, err := process(t, b, opts, types.Candidate{URL: greenhouseURL, Company: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusAttempted, out.Status)
	assert.Equal(t, "no confirmation; answer=why-company", out.Detail)
	assert.True(t, out.LeaveOpen)
	assert.Zero(t, form.submit.Clicks())
	assert.NotEmpty(t, form.why.Value())
	assert.True(t, captured(t, opts, "no-submit"))
}

func TestProcess_UnavailableAfterOneReload(t *testing.T) {
	blank := page(greenhouseURL+"#app", "", "<html><body></body></html>")
	posting, _ := greenhousePosting(blank)
	b := newFakeBrowser().serve(greenhouseURL, func() *fakePage { return posting })
	opts := testOptions(t)

	out, tab, err := process(t, b, opts, types.Candidate{URL: greenhouseURL})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusUnavailable, out.Status)
	assert.Equal(t, "apply target unavailable", out.Detail)
	assert.True(t, out.LeaveOpen)
	assert.Equal(t, 1, tab.Reloads())
	assert.True(t, captured(t, opts, "unavailable"))
}

func TestProcess_UnavailableRecoversOnReload(t *testing.T) {
	form := newApplicationForm(greenhouseURL)
	blank := page(greenhouseURL+"#app", "", "<html><body></body></html>")
	blank.onReload = func(t *fakeTab) { t.show(form.page) }
	posting, _ := greenhousePosting(blank)
	b := newFakeBrowser().serve(greenhouseURL, func() *fakePage { return posting })

	out, tab, err := process(t, b, testOptions(t), types.Candidate{URL: greenhouseURL, Company: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusSubmitted, out.Status)
	assert.Equal(t, 1, tab.Reloads())
}

func leverPosting(next *fakePage) *fakePage {
	apply := button("Apply for this job", func(t *fakeTab) { t.show(next) }).withSelector(".postings-btn")
	return page(leverURL, postingText, "<html><body><a class='postings-btn'>Apply for this job</a></body></html>", apply)
}

func TestProcess_ModalPrefersAutofill(t *testing.T) {
	form := newApplicationForm(leverURL + "/apply")
	autofill := button("Autofill with Resume", func(t *fakeTab) { t.show(form.page) })
	manual := button("Apply Manually", func(t *fakeTab) { t.show(form.page) })
	modal := page(leverURL, "Start your application to Acme. Autofill with your resume or apply manually to continue.",
		"<html><body><div class='modal'><button>Autofill with Resume</button><button>Apply Manually</button></div></body></html>",
		manual, autofill)
	b := newFakeBrowser().serve(leverURL, func() *fakePage { return leverPosting(modal) })

	out, _, err := process(t, b, testOptions(t), types.Candidate{URL: leverURL, Company: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusSubmitted, out.Status)
	assert.Equal(t, "modal=autofill; answer=why-company; signal=phrase", out.Detail)
	assert.Equal(t, 1, autofill.Clicks())
	assert.Zero(t, manual.Clicks())
}

func TestProcess_AdvanceAfterAutofill(t *testing.T) {
	form := newApplicationForm(leverURL + "/apply")
	next := button("Continue", func(t *fakeTab) { t.show(form.page) })
	uploaded := page(leverURL+"/apply", "Resume uploaded: sam-resume.pdf. Review the details we filled in and continue when ready.",
		"<html><body><p>sam-resume.pdf</p><button>Continue</button></body></html>", next)
	autofill := button("Autofill with Resume", func(t *fakeTab) { t.show(uploaded) })
	modal := page(leverURL, "Start your application to Acme. Autofill with your resume to save time on the next steps.",
		"<html><body><button>Autofill with Resume</button></body></html>", autofill)
	b := newFakeBrowser().serve(leverURL, func() *fakePage { return leverPosting(modal) })
	opts := testOptions(t)
	opts.AdvanceAfterAutofill = true

	out, _, err := process(t, b, opts, types.Candidate{URL: leverURL, Company: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusSubmitted, out.Status)
	assert.Equal(t, "modal=autofill; advanced; answer=why-company; signal=phrase", out.Detail)
	assert.Equal(t, 1, next.Clicks())
}

func TestProcess_AccountWithoutCredentials(t *testing.T) {
	account := newAccountForm(newApplicationForm(careersURL).page)
	posting, _ := careersPosting("<html><body><button>Apply Now</button></body></html>", account.page)
	b := newFakeBrowser().serve(careersURL, func() *fakePage { return posting })
	opts := testOptions(t)

	out, _, err := process(t, b, opts, types.Candidate{URL: careersURL, Company: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusNeedsAccount, out.Status)
	assert.Equal(t, "account required", out.Detail)
	assert.True(t, out.LeaveOpen)
	assert.Zero(t, account.create.Clicks())
	assert.Empty(t, account.email.Value())
	assert.True(t, captured(t, opts, "create-account-no-creds"))
}

func TestProcess_CreateAccountThenSignIn(t *testing.T) {
	form := newApplicationForm(careersURL + "/apply")
	signInEmail := field("Email", locator.KindInput)
	signInPassword := field("Password", locator.KindInput)
	signIn := button("Sign In", func(t *fakeTab) { t.show(form.page) })
	signInPage := page(careersURL+"/session", "Sign in to continue your application to Acme with the email and password you just chose.",
		`<html><body><form><input type="email"><input type="password"><button>Sign In</button></form></body></html>`,
		signInEmail, signInPassword, signIn)
	account := newAccountForm(signInPage)
	posting, _ := careersPosting("<html><body><button>Apply Now</button></body></html>", account.page)
	b := newFakeBrowser().serve(careersURL, func() *fakePage { return posting })
	opts := testOptions(t)
	opts.Credentials = testCreds

	out, _, err := process(t, b, opts, types.Candidate{URL: careersURL, Company: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusSubmitted, out.Status)
	assert.Equal(t, "account=created; answer=why-company; signal=phrase", out.Detail)

	assert.Equal(t, testCreds.Email, account.email.Value())
	assert.Equal(t, testCreds.Password, account.password.Value())
	assert.Equal(t, testCreds.Password, account.confirm.Value())
	assert.True(t, account.consent.Checked())
	assert.Equal(t, 1, account.create.Clicks())

	assert.Equal(t, testCreds.Email, signInEmail.Value())
	assert.Equal(t, testCreds.Password, signInPassword.Value())
	assert.Equal(t, 1, signIn.Clicks())
	assert.Equal(t, 1, form.submit.Clicks())
}

func TestProcess_VerificationPending(t *testing.T) {
	verify := page(careersURL+"/verify", "Verify your email. We sent a link to sam@example.com; open it to activate your Acme account.",
		"<html><body><p>Verify your email</p></body></html>")
	account := newAccountForm(verify)
	posting, _ := careersPosting("<html><body><button>Apply Now</button></body></html>", account.page)
	b := newFakeBrowser().serve(careersURL, func() *fakePage { return posting })
	opts := testOptions(t)
	opts.Credentials = testCreds

	out, _, err := process(t, b, opts, types.Candidate{URL: careersURL})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusVerifyEmail, out.Status)
	assert.Equal(t, "email verification pending; account=created", out.Detail)
	assert.True(t, out.LeaveOpen)
	assert.True(t, captured(t, opts, "verify-email"))
}

func TestProcess_VerificationPendingWithoutCredentials(t *testing.T) {
	verify := page(careersURL+"/verify", "Verify your email. We sent a link to sam@example.com; open it to activate your Acme account.",
		"<html><body><p>Verify your email</p></body></html>")
	posting, _ := careersPosting("<html><body><button>Apply Now</button></body></html>", verify)
	b := newFakeBrowser().serve(careersURL, func() *fakePage { return posting })
	opts := testOptions(t)

	out, _, err := process(t, b, opts, types.Candidate{URL: careersURL})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusVerifyEmail, out.Status)
	assert.Equal(t, "email verification pending", out.Detail)
	assert.True(t, out.LeaveOpen)
	assert.True(t, captured(t, opts, "verify-email"))
	assert.False(t, captured(t, opts, "create-account-no-creds"))
}

func loginPage(onSignIn func(t *fakeTab)) *fakePage {
	return page(careersURL+"/login?next=/jobs/1", "Please sign in to continue. Enter your password to reach the Acme candidate home.",
		`<html><body><form action="/login"><input type="password"><button>Sign In</button></form></body></html>`,
		field("Password", locator.KindInput), button("Sign In", onSignIn))
}

func TestProcess_LoginRequired(t *testing.T) {
	b := newFakeBrowser().serve(careersURL, func() *fakePage { return loginPage(nil) })
	opts := testOptions(t)

	out, _, err := process(t, b, opts, types.Candidate{URL: careersURL})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusLoginRequired, out.Status)
	assert.Equal(t, "sign-in required", out.Detail)
	assert.True(t, captured(t, opts, "login_required"))
	assert.True(t, captured(t, opts, "no-apply"))
}

func TestProcess_SignInDoesNotAdvance(t *testing.T) {
	b := newFakeBrowser().serve(careersURL, func() *fakePage { return loginPage(nil) })
	opts := testOptions(t)
	opts.Credentials = testCreds

	out, _, err := process(t, b, opts, types.Candidate{URL: careersURL})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusLoginRequired, out.Status)
	assert.Equal(t, "sign-in did not advance", out.Detail)
}

func TestProcess_Captcha(t *testing.T) {
	posting, apply := careersPosting(`<html><body><div class="g-recaptcha"></div><button>Apply Now</button></body></html>`, nil)
	b := newFakeBrowser().serve(careersURL, func() *fakePage { return posting })
	opts := testOptions(t)

	out, _, err := process(t, b, opts, types.Candidate{URL: careersURL})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusCaptcha, out.Status)
	assert.Equal(t, "captcha present", out.Detail)
	assert.Equal(t, StateBlocked, out.State)
	assert.Zero(t, apply.Clicks())
	assert.True(t, captured(t, opts, "captcha"))
}

func TestProcess_CaptchaAfterApply(t *testing.T) {
	// The challenge only appears once the apply click lands on the account wall.
	wall := newAccountForm(nil)
	wall.page.html = `<html><body><div class="g-recaptcha"></div><form><input type="email" aria-label="Email Address">` +
		`<input type="password"><button>Create Account</button></form></body></html>`
	posting, apply := careersPosting("<html><body><button>Apply Now</button></body></html>", wall.page)
	b := newFakeBrowser().serve(careersURL, func() *fakePage { return posting })
	opts := testOptions(t)
	opts.Credentials = testCreds

	out, _, err := process(t, b, opts, types.Candidate{URL: careersURL, Company: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusCaptcha, out.Status)
	assert.Equal(t, "captcha present", out.Detail)
	assert.Equal(t, StateBlocked, out.State)
	assert.Equal(t, 1, apply.Clicks())
	assert.Empty(t, wall.email.Value())
	assert.Empty(t, wall.password.Value())
	assert.Zero(t, wall.create.Clicks())
	assert.True(t, captured(t, opts, "captcha"))
}

func TestProcess_WorkdayRootStaysEmpty(t *testing.T) {
	b := newFakeBrowser().serve(workdayURL, func() *fakePage {
		p := page(workdayURL, "", `<html><body><div id="root"></div></body></html>`)
		p.mount = &mountState{Present: true}
		return p
	})
	opts := testOptions(t)

	out, tab, err := process(t, b, opts, types.Candidate{URL: workdayURL})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusUnavailable, out.Status)
	assert.Equal(t, "root-empty", out.Detail)
	assert.Equal(t, 2, tab.Reloads())
	assert.True(t, captured(t, opts, "root-empty"))
}

func TestProcess_WorkdayBootstrap(t *testing.T) {
	b := newFakeBrowser().serve(workdayURL, func() *fakePage {
		p := page(workdayURL, postingText, `<html><body><div id="root"><div>Backend Intern</div></div></body></html>`)
		p.mount = &mountState{Present: true}
		p.onBootstrap = func(p *fakePage) bool {
			p.mount.Populated = true
			return true
		}
		return p
	})

	out, tab, err := process(t, b, testOptions(t), types.Candidate{URL: workdayURL})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusAttempted, out.Status)
	assert.Equal(t, "no confirmation; bootstrapped; answer=none", out.Detail)
	assert.Equal(t, 2, tab.Reloads())
}

func TestProcess_TrustedClickAdoptsNewTab(t *testing.T) {
	form := newApplicationForm(workdayURL + "/apply")
	b := newFakeBrowser()
	apply := button("Apply", func(t *fakeTab) { t.b.open(form.page) }).withSelector("[data-automation-id='adventureButton']")
	b.serve(workdayURL, func() *fakePage {
		return page(workdayURL, postingText, "<html><body><a data-automation-id='adventureButton'>Apply</a></body></html>", apply)
	})

	out, tab, err := process(t, b, testOptions(t), types.Candidate{URL: workdayURL, Company: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusSubmitted, out.Status)
	require.Len(t, out.Tabs, 2)
	tabs := b.Tabs()
	require.Len(t, tabs, 2)
	assert.Equal(t, tabs[1].ID(), out.Tab.ID())
	assert.Equal(t, 1, apply.Clicks())
	assert.Equal(t, 1, tab.MouseClicks())
	assert.Equal(t, 1, tabs[1].MouseClicks())
	assert.Equal(t, 1, form.submit.Clicks())
}

func TestProcess_NavigationFailure(t *testing.T) {
	b := newFakeBrowser().failNavigation(careersURL, errors.New("net::ERR_NAME_NOT_RESOLVED"))

	out, _, err := process(t, b, testOptions(t), types.Candidate{URL: careersURL})
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StateLoading, stepErr.State)
	assert.Equal(t, careersURL, stepErr.URL)
	assert.Equal(t, ledger.StatusError, out.Status)
	assert.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")
}

func TestProcess_CancelledContext(t *testing.T) {
	b := newFakeBrowser().serve(careersURL, func() *fakePage { return loginPage(nil) })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tab := b.open(page("about:blank", "", ""))
	_, err := NewController(b, testOptions(t), nil).Process(ctx, tab, types.Candidate{URL: careersURL})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCredentialsValid(t *testing.T) {
	assert.True(t, testCreds.Valid())
	assert.False(t, Credentials{Email: "a@b.c"}.Valid())
	assert.False(t, Credentials{}.Valid())
}

func TestMountExpr(t *testing.T) {
	expr := mountExpr([]string{"#root", "[data-automation-id='jobPostingPage']"})
	assert.True(t, strings.HasPrefix(expr, "("+mountScript+")("))
	assert.True(t, strings.HasSuffix(expr, `)(["#root","[data-automation-id='jobPostingPage']"])`))
}
