package detect

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// GateKind is the account wall currently shown by a page.
type GateKind string

const (
	GateNone          GateKind = ""
	GateCreateAccount GateKind = "create-account"
	GateVerifyEmail   GateKind = "verify-email"
	GateSignIn        GateKind = "sign-in"
)

const captchaSelector = "iframe[src*='recaptcha'], div.g-recaptcha, div#captcha, input[name='captcha'], iframe[src*='hcaptcha'], div.h-captcha"

var (
	createAccountText = []string{"create account", "create my account", "password requirements"}
	createAccountIDs  = `[data-automation-id*="createAccount"], [data-automation-id*="create-account"], [data-automation-id*="createAccountSubmit"]`

	verifyEmailRe   = regexp.MustCompile(`verify your email|check your email|verification email|verify your account`)
	signInTextRe    = regexp.MustCompile(`sign in|sign-in|log in|login`)
	loginPhraseRe   = regexp.MustCompile(`sign in to|please sign in|sign in required|create account to apply`)
	verifiedRe      = regexp.MustCompile(`email verified|verification complete|account verified|thank you for verifying`)
	proceedButtonRe = regexp.MustCompile(`continue|sign in|log in|proceed`)
	uploadedFileRe  = regexp.MustCompile(`\.pdf\b|\.docx?\b|\.txt\b`)
)

// Captcha reports whether the page shows a CAPTCHA challenge.
func Captcha(s *Snapshot) bool {
	return s.Has(captchaSelector)
}

// CreateAccount reports whether the page asks the applicant to create an account.
func CreateAccount(s *Snapshot) bool {
	text := s.VisibleText()
	for _, marker := range createAccountText {
		if strings.Contains(text, marker) {
			return true
		}
	}
	if s.Has(createAccountIDs) {
		return true
	}
	createButton := false
	s.Document().Find("button, input[type=submit], input[type=button]").EachWithBreak(func(_ int, b *goquery.Selection) bool {
		label := strings.ToLower(b.Text() + " " + b.AttrOr("value", ""))
		auto := strings.ToLower(b.AttrOr("data-automation-id", ""))
		createButton = strings.Contains(label, "create account") || strings.Contains(auto, "create")
		return !createButton
	})
	if createButton {
		return true
	}
	return passwordInput(s) && emailInput(s)
}

// Gate classifies the account wall on the page. Verification prompts win over the
// create form they usually replace; a bare sign-in form is reported last.
func Gate(s *Snapshot) GateKind {
	text := s.VisibleText()
	switch {
	case verifyEmailRe.MatchString(text):
		return GateVerifyEmail
	case CreateAccount(s):
		return GateCreateAccount
	case passwordInput(s) || signInTextRe.MatchString(text):
		return GateSignIn
	}
	return GateNone
}

// LoginRequired reports whether the page demands a sign-in before the application.
func LoginRequired(s *Snapshot) bool {
	u := strings.ToLower(s.URL)
	if strings.Contains(u, "login") || strings.Contains(u, "signin") || strings.Contains(u, "log-in") {
		return true
	}
	if s.Has(`input[type="password"], form[action*="/account"], form[action*="/login"]`) {
		return true
	}
	return loginPhraseRe.MatchString(s.VisibleText())
}

// Unavailable reports a blank page or an ATS outage notice.
func Unavailable(s *Snapshot) bool {
	text := strings.TrimSpace(s.VisibleText())
	return len(text) < 50 || strings.Contains(text, "service is unavailable")
}

// VerificationComplete reports whether an email verification appears to have gone
// through: a confirmation phrase, or a control to continue or sign in.
func VerificationComplete(s *Snapshot) bool {
	if verifiedRe.MatchString(s.VisibleText()) {
		return true
	}
	found := false
	s.Document().Find("button, input[type=button], input[type=submit]").EachWithBreak(func(_ int, b *goquery.Selection) bool {
		found = proceedButtonRe.MatchString(strings.ToLower(b.Text() + " " + b.AttrOr("value", "")))
		return !found
	})
	return found
}

// ApplicationFormPresent reports whether an application form is already on the page,
// which happens when the posting embeds the form instead of linking to it.
func ApplicationFormPresent(s *Snapshot) bool {
	if s.Has(`#application_form, #application-form, form#application, .application-form, [data-automation-id*="applyFlow"], form input[type=file]`) {
		return true
	}
	present := false
	s.Document().Find("form").EachWithBreak(func(_ int, f *goquery.Selection) bool {
		fields := f.Find(`textarea, input[type=text], input[type=email], input[type=tel], input:not([type])`).Length()
		present = fields >= 3
		return !present
	})
	return present
}

// AutofillSettled reports whether a resume autofill finished uploading.
func AutofillSettled(s *Snapshot) bool {
	text := s.VisibleText()
	if strings.Contains(text, "successfully uploaded") || strings.Contains(text, "page completed") || strings.Contains(text, "uploaded") {
		return true
	}
	return uploadedFileRe.MatchString(text)
}

func passwordInput(s *Snapshot) bool {
	return s.Has(`input[type="password"]`)
}

func emailInput(s *Snapshot) bool {
	found := false
	s.Document().Find("input").EachWithBreak(func(_ int, in *goquery.Selection) bool {
		hint := strings.ToLower(in.AttrOr("placeholder", "") + " " + in.AttrOr("aria-label", "") + " " + in.AttrOr("data-automation-id", ""))
		found = in.AttrOr("type", "") == "email" || strings.Contains(hint, "email")
		return !found
	})
	return found
}
