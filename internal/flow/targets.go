package flow

import (
	"regexp"

	"github.com/jonathan/apply-agent/internal/locator"
	"github.com/jonathan/apply-agent/internal/sitehints"
)

var applyTarget = locator.Target{
	Name:       "apply",
	Patterns:   []string{`apply for this job online`, `apply now`, `apply for this job`, `start application`, `^\s*apply\s*$`, `\bapply\b`},
	Kinds:      locator.Clickables,
	AttrTokens: []string{"apply", "adventurebutton"},
	Apply:      true,
	HrefTokens: sitehints.ATSHrefTokens,
}

// modalChoice is one continuation offered by a "start your application" interstitial.
type modalChoice struct {
	key    string
	target locator.Target
}

// Autofill is preferred because it reuses the most data; the generic choice is last.
var modalChoices = []modalChoice{
	{"autofill", locator.Target{Name: "autofill", Patterns: []string{`autofill with resume`, `autofill resume`, `autofill`}, Kinds: locator.Clickables, AttrTokens: []string{"autofill"}}},
	{"use-last", locator.Target{Name: "use-last", Patterns: []string{`use my last application`, `use last application`, `use my last`}, Kinds: locator.Clickables, AttrTokens: []string{"uselastapplication"}}},
	{"manual", locator.Target{Name: "manual", Patterns: []string{`apply manually`, `apply without resume`}, Kinds: locator.Clickables, AttrTokens: []string{"applymanually"}}},
	{"apply", locator.Target{Name: "continue", Patterns: []string{`\bapply\b`, `apply now`, `continue`}, Kinds: locator.Clickables}},
}

const modalGeneric = "apply"

var (
	emailField = locator.Target{
		Name:       "email",
		Patterns:   []string{`e-?mail`},
		Kinds:      []locator.Kind{locator.KindInput},
		AttrTokens: []string{"email"},
	}
	passwordField = locator.Target{
		Name:       "password",
		Patterns:   []string{`^password$`, `password`},
		Kinds:      []locator.Kind{locator.KindInput},
		AttrTokens: []string{"password"},
	}
	confirmPasswordField = locator.Target{
		Name:       "confirm-password",
		Patterns:   []string{`confirm|verify|re-?enter|repeat`},
		Kinds:      []locator.Kind{locator.KindInput},
		AttrTokens: []string{"verifypassword", "confirmpassword"},
	}
	consentBox = locator.Target{
		Name:     "consent",
		Patterns: []string{`terms|consent|agree|accept|privacy|conditions`},
		Kinds:    []locator.Kind{locator.KindCheckbox},
	}
	createAccountButton = locator.Target{
		Name:       "create-account",
		Patterns:   []string{`create account`, `create my account`, `register`},
		Kinds:      locator.Clickables,
		AttrTokens: []string{"createaccount", "create-account"},
	}
	signInButton = locator.Target{
		Name:       "sign-in",
		Patterns:   []string{`sign in`, `sign-in`, `log in`, `login`},
		Kinds:      locator.Clickables,
		AttrTokens: []string{"signin"},
	}
	continueButton = locator.Target{
		Name:       "continue",
		Patterns:   []string{`save and continue`, `^\s*continue\s*$`, `\bnext\b`},
		Kinds:      locator.Clickables,
		AttrTokens: []string{"bottom-navigation-next-button", "pagefooternextbutton"},
	}
	whyField = locator.Target{
		Name:     "why-company",
		Patterns: []string{`what excites`, `why.*(us|company|join)`, `interest.*company`, `why.*role`},
		Kinds:    locator.TextFields,
	}
	submitButton = locator.Target{
		Name:       "submit",
		Patterns:   []string{`submit application`, `send application`, `^\s*submit\s*$`},
		Kinds:      locator.Clickables,
		AttrTokens: []string{"submit"},
	}
)

// consentTarget adds the site's consent label texts to the generic consent patterns.
func consentTarget(site sitehints.Site) locator.Target {
	t := consentBox
	t.Patterns = nil
	for _, label := range site.ConsentLabels {
		t.Patterns = append(t.Patterns, regexp.QuoteMeta(label))
	}
	t.Patterns = append(t.Patterns, consentBox.Patterns...)
	return t
}

// whyTarget adds "Why <company>" to the generic why-company patterns.
func whyTarget(company string) locator.Target {
	t := whyField
	t.Patterns = nil
	if company != "" {
		t.Patterns = append(t.Patterns, `why\s+`+regexp.QuoteMeta(company))
	}
	t.Patterns = append(t.Patterns, whyField.Patterns...)
	return t
}
