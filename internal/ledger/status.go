// Package ledger records one application outcome per job URL.
package ledger

import "fmt"

// Status is the recorded outcome for a URL.
type Status string

const (
	// StatusOpened marks a URL opened by the manual opener and not yet closed
	StatusOpened Status = "opened"
	// StatusManualSubmitted marks a URL whose tab the user closed after opening it manually
	StatusManualSubmitted Status = "manual-submitted"
	// StatusSubmitted means a submission signal was observed
	StatusSubmitted Status = "submitted"
	// StatusAttempted means the flow ran to the end but no submission signal appeared in time
	StatusAttempted Status = "attempted"
	// StatusError means the attempt failed with an error
	StatusError Status = "error"
	// StatusUnavailable means the posting or the apply page never became usable
	StatusUnavailable Status = "unavailable"
	// StatusCaptcha means a CAPTCHA blocked the flow
	StatusCaptcha Status = "captcha"
	// StatusLoginRequired means a sign-in wall could not be passed
	StatusLoginRequired Status = "login_required"
	// StatusNeedsAccount means account creation was required and no credentials were configured
	StatusNeedsAccount Status = "needs_account"
	// StatusVerifyEmail means an account was created and is waiting for email verification
	StatusVerifyEmail Status = "verify_email"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{
	StatusOpened,
	StatusManualSubmitted,
	StatusSubmitted,
	StatusAttempted,
	StatusError,
	StatusUnavailable,
	StatusCaptcha,
	StatusLoginRequired,
	StatusNeedsAccount,
	StatusVerifyEmail,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the automated flow for a URL.
// Opened is the only non-terminal status: the manual opener overwrites it.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusOpened
}

// NeedsHuman reports whether a person has to look at the tab to finish the application.
func (s Status) NeedsHuman() bool {
	switch s {
	case StatusAttempted, StatusUnavailable, StatusCaptcha, StatusLoginRequired,
		StatusNeedsAccount, StatusVerifyEmail:
		return true
	}
	return false
}

// LeavesTabOpen reports whether the automated run hands the tab to a person
// instead of closing it. Error outcomes close the tab.
func (s Status) LeavesTabOpen() bool {
	return s.NeedsHuman()
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown ledger status %q", s)
	}
	return status, nil
}
