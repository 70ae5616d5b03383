package flow

import (
	"context"

	"github.com/jonathan/apply-agent/internal/browser"
	"github.com/jonathan/apply-agent/internal/locator"
)

// Tab is one browser page driven by the controller.
type Tab interface {
	locator.Page
	ID() string
	URL(ctx context.Context) (string, error)
	Reload(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)
	// Close closes the tab in the browser.
	Close() error
	// Release stops driving the tab and leaves it open for a person.
	Release()
}

// Browser is the remote browser the runner attaches to.
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
	Targets(ctx context.Context) ([]browser.TargetInfo, error)
	Adopt(ctx context.Context, id string) (Tab, error)
	Alive(ctx context.Context) bool
	Reconnect(ctx context.Context) error
	Close()
}

// SessionBrowser adapts a CDP session to Browser.
type SessionBrowser struct {
	*browser.Session
}

// NewSessionBrowser wraps s.
func NewSessionBrowser(s *browser.Session) *SessionBrowser {
	return &SessionBrowser{Session: s}
}

// NewTab opens a blank tab.
func (b *SessionBrowser) NewTab(ctx context.Context) (Tab, error) {
	t, err := b.Session.NewTab(ctx, "")
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Adopt attaches to a tab the page opened by itself.
func (b *SessionBrowser) Adopt(ctx context.Context, id string) (Tab, error) {
	t, err := b.Session.AttachTab(ctx, id)
	if err != nil {
		return nil, err
	}
	return t, nil
}
