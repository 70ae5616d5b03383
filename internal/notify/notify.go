// Package notify publishes run events that need a person's attention to a NATS subject.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/jonathan/apply-agent/internal/flow"
	"github.com/jonathan/apply-agent/internal/ledger"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "apply.events.needs_human"

// Publisher is the part of *nats.Conn the notifier uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Event is the JSON payload published for one outcome.
type Event struct {
	Type      string        `json:"type"`
	RunID     string        `json:"run_id,omitempty"`
	URL       string        `json:"url,omitempty"`
	Status    ledger.Status `json:"status,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Timestamp time.Time     `json:"ts"`
	Counts    any           `json:"counts,omitempty"`
}

// Notifier publishes events. A nil *Notifier is valid and does nothing.
type Notifier struct {
	pub     Publisher
	subject string
	log     *zap.Logger
	now     func() time.Time
	close   func()
}

// New wraps an existing publisher.
func New(pub Publisher, subject string, log *zap.Logger) *Notifier {
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{pub: pub, subject: subject, log: log.Named("notify"), now: time.Now}
}

// Connect dials the NATS server at url.
func Connect(url, subject string, log *zap.Logger) (*Notifier, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("apply-agent"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	n := New(nc, subject, log)
	n.close = func() {
		_ = nc.Drain()
	}
	return n, nil
}

// Subject returns the subject events go to.
func (n *Notifier) Subject() string {
	if n == nil {
		return ""
	}
	return n.subject
}

// Publish sends ev as JSON.
func (n *Notifier) Publish(ev Event) error {
	if n == nil || n.pub == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = n.now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.subject, err)
	}
	return nil
}

// Hook returns a progress callback that publishes finished candidates needing a human
// and the run summary, then forwards every event to next.
func (n *Notifier) Hook(next flow.ProgressCallback) flow.ProgressCallback {
	return func(ev flow.ProgressEvent) {
		if n != nil {
			n.handle(ev)
		}
		if next != nil {
			next(ev)
		}
	}
}

func (n *Notifier) handle(ev flow.ProgressEvent) {
	var out Event
	switch ev.Step {
	case "candidate_finished":
		if !ev.Status.NeedsHuman() {
			return
		}
		out = Event{Type: "needs_human", RunID: ev.RunID, URL: ev.URL, Status: ev.Status, Detail: ev.Detail}
	case "run_completed":
		out = Event{Type: "run_completed", RunID: ev.RunID, Counts: ev.Content}
	default:
		return
	}
	if err := n.Publish(out); err != nil {
		n.log.Warn("notification failed", zap.String("url", ev.URL), zap.Error(err))
	}
}

// Close drains the connection when the notifier owns one.
func (n *Notifier) Close() {
	if n != nil && n.close != nil {
		n.close()
	}
}
