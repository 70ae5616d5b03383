package detect

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Signal names the evidence that an application was submitted.
type Signal string

const (
	SignalNone   Signal = ""
	SignalMarker Signal = "marker"
	SignalPhrase Signal = "phrase"
	SignalURL    Signal = "url"
	SignalFrame  Signal = "frame"
)

const (
	DefaultInterval = 2500 * time.Millisecond
	DefaultTimeout  = 180 * time.Second
)

// DefaultMarkers are confirmation containers used by common applicant tracking systems.
var DefaultMarkers = []string{
	".application-submitted",
	".thanks",
	"#submissionConfirmation",
	`[data-qa="application-confirmation"]`,
	".lever-application-complete",
}

// DefaultPhrases are confirmation sentences searched in the page text.
var DefaultPhrases = []string{
	"thank you for applying",
	"application submitted",
	"we've received your application",
	"we have received your application",
	"has been submitted",
	"thanks for your application",
	"submission confirmation",
}

// DefaultFramePhrases are searched in same-origin iframes, where some ATSs render the
// confirmation.
var DefaultFramePhrases = []string{
	"thank you for applying",
	"application submitted",
	"we have received your application",
	"thanks for your application",
}

// confirmationPathRe matches whole path segments only, so a job slug such as
// "customer-success-engineer" is not taken for a confirmation page.
var confirmationPathRe = regexp.MustCompile(`(?:^|[/#])(?:thank-?you|confirmation|application-(?:submitted|complete)|success)(?:[/#?]|$)`)

// ProbeFunc takes a fresh snapshot of the page being watched.
type ProbeFunc func(ctx context.Context) (*Snapshot, error)

// Detector decides whether an application was submitted.
type Detector struct {
	Markers      []string
	Phrases      []string
	FramePhrases []string
	Interval     time.Duration
	Timeout      time.Duration

	// Abort, when set, stops Wait on a probe error it returns true for.
	Abort func(error) bool

	log *zap.Logger
}

// NewDetector returns a detector with the default signals plus extra site markers.
func NewDetector(extraMarkers []string, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	markers := append(append([]string{}, DefaultMarkers...), extraMarkers...)
	return &Detector{
		Markers:      markers,
		Phrases:      DefaultPhrases,
		FramePhrases: DefaultFramePhrases,
		Interval:     DefaultInterval,
		Timeout:      DefaultTimeout,
		log:          log,
	}
}

// Submitted checks the snapshot for any confirmation signal. The signals are
// independent: any one of them is enough.
func (d *Detector) Submitted(s *Snapshot) Signal {
	if s == nil {
		return SignalNone
	}
	if len(d.Markers) > 0 && s.Has(strings.Join(d.Markers, ", ")) {
		return SignalMarker
	}
	text := s.VisibleText()
	for _, p := range d.Phrases {
		if strings.Contains(text, p) {
			return SignalPhrase
		}
	}
	if confirmationURL(s.URL) {
		return SignalURL
	}
	for _, f := range s.Frames {
		ft := strings.ToLower(f.Text)
		for _, p := range d.FramePhrases {
			if strings.Contains(ft, p) {
				return SignalFrame
			}
		}
	}
	return SignalNone
}

// confirmationURL matches confirmation words in the path or fragment of a URL.
func confirmationURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return confirmationPathRe.MatchString(strings.ToLower(raw))
	}
	return confirmationPathRe.MatchString(strings.ToLower(u.Path + "#" + u.Fragment))
}

// Wait polls until a confirmation signal appears or the timeout elapses. A timeout
// returns SignalNone and a nil error; only context cancellation or an aborting probe
// error is returned as an error. Other probe errors are logged and polling continues.
func (d *Detector) Wait(ctx context.Context, probe ProbeFunc) (Signal, error) {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		snap, err := probe(ctx)
		switch {
		case err != nil && d.Abort != nil && d.Abort(err):
			return SignalNone, err
		case err != nil:
			d.log.Debug("submission probe failed", zap.Error(err))
		default:
			if sig := d.Submitted(snap); sig != SignalNone {
				d.log.Debug("submission detected", zap.String("signal", string(sig)), zap.String("url", snap.URL))
				return sig, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return SignalNone, nil
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return SignalNone, ctx.Err()
		case <-timer.C:
		}
	}
}
