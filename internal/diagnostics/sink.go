// Package diagnostics saves a screenshot and the markup of a page at points where the
// application flow gives up, so a person can see what the agent saw.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultDir is where captures go unless configured otherwise.
const DefaultDir = "diagnostics"

// Page is what a capture needs from a browser tab.
type Page interface {
	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
}

// Capture describes the files written for one tag.
type Capture struct {
	Tag        string    `json:"tag"`
	RunID      string    `json:"run_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	Screenshot string    `json:"screenshot,omitempty"`
	Markup     string    `json:"markup,omitempty"`
	Errors     []string  `json:"errors,omitempty"`

	manifest string
}

// Manifest returns the path of the JSON manifest.
func (c *Capture) Manifest() string {
	return c.manifest
}

// Sink writes captures into a directory.
type Sink struct {
	dir   string
	runID string
	now   func() time.Time
	log   *zap.Logger
}

// New creates a sink writing into dir.
func New(dir string, log *zap.Logger) *Sink {
	if dir == "" {
		dir = DefaultDir
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{dir: dir, now: time.Now, log: log}
}

// WithRunID tags every manifest with the run that produced it.
func (s *Sink) WithRunID(id string) *Sink {
	c := *s
	c.runID = id
	return &c
}

// WithClock overrides the clock used for file names.
func (s *Sink) WithClock(now func() time.Time) *Sink {
	c := *s
	c.now = now
	return &c
}

// Dir returns the output directory.
func (s *Sink) Dir() string {
	return s.dir
}

var unsafeTag = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Stamp formats t the way capture file names start: an ISO-8601 UTC time with ':' and
// '.' replaced by '-'.
func Stamp(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(iso)
}

// Capture reads the page and writes <stamp>-<tag>.png, .html and .json. Parts that cannot
// be read are listed in Capture.Errors; an error is returned only when nothing could be
// written.
func (s *Sink) Capture(ctx context.Context, page Page, tag string) (*Capture, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create diagnostics directory: %w", err)
	}

	at := s.now()
	tag = strings.Trim(unsafeTag.ReplaceAllString(tag, "-"), "-")
	if tag == "" {
		tag = "capture"
	}
	base := filepath.Join(s.dir, Stamp(at)+"-"+tag)
	c := &Capture{Tag: tag, RunID: s.runID, CapturedAt: at.UTC(), manifest: base + ".json"}

	// The browser is driven from one goroutine; only the file writes run in parallel.
	if u, err := page.URL(ctx); err == nil {
		c.URL = u
	} else {
		c.Errors = append(c.Errors, "url: "+err.Error())
	}
	png, err := page.Screenshot(ctx)
	if err != nil {
		c.Errors = append(c.Errors, "screenshot: "+err.Error())
	}
	html, err := page.HTML(ctx)
	if err != nil {
		c.Errors = append(c.Errors, "html: "+err.Error())
	} else {
		c.Title = title(html)
	}

	g := new(errgroup.Group)
	if len(png) > 0 {
		c.Screenshot = base + ".png"
		g.Go(func() error { return os.WriteFile(c.Screenshot, png, 0o644) })
	}
	if html != "" {
		c.Markup = base + ".html"
		g.Go(func() error { return os.WriteFile(c.Markup, []byte(html), 0o644) })
	}
	if err := g.Wait(); err != nil {
		c.Errors = append(c.Errors, "write: "+err.Error())
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return c, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(c.manifest, data, 0o644); err != nil {
		return c, fmt.Errorf("failed to write manifest: %w", err)
	}
	return c, nil
}

// Record captures the page and logs the result. Diagnostics never fail a flow.
func (s *Sink) Record(ctx context.Context, page Page, tag string) *Capture {
	if s == nil {
		return nil
	}
	c, err := s.Capture(ctx, page, tag)
	if err != nil {
		s.log.Warn("failed to save diagnostics", zap.String("tag", tag), zap.Error(err))
		return c
	}
	s.log.Info("saved diagnostics",
		zap.String("tag", c.Tag),
		zap.String("screenshot", c.Screenshot),
		zap.String("markup", c.Markup),
		zap.Strings("errors", c.Errors),
	)
	return c
}

func title(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
