// Package detect classifies application pages: submission confirmation, account gates,
// CAPTCHAs and unavailable pages. Classification works on a Snapshot of the page so the
// rules can be tested without a browser.
package detect

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

//go:embed probe.js
var probeScript string

// Evaluator runs a JavaScript expression in a page and decodes the result.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, out any) error
}

// Frame is the visible text of one same-origin iframe.
type Frame struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Snapshot is the page state at one instant.
type Snapshot struct {
	URL    string  `json:"url"`
	Title  string  `json:"title"`
	HTML   string  `json:"html"`
	Text   string  `json:"text"`
	Frames []Frame `json:"frames"`

	once sync.Once
	doc  *goquery.Document
}

// Probe captures a snapshot of the page, including same-origin frames.
func Probe(ctx context.Context, ev Evaluator) (*Snapshot, error) {
	var s Snapshot
	if err := ev.Evaluate(ctx, probeScript, &s); err != nil {
		return nil, fmt.Errorf("failed to snapshot page: %w", err)
	}
	return &s, nil
}

// Document returns the parsed markup. An unparsable document yields an empty one.
func (s *Snapshot) Document() *goquery.Document {
	s.once.Do(func() {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.HTML))
		if err != nil {
			doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
		}
		s.doc = doc
	})
	return s.doc
}

// Has reports whether any element matches selector.
func (s *Snapshot) Has(selector string) bool {
	return s.Document().Find(selector).Length() > 0
}

// VisibleText returns the lowercased page text. When the page did not report innerText
// the text nodes of the body are used instead.
func (s *Snapshot) VisibleText() string {
	if strings.TrimSpace(s.Text) != "" {
		return strings.ToLower(s.Text)
	}
	body := s.Document().Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return strings.ToLower(body.Text())
}

// PageTitle returns the document title, falling back to the <title> element.
func (s *Snapshot) PageTitle() string {
	if s.Title != "" {
		return s.Title
	}
	return strings.TrimSpace(s.Document().Find("title").First().Text())
}
