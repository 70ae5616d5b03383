package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jonathan/apply-agent/internal/browser"
	"github.com/jonathan/apply-agent/internal/locator"
)

var callPattern = regexp.MustCompile(`(?s)\nreturn (aa\w+)\((.*)\);\n\}\)\(\)$`)

var elementSeq atomic.Int64

// fakeElement is a control or field the fake page library can find by label.
type fakeElement struct {
	label    string
	kind     locator.Kind
	selector string
	onClick  func(t *fakeTab)

	token string
	x, y  float64

	mu      sync.Mutex
	clicks  int
	value   string
	checked bool
}

func newElement(label string, kind locator.Kind) *fakeElement {
	n := elementSeq.Add(1)
	return &fakeElement{label: label, kind: kind, token: fmt.Sprintf("aa%d", n), x: float64(100 + n), y: float64(200 + n)}
}

func button(label string, onClick func(t *fakeTab)) *fakeElement {
	el := newElement(label, locator.KindButton)
	el.onClick = onClick
	return el
}

func field(label string, kind locator.Kind) *fakeElement {
	return newElement(label, kind)
}

func (e *fakeElement) withSelector(sel string) *fakeElement {
	e.selector = sel
	return e
}

func (e *fakeElement) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

func (e *fakeElement) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

func (e *fakeElement) Checked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checked
}

func (e *fakeElement) tag() string {
	switch e.kind {
	case locator.KindTextarea:
		return "textarea"
	case locator.KindInput, locator.KindCheckbox:
		return "input"
	case locator.KindLink:
		return "a"
	}
	return "button"
}

func (e *fakeElement) kindMatches(kinds []locator.Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == e.kind || k == locator.KindAny {
			return true
		}
	}
	return false
}

// fakePage is one document: what the probe sees plus the elements the library finds.
type fakePage struct {
	url      string
	title    string
	text     string
	html     string
	elements []*fakeElement

	// mount is reported for the mount-point script; nil means no mount point.
	mount       *mountState
	onBootstrap func(p *fakePage) bool
	onReload    func(t *fakeTab)
}

func page(url, text, html string, els ...*fakeElement) *fakePage {
	return &fakePage{url: url, text: text, html: html, elements: els}
}

func (p *fakePage) byPattern(patterns []string, kinds []locator.Kind) *fakeElement {
	for _, el := range p.elements {
		if el.label == "" || !el.kindMatches(kinds) {
			continue
		}
		for _, pat := range patterns {
			re, err := regexp.Compile("(?i)" + pat)
			if err == nil && re.MatchString(el.label) {
				return el
			}
		}
	}
	return nil
}

func (p *fakePage) bySelector(selectors []string) *fakeElement {
	for _, el := range p.elements {
		for _, s := range selectors {
			if el.selector != "" && el.selector == s {
				return el
			}
		}
	}
	return nil
}

func (p *fakePage) byToken(token string) *fakeElement {
	for _, el := range p.elements {
		if el.token == token {
			return el
		}
	}
	return nil
}

func (p *fakePage) at(x, y float64) *fakeElement {
	for _, el := range p.elements {
		if el.x == x && el.y == y {
			return el
		}
	}
	return nil
}

// fakeTab implements Tab over a sequence of fakePages.
type fakeTab struct {
	b  *fakeBrowser
	id string

	mu          sync.Mutex
	page        *fakePage
	closed      bool
	released    bool
	reloads     int
	mouseClicks int
	navigated   []string
	evalErr     error
}

func (t *fakeTab) ID() string {
	return t.id
}

func (t *fakeTab) current() *fakePage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.page
}

// show replaces the document, as a navigation would.
func (t *fakeTab) show(p *fakePage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.page = p
}

func (t *fakeTab) Evaluate(ctx context.Context, expr string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	err := t.evalErr
	p := t.page
	t.mu.Unlock()
	if err != nil {
		return err
	}

	var resp any
	switch {
	case strings.Contains(expr, "out.frames.push"):
		resp = map[string]any{"url": p.url, "title": p.title, "html": p.html, "text": p.text, "frames": []any{}}
	case strings.HasPrefix(expr, "("+mountScript+")"):
		if p.mount == nil {
			resp = mountState{}
		} else {
			resp = *p.mount
		}
	case callPattern.MatchString(expr):
		m := callPattern.FindStringSubmatch(expr)
		resp = t.library(p, m[1], m[2])
	case strings.Contains(expr, "window.workday"):
		resp = p.onBootstrap != nil && p.onBootstrap(p)
	default:
		return errors.New("unexpected expression")
	}

	if out == nil {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

type libraryArg struct {
	Patterns  []string       `json:"patterns"`
	Kinds     []locator.Kind `json:"kinds"`
	Selectors []string       `json:"selectors"`
	Token     string         `json:"token"`
	Text      string         `json:"text"`
}

func found(el *fakeElement, s locator.Strategy) map[string]any {
	return map[string]any{
		"found": true, "token": el.token, "strategy": s, "tag": el.tag(), "text": el.label,
		"x": el.x, "y": el.y, "width": 10, "height": 10,
	}
}

// library answers the in-page locator functions. Only the shadow-aware pass and the
// selector pass find anything.
func (t *fakeTab) library(p *fakePage, fn, raw string) any {
	var arg libraryArg
	_ = json.Unmarshal([]byte(raw), &arg)
	notFound := map[string]any{"found": false}
	fail := map[string]any{"ok": false, "reason": "stale token"}

	switch fn {
	case "aaShadow":
		if el := p.byPattern(arg.Patterns, arg.Kinds); el != nil {
			return found(el, locator.StrategyShadow)
		}
		return notFound
	case "aaSelector":
		if el := p.bySelector(arg.Selectors); el != nil {
			return found(el, locator.StrategySelector)
		}
		return notFound
	case "aaClickNative", "aaClickSynthetic":
		el := p.byToken(arg.Token)
		if el == nil {
			return fail
		}
		t.click(el)
		return map[string]any{"ok": true}
	case "aaCenter":
		el := p.byToken(arg.Token)
		if el == nil {
			return fail
		}
		return map[string]any{"ok": true, "x": el.x, "y": el.y}
	case "aaFill":
		el := p.byToken(arg.Token)
		if el == nil {
			return fail
		}
		el.mu.Lock()
		el.value = arg.Text
		el.mu.Unlock()
		return map[string]any{"ok": true, "method": "setter"}
	case "aaCheck":
		el := p.byToken(arg.Token)
		if el == nil {
			return fail
		}
		el.mu.Lock()
		el.checked = true
		el.mu.Unlock()
		return map[string]any{"ok": true}
	}
	return notFound
}

func (t *fakeTab) click(el *fakeElement) {
	el.mu.Lock()
	el.clicks++
	el.mu.Unlock()
	if el.onClick != nil {
		el.onClick(t)
	}
}

func (t *fakeTab) MouseClick(ctx context.Context, x, y float64) error {
	t.mu.Lock()
	t.mouseClicks++
	p := t.page
	t.mu.Unlock()
	if el := p.at(x, y); el != nil {
		t.click(el)
	}
	return nil
}

func (t *fakeTab) MouseClicks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mouseClicks
}

func (t *fakeTab) Navigate(ctx context.Context, url string) error {
	t.mu.Lock()
	t.navigated = append(t.navigated, url)
	t.mu.Unlock()

	route, err := t.b.route(url)
	if err != nil {
		return err
	}
	if route == nil {
		t.show(page(url, "", "<html><body></body></html>"))
		return nil
	}
	t.show(route())
	return nil
}

func (t *fakeTab) Reload(ctx context.Context) error {
	t.mu.Lock()
	t.reloads++
	p := t.page
	t.mu.Unlock()
	if p != nil && p.onReload != nil {
		p.onReload(t)
	}
	return nil
}

func (t *fakeTab) Reloads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reloads
}

func (t *fakeTab) URL(ctx context.Context) (string, error) {
	return t.current().url, nil
}

func (t *fakeTab) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (t *fakeTab) HTML(ctx context.Context) (string, error) {
	return t.current().html, nil
}

func (t *fakeTab) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTab) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released = true
}

func (t *fakeTab) State() (closed, released bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.released
}

// fakeBrowser serves pages by URL and tracks the tabs it opened.
type fakeBrowser struct {
	mu      sync.Mutex
	routes  map[string]func() *fakePage
	navErrs map[string][]error
	tabs    []*fakeTab
	nextID  int

	dead         bool
	reconnects   int
	reconnectErr error
	closed       bool
	// onReconnect runs after a successful reconnect.
	onReconnect func(b *fakeBrowser)
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{routes: map[string]func() *fakePage{}, navErrs: map[string][]error{}}
}

func (b *fakeBrowser) serve(url string, fn func() *fakePage) *fakeBrowser {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[url] = fn
	return b
}

// failNavigation queues errors returned by the next navigations to url.
func (b *fakeBrowser) failNavigation(url string, errs ...error) *fakeBrowser {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navErrs[url] = append(b.navErrs[url], errs...)
	return b
}

func (b *fakeBrowser) route(url string) (func() *fakePage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q := b.navErrs[url]; len(q) > 0 {
		b.navErrs[url] = q[1:]
		return nil, q[0]
	}
	return b.routes[url], nil
}

// open adds a tab showing p, as window.open would.
func (b *fakeBrowser) open(p *fakePage) *fakeTab {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	t := &fakeTab{b: b, id: fmt.Sprintf("tab-%d", b.nextID), page: p}
	b.tabs = append(b.tabs, t)
	return t
}

func (b *fakeBrowser) Tabs() []*fakeTab {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeTab(nil), b.tabs...)
}

func (b *fakeBrowser) NewTab(ctx context.Context) (Tab, error) {
	return b.open(page("about:blank", "", "")), nil
}

func (b *fakeBrowser) Targets(ctx context.Context) ([]browser.TargetInfo, error) {
	var out []browser.TargetInfo
	for _, t := range b.Tabs() {
		if closed, _ := t.State(); closed {
			continue
		}
		out = append(out, browser.TargetInfo{ID: t.id, Type: "page", URL: t.current().url})
	}
	return out, nil
}

func (b *fakeBrowser) Adopt(ctx context.Context, id string) (Tab, error) {
	for _, t := range b.Tabs() {
		if t.id == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no target with given id %s", id)
}

func (b *fakeBrowser) Alive(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.dead
}

func (b *fakeBrowser) Reconnect(ctx context.Context) error {
	b.mu.Lock()
	b.reconnects++
	err := b.reconnectErr
	if err == nil {
		b.dead = false
	}
	hook := b.onReconnect
	b.mu.Unlock()
	if err == nil && hook != nil {
		hook(b)
	}
	return err
}

func (b *fakeBrowser) Reconnects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reconnects
}

func (b *fakeBrowser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
