// Package locator finds and operates page elements across shadow roots and same-origin
// frames, falling back through progressively broader search strategies.
package locator

import "fmt"

// Kind restricts which elements a Target may resolve to.
type Kind string

// Element kinds understood by the in-page library.
const (
	KindButton   Kind = "button"
	KindLink     Kind = "link"
	KindInput    Kind = "input"
	KindTextarea Kind = "textarea"
	KindEditable Kind = "editable"
	KindCheckbox Kind = "checkbox"
	KindAny      Kind = "any"
)

// Clickables are the kinds used for apply, continue and submit controls.
var Clickables = []Kind{KindButton, KindLink}

// TextFields are the kinds used for free-text answers.
var TextFields = []Kind{KindTextarea, KindInput, KindEditable}

// Target describes what to look for. Patterns are case-insensitive regular expressions
// matched against visible text (controls) or label text (fields).
type Target struct {
	Name       string
	Patterns   []string
	Kinds      []Kind
	AttrTokens []string
	// Apply enables the anchor-href strategy with HrefTokens.
	Apply      bool
	HrefTokens []string
}

func (t Target) String() string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("%v", t.Patterns)
}

// Strategy names one discovery pass.
type Strategy string

// Strategies, in the order Locate tries them.
const (
	StrategyShadow     Strategy = "shadow"
	StrategyFrames     Strategy = "frames"
	StrategyStructural Strategy = "structural"
	StrategyHref       Strategy = "href"
	StrategyBrute      Strategy = "brute"
	StrategySelector   Strategy = "selector"
)

// DefaultStrategies is the fallback order.
var DefaultStrategies = []Strategy{
	StrategyShadow,
	StrategyFrames,
	StrategyStructural,
	StrategyHref,
	StrategyBrute,
}

var strategyFuncs = map[Strategy]string{
	StrategyShadow:     "aaShadow",
	StrategyFrames:     "aaFrames",
	StrategyStructural: "aaStructural",
	StrategyHref:       "aaHref",
	StrategyBrute:      "aaBrute",
	StrategySelector:   "aaSelector",
}

// Element is a located node. Token refers to the node in the page's registry,
// so later calls act on the same node without searching again.
type Element struct {
	Found    bool     `json:"found"`
	Token    string   `json:"token"`
	Strategy Strategy `json:"strategy"`
	Tag      string   `json:"tag"`
	Text     string   `json:"text"`
	Href     string   `json:"href"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Width    float64  `json:"width"`
	Height   float64  `json:"height"`
	InFrame  bool     `json:"inFrame"`
	Editable bool     `json:"editable"`
}

// query is the JSON argument handed to the in-page strategies.
type query struct {
	Patterns   []string `json:"patterns,omitempty"`
	Kinds      []Kind   `json:"kinds,omitempty"`
	Tokens     []string `json:"tokens,omitempty"`
	Apply      bool     `json:"apply,omitempty"`
	HrefTokens []string `json:"hrefTokens,omitempty"`
	Selectors  []string `json:"selectors,omitempty"`
}

func queryFor(t Target) query {
	return query{
		Patterns:   t.Patterns,
		Kinds:      t.Kinds,
		Tokens:     t.AttrTokens,
		Apply:      t.Apply,
		HrefTokens: t.HrefTokens,
	}
}
