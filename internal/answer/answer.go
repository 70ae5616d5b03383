// Package answer drafts the free-text "why this company" answer typed into application forms.
package answer

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/apply-agent/internal/llm"
	"github.com/jonathan/apply-agent/internal/prompts"
	"github.com/jonathan/apply-agent/internal/types"
)

// Source records where an answer's text came from.
type Source string

const (
	SourceTemplate Source = "template"
	SourceOpenAI   Source = "openai"
	SourceGemini   Source = "gemini"
)

// Polish call settings.
const (
	PolishTemperature float32 = 0.3
	PolishMaxTokens           = 220
)

// Request carries what the drafter knows about the posting.
type Request struct {
	Company string
	Role    string
	URL     string
	HTML    string
	Profile *types.Profile
}

// Answer is a drafted answer.
type Answer struct {
	Text   string
	Source Source
}

// Drafter builds a template answer and optionally has an LLM polish it.
type Drafter struct {
	client llm.Client
	source Source
	log    *zap.Logger
}

// NewDrafter returns a template-only drafter.
func NewDrafter(log *zap.Logger) *Drafter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Drafter{source: SourceTemplate, log: log}
}

// WithLLM enables polishing through client.
func (d *Drafter) WithLLM(client llm.Client, provider llm.Provider) *Drafter {
	d.client = client
	switch provider {
	case llm.ProviderGemini:
		d.source = SourceGemini
	default:
		d.source = SourceOpenAI
	}
	return d
}

// Draft returns the polished answer, or the template answer when no LLM is
// configured or the polish call fails.
func (d *Drafter) Draft(ctx context.Context, req Request) (Answer, error) {
	blurb := JobText(req.URL, req.HTML, MaxJobText)
	base := Template(req.Company, req.Role, blurb, req.Profile)
	if d.client == nil {
		return Answer{Text: base, Source: SourceTemplate}, nil
	}

	text, err := d.polish(ctx, req, blurb, base)
	if err != nil {
		d.log.Warn("answer polish failed, using template", zap.String("company", req.Company), zap.Error(err))
		return Answer{Text: base, Source: SourceTemplate}, ctx.Err()
	}
	if text == "" {
		return Answer{Text: base, Source: SourceTemplate}, nil
	}
	d.log.Debug("answer polished", zap.Int("words", llm.WordCount(text)))
	return Answer{Text: text, Source: d.source}, nil
}

func (d *Drafter) polish(ctx context.Context, req Request, blurb, draft string) (string, error) {
	prompt, err := prompts.Lookup("answer.polish")
	if err != nil {
		return "", err
	}
	user, err := prompt.Render(map[string]string{
		"Company": req.Company,
		"Role":    req.Role,
		"Blurb":   blurb,
		"Draft":   draft,
	})
	if err != nil {
		return "", err
	}
	text, err := d.client.Complete(ctx, llm.Request{
		System:      prompt.System,
		Prompt:      user,
		Tier:        llm.TierLite,
		Temperature: PolishTemperature,
		MaxTokens:   PolishMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(llm.CleanAnswer(text)), nil
}
