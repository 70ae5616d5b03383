package answer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jonathan/apply-agent/internal/types"
)

const (
	defaultWhy   = "your focus on building practical systems that matter to users."
	defaultRole  = "intern"
	defaultLang  = "Python"
	defaultTech  = "React"
	whyThemLimit = 180
)

var (
	techRe    = regexp.MustCompile(`(?i)react|next|asp\.net|postgres`)
	digitRe   = regexp.MustCompile(`\d`)
	bulletRe  = regexp.MustCompile(`^[-•\s]+`)
	spacingRe = regexp.MustCompile(`\s+`)
)

// Template builds the answer from the posting blurb and the profile. It never invents facts:
// the only claim it makes is the first numeric highlight of the most recent role.
func Template(company, role, blurb string, p *types.Profile) string {
	if p == nil {
		p = &types.Profile{}
	}
	if role == "" {
		role = defaultRole
	}

	why := collapse(truncate(blurb, whyThemLimit))
	if why == "" {
		why = defaultWhy
	}

	parts := []string{
		fmt.Sprintf("I'm excited about %s because %s", company, why),
		fmt.Sprintf("This %s role aligns with my experience in %s and %s, where I've built production features and improved performance.",
			role, firstLanguage(p), firstTech(p)),
	}
	if claim := firstClaim(p); claim != "" {
		parts = append(parts, "For example, "+claim)
	}
	parts = append(parts, fmt.Sprintf("In my first months, I'd aim to contribute to %s by shipping small, high-quality changes quickly and deepening my understanding of your stack.", company))
	return strings.Join(parts, " ")
}

func firstLanguage(p *types.Profile) string {
	if len(p.Skills.ProgrammingLanguages) > 0 && p.Skills.ProgrammingLanguages[0] != "" {
		return p.Skills.ProgrammingLanguages[0]
	}
	return defaultLang
}

func firstTech(p *types.Profile) string {
	for _, t := range p.Skills.Technologies {
		if techRe.MatchString(t) {
			return t
		}
	}
	return defaultTech
}

func firstClaim(p *types.Profile) string {
	if len(p.Experience) == 0 {
		return ""
	}
	for _, h := range p.Experience[0].Highlights {
		if digitRe.MatchString(h) {
			return bulletRe.ReplaceAllString(h, "")
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.TrimSpace(spacingRe.ReplaceAllString(s, " "))
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
