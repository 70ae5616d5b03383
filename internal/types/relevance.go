package types

import (
	"regexp"
	"strings"
)

var (
	blockedHosts = regexp.MustCompile(`(?i)(discord\.gg|chromewebstore\.google\.com|youtube\.com|youtu\.be|twitter\.com|x\.com|medium\.com|github\.com|docs\.google\.com)`)
	atsHosts     = regexp.MustCompile(`(?i)(greenhouse\.io|boards\.greenhouse|lever\.co|myworkdayjobs\.com|workdayjobs\.com|ashbyhq\.com|smartrecruiters\.com|icims\.com)`)
	careerSites  = regexp.MustCompile(`(?i)(careers?\.(google|stripe|roblox)\.com|google\.com/about/careers|stripe\.com/jobs|roblox\.com/(jobs|careers))`)
)

var baseKeywords = []string{
	"software", "intern", "internship", "new grad", "backend", "frontend", "full stack",
	"ml", "data", "distributed", "systems", "react", "postgres", "dotnet", ".net", "python", "java",
}

// KeywordSet builds the lower-cased keyword set used by IsRelevant.
func KeywordSet(p *Profile) map[string]bool {
	set := make(map[string]bool)
	if p != nil {
		for _, s := range p.Skills.ProgrammingLanguages {
			set[strings.ToLower(s)] = true
		}
		for _, s := range p.Skills.Technologies {
			set[strings.ToLower(s)] = true
		}
	}
	for _, k := range baseKeywords {
		set[k] = true
	}
	return set
}

// IsRelevant reports whether c points at an ATS or known careers site and mentions a keyword.
func IsRelevant(c Candidate, keywords map[string]bool) bool {
	hay := strings.ToLower(c.URL + " " + c.Snippet)
	if blockedHosts.MatchString(hay) {
		return false
	}
	if !atsHosts.MatchString(hay) && !careerSites.MatchString(hay) {
		return false
	}
	for k := range keywords {
		if k != "" && strings.Contains(hay, k) {
			return true
		}
	}
	return false
}
