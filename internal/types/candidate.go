// Package types provides the data shared by the list reader, the flow controller and the CLI.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Candidate is one job posting to apply to. URL is the identity.
type Candidate struct {
	URL      string `json:"url" validate:"required,url,startswith=http"`
	Company  string `json:"company,omitempty"`
	Title    string `json:"title,omitempty"`
	Location string `json:"location,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
	Score    *int   `json:"score,omitempty"`
}

// Validate validates the Candidate using the validator.
func (c *Candidate) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// CompanyName returns Company, or a name guessed from the URL host.
func (c *Candidate) CompanyName() string {
	if strings.TrimSpace(c.Company) != "" {
		return strings.TrimSpace(c.Company)
	}
	return CompanyFromURL(c.URL)
}

// RoleName returns Title, or a generic role when the list carried none.
func (c *Candidate) RoleName() string {
	if strings.TrimSpace(c.Title) != "" {
		return strings.TrimSpace(c.Title)
	}
	if strings.Contains(strings.ToLower(c.Snippet), "intern") {
		return "software engineering internship"
	}
	return "software engineering role"
}

var atsHostWords = regexp.MustCompile(`(?i)boards|careers|jobs|gh|lever|workday|myworkdayjobs|ashby|smartrecruiters`)

// CompanyFromURL guesses a company name from the first host label, stripping ATS words.
func CompanyFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "the company"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	first := strings.Split(host, ".")[0]
	name := atsHostWords.ReplaceAllString(first, "")
	if name == "" {
		return strings.ToUpper(host)
	}
	return strings.ToUpper(name)
}

// SkippedLine is a list line that looked like an entry but could not be used.
type SkippedLine struct {
	Line   int
	Text   string
	Reason string
}

// CandidateList is the parsed form of a list file.
type CandidateList struct {
	Candidates []Candidate
	Skipped    []SkippedLine
}

var scorePattern = regexp.MustCompile(`\s*#score:\s*(-?\d+)\s*$`)

// ParseList reads lines of the form
//
//	- <url> | <company> | <title> | <location> [#score:<n>]
//
// Lines not starting with "- " are ignored. Duplicate URLs keep their first occurrence.
func ParseList(r io.Reader) (*CandidateList, error) {
	out := &CandidateList{}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "- ") {
			continue
		}

		c, err := parseLine(strings.TrimSpace(line[2:]))
		if err != nil {
			out.Skipped = append(out.Skipped, SkippedLine{Line: lineNo, Text: line, Reason: err.Error()})
			continue
		}
		if seen[c.URL] {
			out.Skipped = append(out.Skipped, SkippedLine{Line: lineNo, Text: line, Reason: "duplicate url"})
			continue
		}
		seen[c.URL] = true
		out.Candidates = append(out.Candidates, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candidate list: %w", err)
	}
	return out, nil
}

// LoadList opens and parses a list file.
func LoadList(path string) (*CandidateList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candidate list %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return ParseList(f)
}

func parseLine(rest string) (Candidate, error) {
	var c Candidate
	if m := scorePattern.FindStringSubmatch(rest); m != nil {
		score, err := strconv.Atoi(m[1])
		if err == nil {
			c.Score = &score
		}
		rest = rest[:len(rest)-len(m[0])]
	}

	parts := strings.Split(rest, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	c.URL = parts[0]
	if len(parts) > 1 {
		c.Company = parts[1]
	}
	if len(parts) > 2 {
		c.Title = parts[2]
	}
	if len(parts) > 3 {
		c.Location = strings.Join(parts[3:], " | ")
	}
	c.Snippet = strings.Join(parts[1:], " ")

	if err := c.Validate(); err != nil {
		return Candidate{}, fmt.Errorf("invalid url %q", c.URL)
	}
	return c, nil
}
