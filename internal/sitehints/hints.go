// Package sitehints holds the per-ATS strings the flow needs: mount points, bootstrap
// scripts, apply and success selectors, consent and account controls.
package sitehints

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	schemafiles "github.com/jonathan/apply-agent/schemas"

	"github.com/jonathan/apply-agent/internal/schemas"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// DefaultName is the catch-all site entry.
const DefaultName = "default"

// Site carries the hints for one applicant-tracking system.
type Site struct {
	Name                   string   `yaml:"name"`
	Hosts                  []string `yaml:"hosts"`
	MountSelectors         []string `yaml:"mount_selectors,omitempty"`
	BootstrapScript        string   `yaml:"bootstrap_script,omitempty"`
	ApplySelectors         []string `yaml:"apply_selectors,omitempty"`
	SuccessSelectors       []string `yaml:"success_selectors,omitempty"`
	ConsentSelectors       []string `yaml:"consent_selectors,omitempty"`
	ConsentLabels          []string `yaml:"consent_labels,omitempty"`
	CreateAccountSelectors []string `yaml:"create_account_selectors,omitempty"`
	SignInSelectors        []string `yaml:"sign_in_selectors,omitempty"`
	TrustedClicks          bool     `yaml:"trusted_clicks,omitempty"`
}

// Table is an ordered list of sites.
type Table struct {
	Sites []Site `yaml:"sites"`
}

// Default returns the embedded table.
func Default() *Table {
	t, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded site hints are invalid: %v", err))
	}
	return t
}

// Load reads an override file. Sites in the file come before the embedded ones,
// so a site with the same host takes precedence.
func Load(path string) (*Table, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site hints %s: %w", path, err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("site hints %s: %w", path, err)
	}
	return &Table{Sites: append(override.Sites, base.Sites...)}, nil
}

// Parse decodes and schema-checks a YAML table.
func Parse(data []byte) (*Table, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse site hints YAML: %w", err)
	}
	if err := schemas.ValidateValue(schemafiles.SiteHints, generic); err != nil {
		return nil, err
	}

	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode site hints: %w", err)
	}
	return &t, nil
}

// ForURL returns the first site whose host pattern matches rawURL, falling back to the
// default entry (or an empty Site named "default").
func (t *Table) ForURL(rawURL string) Site {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}

	var fallback *Site
	for i := range t.Sites {
		s := &t.Sites[i]
		for _, h := range s.Hosts {
			if h == "*" {
				if fallback == nil {
					fallback = s
				}
				continue
			}
			if host != "" && strings.Contains(host, strings.ToLower(h)) {
				return *s
			}
		}
	}
	if fallback != nil {
		return *fallback
	}
	return Site{Name: DefaultName}
}

// Names lists the configured site names in order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.Sites))
	for _, s := range t.Sites {
		names = append(names, s.Name)
	}
	return names
}

// ATSHrefTokens are the href fragments the anchor strategy treats as apply links.
var ATSHrefTokens = []string{
	"apply", "icims", "myworkday", "greenhouse", "lever", "smartrecruiters",
	"apply-online", "candidate-experience", "applyfor",
}
