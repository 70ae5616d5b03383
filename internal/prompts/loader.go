// Package prompts embeds the LLM prompts used to polish drafted answers.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

//go:embed *.json
var files embed.FS

// Pair is a system prompt and the user template sent with it.
type Pair struct {
	System string `json:"system"`
	User   string `json:"user"`
}

var placeholder = regexp.MustCompile(`\{\{\.(\w+)\}\}`)

// catalog maps "<file>.<name>" (e.g. "answer.polish") to its pair.
var catalog = sync.OnceValues(func() (map[string]Pair, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, err
	}
	out := make(map[string]Pair)
	for _, e := range entries {
		data, err := files.ReadFile(e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file %s: %w", e.Name(), err)
		}
		var pairs map[string]Pair
		if err := json.Unmarshal(data, &pairs); err != nil {
			return nil, fmt.Errorf("failed to parse prompt file %s: %w", e.Name(), err)
		}
		base := strings.TrimSuffix(e.Name(), ".json")
		for name, p := range pairs {
			out[base+"."+name] = p
		}
	}
	return out, nil
})

// Lookup returns the pair registered under id.
func Lookup(id string) (Pair, error) {
	all, err := catalog()
	if err != nil {
		return Pair{}, err
	}
	p, ok := all[id]
	if !ok {
		return Pair{}, fmt.Errorf("prompt %q not found", id)
	}
	return p, nil
}

// IDs lists every embedded prompt, sorted.
func IDs() []string {
	all, _ := catalog()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Fields lists the placeholders of the user template in order of first use.
func (p Pair) Fields() []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range placeholder.FindAllStringSubmatch(p.User, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Render fills the user template. Every placeholder needs a value; an empty value is allowed.
func (p Pair) Render(values map[string]string) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(p.User, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		v, ok := values[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("prompt is missing values for %s", strings.Join(missing, ", "))
	}
	return out, nil
}
