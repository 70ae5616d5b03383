package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_Polish(t *testing.T) {
	p, err := Lookup("answer.polish")
	require.NoError(t, err)
	assert.Contains(t, p.System, "Do NOT invent new claims")
	assert.Equal(t, []string{"Company", "Role", "Blurb", "Draft"}, p.Fields())
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("answer.cover-letter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestIDs(t *testing.T) {
	assert.Contains(t, IDs(), "answer.polish")
}

func TestRender(t *testing.T) {
	p := Pair{User: "Company: {{.Company}}\nDraft: {{.Draft}} ({{.Company}})"}

	out, err := p.Render(map[string]string{"Company": "Acme", "Draft": ""})
	require.NoError(t, err)
	assert.Equal(t, "Company: Acme\nDraft:  (Acme)", out)
}

func TestRender_MissingValue(t *testing.T) {
	p := Pair{User: "Company: {{.Company}} Role: {{.Role}}"}

	_, err := p.Render(map[string]string{"Company": "Acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Role")
}

func TestRender_EmbeddedPolish(t *testing.T) {
	p, err := Lookup("answer.polish")
	require.NoError(t, err)

	out, err := p.Render(map[string]string{
		"Company": "Acme",
		"Role":    "Backend Intern",
		"Blurb":   "Acme builds payment rails.",
		"Draft":   "I want to join Acme.",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Company: Acme\nRole: Backend Intern")
	assert.NotContains(t, out, "{{")
}
