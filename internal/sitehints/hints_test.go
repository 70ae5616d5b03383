package sitehints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Sites(t *testing.T) {
	table := Default()
	assert.Equal(t, []string{"greenhouse", "lever", "workday", "icims", "smartrecruiters", "ashby", "default"}, table.Names())
}

func TestForURL(t *testing.T) {
	table := Default()

	tests := []struct {
		url  string
		want string
	}{
		{"https://boards.greenhouse.io/acme/jobs/123", "greenhouse"},
		{"https://jobs.lever.co/acme/abc", "lever"},
		{"https://acme.wd5.myworkdayjobs.com/en-US/External/job/x", "workday"},
		{"https://careers-acme.icims.com/jobs/1/job", "icims"},
		{"https://jobs.smartrecruiters.com/Acme/1", "smartrecruiters"},
		{"https://jobs.ashbyhq.com/acme/1", "ashby"},
		{"https://stripe.com/jobs/listing/1", "default"},
		{"not a url", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, table.ForURL(tt.url).Name)
		})
	}
}

func TestWorkdayHints(t *testing.T) {
	site := Default().ForURL("https://acme.wd1.myworkdayjobs.com/x")

	assert.True(t, site.TrustedClicks)
	assert.Contains(t, site.MountSelectors, "#root")
	assert.Contains(t, site.BootstrapScript, "cx-jobs.min.js")
	assert.Contains(t, site.ConsentSelectors, "input[data-automation-id='createAccountCheckbox']")
}

func TestLoad_OverrideTakesPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hints.yaml")
	content := `sites:
  - name: greenhouse-custom
    hosts: ["boards.greenhouse.io"]
    success_selectors: [".custom-thanks"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	table, err := Load(path)
	require.NoError(t, err)

	site := table.ForURL("https://boards.greenhouse.io/acme/jobs/1")
	assert.Equal(t, "greenhouse-custom", site.Name)
	assert.Equal(t, "lever", table.ForURL("https://jobs.lever.co/x").Name)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	table, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, table.Sites)
}

func TestParse_RejectsSchemaViolation(t *testing.T) {
	_, err := Parse([]byte("sites:\n  - name: broken\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("sites: [\n"))
	assert.Error(t, err)
}

func TestForURL_EmptyTable(t *testing.T) {
	assert.Equal(t, DefaultName, (&Table{}).ForURL("https://example.com").Name)
}
