// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/apply-agent/internal/flow"
	"github.com/jonathan/apply-agent/internal/locator"
)

// Duration is a time.Duration written as a Go duration string ("1.2s", "3m") in JSON.
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Timeouts overrides the flow timings. Zero values keep the defaults.
type Timeouts struct {
	Navigate         Duration `json:"navigate,omitempty" validate:"gte=0"`
	Hydration        Duration `json:"hydration,omitempty" validate:"gte=0"`
	ReloadRetries    int      `json:"reload_retries,omitempty" validate:"gte=0,lte=10"`
	Modal            Duration `json:"modal,omitempty" validate:"gte=0"`
	Verification     Duration `json:"verification,omitempty" validate:"gte=0"`
	VerificationPoll Duration `json:"verification_poll,omitempty" validate:"gte=0"`
	Submission       Duration `json:"submission,omitempty" validate:"gte=0"`
	SubmissionPoll   Duration `json:"submission_poll,omitempty" validate:"gte=0"`
	Locate           Duration `json:"locate,omitempty" validate:"gte=0"`
}

// Config represents the CLI configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or must be provided via CLI flags.
type Config struct {
	// Inputs
	ListFile  string `json:"list_file,omitempty"`  // Candidate list (- url | company | title | location)
	Profile   string `json:"profile,omitempty"`    // Applicant profile JSON used for answers
	SiteHints string `json:"site_hints,omitempty"` // YAML override for the per-site hint table

	// Ledger
	LedgerBackend string `json:"ledger_backend,omitempty" validate:"omitempty,oneof=file sqlite postgres redis"`
	LedgerDSN     string `json:"ledger_dsn,omitempty"` // Path for file/sqlite, URL for postgres/redis
	DatabaseURL   string `json:"database_url,omitempty" validate:"omitempty,url"`

	// Browser
	DebugURL    string `json:"debug_url,omitempty" validate:"omitempty,url"`
	ChromePath  string `json:"chrome_path,omitempty"`
	UserDataDir string `json:"user_data_dir,omitempty"`

	// Run
	MaxPerRun            int      `json:"max_per_run,omitempty" validate:"gte=0"`
	Pacing               Duration `json:"pacing,omitempty" validate:"gte=0"`
	PacingJitter         Duration `json:"pacing_jitter,omitempty" validate:"gte=0"`
	AutoSubmit           bool     `json:"auto_submit,omitempty"`
	AdvanceAfterAutofill bool     `json:"advance_after_autofill,omitempty"`
	DiagnosticsDir       string   `json:"diagnostics_dir,omitempty"`
	Schedule             string   `json:"schedule,omitempty"`
	Timezone             string   `json:"timezone,omitempty"` // IANA zone for the schedule, local time when empty
	Verbose              bool     `json:"verbose,omitempty"`

	// Answer polish
	LLMProvider string `json:"llm_provider,omitempty" validate:"omitempty,oneof=openai gemini none"`
	LLMBaseURL  string `json:"llm_base_url,omitempty" validate:"omitempty,url"`

	// Notifications
	NATSURL     string `json:"nats_url,omitempty" validate:"omitempty,url"`
	NATSSubject string `json:"nats_subject,omitempty"`

	Timeouts Timeouts `json:"timeouts,omitempty"`
}

// Defaults returns the values used when neither the file nor a flag sets a field.
func Defaults() Config {
	return Config{
		ListFile:       "jobs.md",
		Profile:        "profile.json",
		LedgerBackend:  "file",
		DebugURL:       "http://127.0.0.1:9222",
		MaxPerRun:      flow.DefaultMaxPerRun,
		Pacing:         Duration(3 * time.Second),
		PacingJitter:   Duration(2 * time.Second),
		DiagnosticsDir: "diagnostics",
		Schedule:       "0 12 * * *",
		LLMProvider:    "openai",
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Required inputs are checked by the commands that need them.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("'%s' failed %s", jsonName(fe.Namespace()), fe.Tag()))
			}
			return fmt.Errorf("config error: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config error: %w", err)
	}

	if c.SiteHints != "" {
		if _, err := os.Stat(c.SiteHints); os.IsNotExist(err) {
			return fmt.Errorf("config error: site hints file not found: %s", c.SiteHints)
		}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("config error: unknown timezone %q", c.Timezone)
		}
	}
	if c.LedgerBackend == "postgres" && c.LedgerDSN == "" && c.DatabaseURL == "" {
		return fmt.Errorf("config error: 'ledger_dsn' is required for the %s backend", c.LedgerBackend)
	}
	return nil
}

// LedgerLocation returns the store location, falling back to database_url for postgres.
func (c *Config) LedgerLocation() string {
	if c.LedgerDSN == "" && c.LedgerBackend == "postgres" {
		return c.DatabaseURL
	}
	return c.LedgerDSN
}

// jsonName turns "Config.timeouts.reload_retries" into "timeouts.reload_retries".
func jsonName(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.ListFile == "" {
		result.ListFile = defaults.ListFile
	}
	if result.Profile == "" {
		result.Profile = defaults.Profile
	}
	if result.SiteHints == "" {
		result.SiteHints = defaults.SiteHints
	}
	if result.LedgerBackend == "" {
		result.LedgerBackend = defaults.LedgerBackend
	}
	if result.LedgerDSN == "" {
		result.LedgerDSN = defaults.LedgerDSN
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.DebugURL == "" {
		result.DebugURL = defaults.DebugURL
	}
	if result.ChromePath == "" {
		result.ChromePath = defaults.ChromePath
	}
	if result.UserDataDir == "" {
		result.UserDataDir = defaults.UserDataDir
	}
	if result.DiagnosticsDir == "" {
		result.DiagnosticsDir = defaults.DiagnosticsDir
	}
	if result.Schedule == "" {
		result.Schedule = defaults.Schedule
	}
	if result.Timezone == "" {
		result.Timezone = defaults.Timezone
	}
	if result.LLMProvider == "" {
		result.LLMProvider = defaults.LLMProvider
	}
	if result.LLMBaseURL == "" {
		result.LLMBaseURL = defaults.LLMBaseURL
	}
	if result.NATSURL == "" {
		result.NATSURL = defaults.NATSURL
	}
	if result.NATSSubject == "" {
		result.NATSSubject = defaults.NATSSubject
	}

	// Numeric fields: use default if zero
	if result.MaxPerRun == 0 {
		result.MaxPerRun = defaults.MaxPerRun
	}
	if result.Pacing == 0 {
		result.Pacing = defaults.Pacing
	}
	if result.PacingJitter == 0 {
		result.PacingJitter = defaults.PacingJitter
	}
	if result.Timeouts == (Timeouts{}) {
		result.Timeouts = defaults.Timeouts
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// FlowTimeouts applies the configured overrides to base.
func (c *Config) FlowTimeouts(base flow.Timeouts) flow.Timeouts {
	t := c.Timeouts
	set := func(dst *time.Duration, d Duration) {
		if d > 0 {
			*dst = d.Std()
		}
	}
	set(&base.Navigate, t.Navigate)
	set(&base.Hydration, t.Hydration)
	set(&base.Modal, t.Modal)
	set(&base.Verification, t.Verification)
	set(&base.VerificationPoll, t.VerificationPoll)
	set(&base.Submission, t.Submission)
	set(&base.SubmissionPoll, t.SubmissionPoll)
	if t.ReloadRetries > 0 {
		base.ReloadRetries = t.ReloadRetries
	}
	return base
}

// LocatorOptions applies the configured locate timeout to base.
func (c *Config) LocatorOptions(base locator.Options) locator.Options {
	if c.Timeouts.Locate > 0 {
		base.Timeout = c.Timeouts.Locate.Std()
	}
	return base
}
