package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/jonathan/apply-agent/internal/flow"
)

// Credential environment variables, in lookup order.
var (
	EmailEnv    = []string{"APPLY_EMAIL", "WORKDAY_EMAIL", "WORKDAY_USER"}
	PasswordEnv = []string{"APPLY_PASSWORD", "WORKDAY_PASSWORD", "WORKDAY_PASS"}
)

// LoadEnv loads .env files into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadEnv(files ...string) {
	if len(files) == 0 {
		_ = godotenv.Load()
		return
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Credentials reads the account credentials from the environment.
// Missing credentials are a valid configuration.
func Credentials() flow.Credentials {
	return flow.Credentials{
		Email:    strings.TrimSpace(firstEnv(EmailEnv)),
		Password: firstEnv(PasswordEnv),
	}
}

func firstEnv(names []string) string {
	for _, name := range names {
		if v := os.Getenv(name); strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
