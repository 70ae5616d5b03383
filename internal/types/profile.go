package types

import (
	"encoding/json"
	"fmt"
	"os"
)

// Profile is the applicant data used to draft free-text answers.
type Profile struct {
	Name       string       `json:"name"`
	Skills     Skills       `json:"skills"`
	Projects   []Project    `json:"projects,omitempty"`
	Experience []Experience `json:"experience,omitempty"`
}

// Skills groups the applicant's skills.
type Skills struct {
	ProgrammingLanguages []string `json:"programming_languages,omitempty"`
	Technologies         []string `json:"technologies,omitempty"`
}

// Project is a short project description.
type Project struct {
	Name    string `json:"name,omitempty"`
	Summary string `json:"summary"`
}

// Experience is one role with bullet highlights.
type Experience struct {
	Company    string   `json:"company,omitempty"`
	Role       string   `json:"role,omitempty"`
	Highlights []string `json:"highlights,omitempty"`
}

// LoadProfile reads a profile JSON file. A missing file yields an empty profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	return &p, nil
}
