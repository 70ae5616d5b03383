// Package schemas holds the JSON Schema documents for the files the agent reads and writes.
package schemas

import "embed"

// Files contains every *.schema.json document in this directory.
//
//go:embed *.schema.json
var Files embed.FS

// Schema file names.
const (
	Ledger    = "ledger.schema.json"
	SiteHints = "site_hints.schema.json"
)
