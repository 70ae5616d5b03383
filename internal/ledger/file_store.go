package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	schemafiles "github.com/jonathan/apply-agent/schemas"

	"github.com/jonathan/apply-agent/internal/schemas"
)

// DefaultFilePath is the ledger file used when no path is configured.
const DefaultFilePath = "applied.json"

// FileStore keeps the ledger in a single JSON object keyed by URL.
// Every write re-reads the file, applies the change and atomically replaces it,
// so the manual opener and an automated run can share one file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// fileEntry is the on-disk shape. Error and Answer are written by older tooling
// and folded into Detail on load.
type fileEntry struct {
	Timestamp string `json:"ts"`
	Status    Status `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	Answer    string `json:"answer,omitempty"`
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultFilePath
	}
	return &FileStore{path: path}
}

// Path returns the ledger file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the ledger file. A missing or empty file is an empty ledger.
func (s *FileStore) Load(_ context.Context) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Put writes one entry.
func (s *FileStore) Put(_ context.Context, url string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	entries[url] = entry
	return s.write(entries)
}

// ReplaceAll overwrites the file with entries.
func (s *FileStore) ReplaceAll(_ context.Context, entries map[string]Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(entries)
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read() (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]Entry), nil
	}
	if err != nil {
		return nil, &StoreError{Backend: "file", Op: "read", Cause: err}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return make(map[string]Entry), nil
	}

	if err := schemas.ValidateBytes(schemafiles.Ledger, data); err != nil {
		return nil, &StoreError{Backend: "file", Op: "validate " + s.path, Cause: err}
	}

	var raw map[string]fileEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &StoreError{Backend: "file", Op: "parse " + s.path, Cause: err}
	}

	entries := make(map[string]Entry, len(raw))
	for url, fe := range raw {
		ts, err := time.Parse(time.RFC3339Nano, fe.Timestamp)
		if err != nil {
			return nil, &StoreError{Backend: "file", Op: "parse timestamp for " + url, Cause: err}
		}
		entries[url] = Entry{
			Timestamp: ts.UTC(),
			Status:    fe.Status,
			Detail:    foldDetail(fe),
		}
	}
	return entries, nil
}

func (s *FileStore) write(entries map[string]Entry) error {
	out := make(map[string]fileEntry, len(entries))
	for url, e := range entries {
		out[url] = fileEntry{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
			Status:    e.Status,
			Detail:    e.Detail,
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return &StoreError{Backend: "file", Op: "encode", Cause: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &StoreError{Backend: "file", Op: "mkdir", Cause: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &StoreError{Backend: "file", Op: "create temp", Cause: err}
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &StoreError{Backend: "file", Op: "write", Cause: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &StoreError{Backend: "file", Op: "sync", Cause: err}
	}
	if err := tmp.Close(); err != nil {
		return &StoreError{Backend: "file", Op: "close", Cause: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return &StoreError{Backend: "file", Op: "rename", Cause: err}
	}
	return nil
}

func foldDetail(fe fileEntry) string {
	parts := make([]string, 0, 3)
	if fe.Detail != "" {
		parts = append(parts, fe.Detail)
	}
	if fe.Error != "" {
		parts = append(parts, fe.Error)
	}
	if fe.Answer != "" {
		parts = append(parts, fmt.Sprintf("answer=%s", fe.Answer))
	}
	return strings.Join(parts, "; ")
}
