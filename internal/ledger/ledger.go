package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry is the outcome recorded for one URL. Later writes overwrite earlier ones.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
}

// Store persists ledger entries. Put and ReplaceAll must be durable when they return.
type Store interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Put(ctx context.Context, url string, entry Entry) error
	ReplaceAll(ctx context.Context, entries map[string]Entry) error
	Close() error
}

// StoreError wraps a failure in a ledger backend.
type StoreError struct {
	Backend string
	Op      string
	Cause   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger %s %s: %v", e.Backend, e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Ledger is an in-memory view of a Store with write-through semantics.
type Ledger struct {
	mu      sync.RWMutex
	store   Store
	entries map[string]Entry
	now     func() time.Time
}

// New creates a Ledger over store. Call LoadAll before reading.
func New(store Store) *Ledger {
	return &Ledger{
		store:   store,
		entries: make(map[string]Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the timestamp source (used in tests).
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// LoadAll reads every entry from the store and returns a copy.
func (l *Ledger) LoadAll(ctx context.Context) (map[string]Entry, error) {
	entries, err := l.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.entries = make(map[string]Entry, len(entries))
	for url, e := range entries {
		l.entries[normalizeKey(url)] = e
	}
	l.mu.Unlock()

	return l.Entries(), nil
}

// Has reports whether url has any recorded outcome.
func (l *Ledger) Has(url string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[normalizeKey(url)]
	return ok
}

// Get returns the entry for url.
func (l *Ledger) Get(url string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[normalizeKey(url)]
	return e, ok
}

// Set records status for url stamped with the current time and flushes it to the store
// before returning.
func (l *Ledger) Set(ctx context.Context, url string, status Status, detail string) (Entry, error) {
	return l.SetAt(ctx, url, status, detail, l.now())
}

// SetAt is Set with an explicit timestamp.
func (l *Ledger) SetAt(ctx context.Context, url string, status Status, detail string, ts time.Time) (Entry, error) {
	key := normalizeKey(url)
	if key == "" {
		return Entry{}, fmt.Errorf("ledger: empty url")
	}
	if !status.Valid() {
		return Entry{}, fmt.Errorf("ledger: unknown status %q for %s", status, key)
	}

	entry := Entry{Timestamp: ts.UTC(), Status: status, Detail: detail}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Put(ctx, key, entry); err != nil {
		return Entry{}, err
	}
	l.entries[key] = entry
	return entry, nil
}

// PersistAll replaces the stored ledger with entries.
func (l *Ledger) PersistAll(ctx context.Context, entries map[string]Entry) error {
	next := make(map[string]Entry, len(entries))
	for url, e := range entries {
		key := normalizeKey(url)
		if key == "" {
			continue
		}
		if !e.Status.Valid() {
			return fmt.Errorf("ledger: unknown status %q for %s", e.Status, key)
		}
		next[key] = e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.ReplaceAll(ctx, next); err != nil {
		return err
	}
	l.entries = next
	return nil
}

// Entries returns a copy of the in-memory entries.
func (l *Ledger) Entries() map[string]Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Entry, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}

// Stats counts entries per status.
func (l *Ledger) Stats() map[Status]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[Status]int)
	for _, e := range l.entries {
		counts[e.Status]++
	}
	return counts
}

// Close releases the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

func normalizeKey(url string) string {
	return strings.TrimSpace(url)
}
