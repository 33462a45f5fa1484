// Package store is the distribution state store: the durable record of which
// recipients have been sent their report.
//
// The whole store is read on Load and rewritten by every mutating call.
// Recipient counts are small, so there is no incremental log. Writes are not
// atomic against concurrent edits of the backing file or database by another
// process; callers run one distribution operation at a time.
//
// Two backends are provided: a JSON document (the default) and SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/reportflow/internal/identity"
)

// ErrNotFound is returned when a key has no entry.
var ErrNotFound = errors.New("entry not found")

// Entry is the persisted state of one recipient.
type Entry struct {
	Key      identity.Key `json:"key"`
	Company  string       `json:"company"`
	Person   string       `json:"person"`
	Email    string       `json:"email"`
	Status   Status       `json:"status"`
	SentDate *time.Time   `json:"sent_date"`
}

// Fields are the values an Upsert may set. Empty strings and a nil Status
// leave the current value alone.
type Fields struct {
	Company string
	Person  string
	Email   string
	Status  *Status
}

// Stats counts entries by status.
type Stats struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// Backend persists the whole set of entries.
type Backend interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
	Close() error
}

// Store holds the entries in memory and writes them through to a Backend.
// It is not safe for concurrent use.
type Store struct {
	backend Backend
	now     func() time.Time
	entries map[identity.Key]Entry
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for sent dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps backend. Call Load before reading.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
		entries: make(map[identity.Key]Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend kinds accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open creates the backend of the given kind at path and loads the store.
func Open(ctx context.Context, kind, path string, opts ...Option) (*Store, error) {
	var backend Backend
	switch strings.ToLower(kind) {
	case "", BackendJSON:
		backend = NewJSONFile(path)
	case BackendSQLite:
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		backend = db
	default:
		return nil, fmt.Errorf("unknown state backend %q", kind)
	}
	s := New(backend, opts...)
	if err := s.Load(ctx); err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Load replaces the in-memory entries with the backend's contents.
func (s *Store) Load(ctx context.Context) error {
	entries, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	loaded := make(map[identity.Key]Entry, len(entries))
	for _, e := range entries {
		loaded[e.Key] = e
	}
	s.entries = loaded
	return nil
}

// Save writes every entry to the backend.
func (s *Store) Save(ctx context.Context) error {
	if err := s.backend.Save(ctx, s.Entries()); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Get returns the entry for key.
func (s *Store) Get(key identity.Key) (Entry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

// Entries returns all entries ordered by key.
func (s *Store) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Upsert creates or updates the entry for key and saves the store. A new
// entry starts pending, with company and person taken from the key unless
// fields name them.
func (s *Store) Upsert(ctx context.Context, key identity.Key, f Fields) (Entry, error) {
	e, ok := s.entries[key]
	if !ok {
		e = Entry{Key: key, Company: key.Company, Person: key.Person, Status: StatusPending}
	}
	if f.Company != "" {
		e.Company = f.Company
	}
	if f.Person != "" {
		e.Person = f.Person
	}
	if f.Email != "" {
		e.Email = f.Email
	}
	if f.Status != nil {
		e = s.withStatus(e, *f.Status)
	}
	s.entries[key] = e
	if err := s.Save(ctx); err != nil {
		return e, err
	}
	return e, nil
}

// MarkSent records a successful delivery now.
func (s *Store) MarkSent(ctx context.Context, key identity.Key) error {
	return s.mark(ctx, key, StatusSent)
}

// MarkFailed records a failed delivery.
func (s *Store) MarkFailed(ctx context.Context, key identity.Key) error {
	return s.mark(ctx, key, StatusFailed)
}

// MarkPending resets an entry so the next run delivers it again.
func (s *Store) MarkPending(ctx context.Context, key identity.Key) error {
	return s.mark(ctx, key, StatusPending)
}

func (s *Store) mark(ctx context.Context, key identity.Key, status Status) error {
	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("mark %s %s: %w", key, status, ErrNotFound)
	}
	s.entries[key] = s.withStatus(e, status)
	return s.Save(ctx)
}

// withStatus sets status and keeps SentDate consistent with it: only a sent
// entry carries a date.
func (s *Store) withStatus(e Entry, status Status) Entry {
	e.Status = status
	if status == StatusSent {
		t := s.now().UTC().Truncate(time.Second)
		e.SentDate = &t
	} else {
		e.SentDate = nil
	}
	return e
}

// Stats counts entries by status.
func (s *Store) Stats() Stats {
	st := Stats{Total: len(s.entries)}
	for _, e := range s.entries {
		switch e.Status {
		case StatusSent:
			st.Sent++
		case StatusPending:
			st.Pending++
		case StatusFailed:
			st.Failed++
		}
	}
	return st
}
