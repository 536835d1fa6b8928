// Package session holds the signed-in user for the lifetime of the portal
// process and mirrors it to durable storage.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
)

// Record is the merged session: the profile plus the tokens issued for it.
type Record struct {
	Profile      models.Profile `json:"profile"`
	Token        string         `json:"token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

// Expired reports whether the bearer token is past its expiry. A zero expiry
// never expires.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Profile.LastLoginAt != nil {
		t := *r.Profile.LastLoginAt
		c.Profile.LastLoginAt = &t
	}
	return &c
}

// Listener is called synchronously with the new record (nil when cleared).
type Listener func(*Record)

// Store is the process-wide session holder. The zero value is not usable;
// create one with NewStore.
type Store struct {
	storage Storage
	logger  *slog.Logger

	mu        sync.RWMutex
	record    *Record
	hydrated  bool
	nextID    int
	listeners map[int]Listener
}

func NewStore(storage Storage, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		storage:   storage,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
}

// Identity returns a copy of the current record. It is nil until Hydrate has
// completed or a record has been set.
func (s *Store) Identity() *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hydrated {
		return nil
	}
	return s.record.clone()
}

// Hydrated reports whether durable state has been loaded.
func (s *Store) Hydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hydrated
}

// Tokens returns the bearer and refresh tokens of the current record.
func (s *Store) Tokens() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return "", ""
	}
	return s.record.Token, s.record.RefreshToken
}

// SetIdentity replaces the in-memory record without touching durable storage
// and notifies every listener.
func (s *Store) SetIdentity(r *Record) {
	s.mu.Lock()
	s.record = r.clone()
	s.hydrated = true
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	s.notify(listeners, r)
}

// Hydrate loads the durable record once. Unparseable data is logged and
// treated as no session. Calls after the first successful one do nothing.
// A storage read failure is returned and leaves the store unhydrated so a
// later call can retry.
func (s *Store) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	if s.hydrated {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	record, err := s.load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.hydrated {
		// Lost a race with SetIdentity or another Hydrate.
		s.mu.Unlock()
		return nil
	}
	s.record = record
	s.hydrated = true
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	s.notify(listeners, record)
	return nil
}

func (s *Store) load(ctx context.Context) (*Record, error) {
	raw, err := s.storage.Get(ctx, KeyUserData)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", KeyUserData, err)
	}

	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		s.logger.WarnContext(ctx, "stored session could not be parsed, starting signed out",
			"key", KeyUserData,
			"error", err.Error(),
		)
		return nil, nil
	}

	token, err := s.storage.Get(ctx, KeyAuthToken)
	switch {
	case err == nil:
		record.Token = token
	case errors.Is(err, ErrKeyNotFound):
		if record.Token == "" {
			s.logger.WarnContext(ctx, "stored session has no token, starting signed out",
				"key", KeyAuthToken,
			)
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("load %s: %w", KeyAuthToken, err)
	}
	return &record, nil
}

// Persist writes the record to both durable keys, then makes it the current
// record. On a storage failure the in-memory record is unchanged.
func (s *Store) Persist(ctx context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.storage.Set(ctx, KeyUserData, string(data)); err != nil {
		return fmt.Errorf("persist %s: %w", KeyUserData, err)
	}
	if err := s.storage.Set(ctx, KeyAuthToken, r.Token); err != nil {
		_ = s.storage.Delete(ctx, KeyUserData)
		return fmt.Errorf("persist %s: %w", KeyAuthToken, err)
	}
	s.SetIdentity(&r)
	return nil
}

// Clear drops the in-memory record and deletes both durable keys. Memory is
// cleared even when the storage delete fails; that failure is returned.
func (s *Store) Clear(ctx context.Context) error {
	s.SetIdentity(nil)
	if err := s.storage.Delete(ctx, KeyUserData, KeyAuthToken); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Subscribe registers fn for every change of the current record and returns
// a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.listeners[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// notify calls every listener in subscription order. A panicking listener is
// logged and skipped; the record is already in place.
func (s *Store) notify(listeners []Listener, r *Record) {
	for _, fn := range listeners {
		s.call(fn, r.clone())
	}
}

func (s *Store) call(fn Listener, r *Record) {
	defer func() {
		if v := recover(); v != nil {
			s.logger.Error("session listener panicked", "panic", fmt.Sprint(v))
		}
	}()
	fn(r)
}
