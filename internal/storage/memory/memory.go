// Package memory provides an in-memory profile store for tests and for
// running the dashboard without a backend.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/wallet_dashboard/internal/storage"
)

// Store is an in-memory storage.ProfileStore.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]storage.Profile
	reads    int
	writes   int

	// ErrorOnNextCall fails the next call with the given error and clears itself.
	ErrorOnNextCall error
	// ErrorOnEveryCall fails every call until reset.
	ErrorOnEveryCall error
}

var _ storage.ProfileStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{profiles: make(map[string]storage.Profile)}
}

// checkError returns any injected error, clearing the one-shot one.
func (s *Store) checkError() error {
	if s.ErrorOnNextCall != nil {
		err := s.ErrorOnNextCall
		s.ErrorOnNextCall = nil
		return err
	}
	return s.ErrorOnEveryCall
}

func (s *Store) GetProfile(_ context.Context, uid string) (storage.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if err := s.checkError(); err != nil {
		return storage.Profile{}, err
	}

	p, ok := s.profiles[uid]
	if !ok {
		return storage.Profile{}, storage.NotFound(uid)
	}
	return p.Clone(), nil
}

func (s *Store) SetProfile(_ context.Context, profile storage.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if err := s.checkError(); err != nil {
		return err
	}

	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}
	s.profiles[profile.UID] = profile.Clone()
	return nil
}

func (s *Store) UpdateProfileField(_ context.Context, uid, field string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if err := s.checkError(); err != nil {
		return err
	}
	if err := storage.ValidateField(field, value); err != nil {
		return err
	}

	p, ok := s.profiles[uid]
	if !ok {
		return storage.NotFound(uid)
	}
	switch field {
	case storage.FieldDisplayName:
		p.DisplayName = value.(string)
	case storage.FieldPhotoURL:
		p.PhotoURL = value.(string)
	case storage.FieldWalletAddresses:
		p.WalletAddresses = append([]string(nil), value.([]string)...)
	}
	s.profiles[uid] = p
	return nil
}

// Put seeds a document without counting it as a write.
func (s *Store) Put(profile storage.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.UID] = profile.Clone()
}

// Profile returns the stored document, if any, without counting a read.
func (s *Store) Profile(uid string) (storage.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[uid]
	return p.Clone(), ok
}

// Reads returns the number of GetProfile calls.
func (s *Store) Reads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads
}

// Writes returns the number of SetProfile and UpdateProfileField calls.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Reset clears all data and injected errors.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = make(map[string]storage.Profile)
	s.reads = 0
	s.writes = 0
	s.ErrorOnNextCall = nil
	s.ErrorOnEveryCall = nil
}
