// Package auth holds the bearer credential used by the realtime and REST layers.
//
// The credential is issued by the external identity service; this package only
// stores it. An empty token is a normal state meaning no user is signed in.
package auth

import "sync"

// TokenSource supplies the current bearer credential.
// Token returns "" when no user is signed in.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed-credential TokenSource.
type StaticToken string

// Token returns the fixed credential.
func (s StaticToken) Token() string {
	return string(s)
}

// Store is a mutable, thread-safe TokenSource. The application shell
// installs the credential after sign-in and clears it on sign-out;
// components holding the Store see the change on their next read.
type Store struct {
	mu    sync.RWMutex
	token string
}

// NewStore creates a credential store seeded with the given token.
// An empty initial token is fine; SetToken installs one later.
func NewStore(initial string) *Store {
	return &Store{token: initial}
}

// Token returns the current credential, or "" when signed out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken installs a new credential.
func (s *Store) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear removes the credential.
func (s *Store) Clear() {
	s.SetToken("")
}
