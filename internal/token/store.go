// ABOUTME: In-memory store for short-lived request tokens.
// ABOUTME: Issues random values and validates them until their TTL expires.

package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// tokenBytes is the entropy of each issued token before encoding.
const tokenBytes = 32

// Store issues and validates opaque request tokens. Expired entries are
// pruned lazily on Issue and Validate; there is no background sweeper.
// Tokens remain valid for multiple requests until they expire.
type Store struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]time.Time // token -> expiry
	now    func() time.Time
}

// New creates a token store. Tokens expire ttl after issuance.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl:    ttl,
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Issue generates a new token and records its expiry.
func (s *Store) Issue() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	tok := base64.RawURLEncoding.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.tokens[tok] = s.now().Add(s.ttl)
	return tok, nil
}

// Validate reports whether the token was issued by this store and has not
// expired. Valid tokens are not consumed.
func (s *Store) Validate(tok string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	expiry, ok := s.tokens[tok]
	return ok && s.now().Before(expiry)
}

// Revoke removes a token before its natural expiry.
func (s *Store) Revoke(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tok)
}

// Len returns the number of live tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return len(s.tokens)
}

// pruneLocked drops expired tokens. Must be called with mu held.
func (s *Store) pruneLocked() {
	now := s.now()
	for tok, expiry := range s.tokens {
		if !now.Before(expiry) {
			delete(s.tokens, tok)
		}
	}
}
