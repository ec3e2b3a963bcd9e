package querykit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// TokenPair is the credential pair issued on login and rotated on refresh.
// It is the one piece of truly shared mutable state: only the
// refresh-success path (and explicit login/logout callers) writes it, and
// readers always load the latest value per call.
type TokenPair struct {
	AccessToken  string `json:"accessToken" db:"access_token"`
	RefreshToken string `json:"refreshToken" db:"refresh_token"`
}

// Empty reports whether either half of the pair is missing.
func (p TokenPair) Empty() bool {
	return p.AccessToken == "" || p.RefreshToken == ""
}

// Digest returns a deterministic key for the pair, used to coalesce
// concurrent refresh attempts: all callers that observe a 401 while this
// pair is current share one refresh operation keyed by this digest.
func (p TokenPair) Digest() string {
	hasher := sha256.New()
	hasher.Write([]byte(p.AccessToken))
	hasher.Write([]byte(p.RefreshToken))
	return hex.EncodeToString(hasher.Sum(nil))
}

// TokenStore persists the credential pair. Implementations must replace the
// pair atomically on Save: no reader may observe a half-updated pair.
type TokenStore interface {
	// Load returns the current pair. A store with no pair returns a zero
	// TokenPair and a nil error.
	Load(ctx context.Context) (TokenPair, error)
	Save(ctx context.Context, pair TokenPair) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore is the default in-process TokenStore.
type MemoryTokenStore struct {
	mu   sync.RWMutex
	pair TokenPair
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Load(ctx context.Context) (TokenPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, nil
}

func (s *MemoryTokenStore) Save(ctx context.Context, pair TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = pair
	return nil
}

func (s *MemoryTokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = TokenPair{}
	return nil
}
