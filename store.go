package querykit

import (
	"context"
	"sync"
	"time"

	"querykit/common"
)

// CacheStore is the pluggable payload store behind the query cache engine.
// The engine keeps entry state (status, staleness, in-flight coordination)
// in-process; the store holds only serialized payloads, so a shared backend
// such as Redis can sit behind several clients.
type CacheStore interface {
	// Get returns the serialized payload for key, or common.ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Delete(ctx context.Context, key string) error

	// Stats returns operation counters for monitoring and hit/miss analysis.
	Stats(ctx context.Context) CacheStats
}

// CacheStats holds cache operation counters for monitoring.
type CacheStats struct {
	Counters map[string]int // Operation name to count
}

// localStore implements CacheStore over sync.Map. Expiration is not enforced
// in-process; staleness is tracked by the engine, which is what drives
// re-fetching within a session.
type localStore struct {
	store      sync.Map // map[string]string
	countersMu sync.Mutex
	counters   map[string]int
}

// NewLocalStore creates an empty in-process cache store.
func NewLocalStore() CacheStore {
	return &localStore{counters: make(map[string]int)}
}

// DefaultLocalStore is the default in-process cache store.
var DefaultLocalStore CacheStore = NewLocalStore()

func (s *localStore) Get(ctx context.Context, key string) (string, error) {
	s.incrCounter("Get")
	if v, ok := s.store.Load(key); ok {
		if str, ok := v.(string); ok {
			s.incrCounter("GetHit")
			return str, nil
		}
	}
	s.incrCounter("GetMiss")
	return "", common.ErrNotFound
}

func (s *localStore) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	s.incrCounter("Set")
	if value == common.NoneResult {
		s.incrCounter("SetNoneResult")
	}
	s.store.Store(key, value)
	return nil
}

func (s *localStore) Delete(ctx context.Context, key string) error {
	s.incrCounter("Delete")
	s.store.Delete(key)
	return nil
}

func (s *localStore) Stats(ctx context.Context) CacheStats {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	cloned := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		cloned[k] = v
	}
	return CacheStats{Counters: cloned}
}

func (s *localStore) incrCounter(name string) {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	s.counters[name]++
}
