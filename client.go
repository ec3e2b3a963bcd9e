package querykit

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default client-wide tunables.
const (
	// DefaultTTL bounds how long payloads live in a shared cache store.
	DefaultTTL = 8 * time.Hour
	// DefaultRedirectDelay leaves a transient notification visible before a
	// configured redirect fires. The loading-clear timing of mutations is
	// coupled to this same constant.
	DefaultRedirectDelay = 2500 * time.Millisecond
)

// Status is the lifecycle state of a cache entry.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusFetching Status = "fetching"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
)

// Client owns one query cache engine instance: the entry registry, the
// payload store, the in-flight fetch coordination and the injected UI
// collaborators. Queries and mutations sharing a Client share its cache.
type Client struct {
	transport     *Transport
	cache         CacheStore
	alerter       Alerter
	confirmer     Confirmer
	redirector    Redirector
	loading       *LoadingGate
	ttl           time.Duration
	redirectDelay time.Duration

	// entries maps canonical key -> *entryState. Exactly one entry exists per
	// distinct key; entries are never removed within a session, only marked
	// stale by invalidation.
	entries sync.Map

	// flight coalesces overlapping fetches per canonical key so concurrent
	// queries with equal keys issue one network call.
	flight singleflight.Group
}

// Config holds configuration for a Client. Every recognized option is
// enumerated here; zero values select the documented default.
type Config struct {
	Transport     *Transport    // required for queries that use the built-in transport helpers
	Cache         CacheStore    // optional; defaults to DefaultLocalStore
	Alerter       Alerter       // optional; defaults to a no-op
	Confirmer     Confirmer     // optional; defaults to always-confirm
	Redirector    Redirector    // optional; defaults to a no-op
	TTL           time.Duration // optional; defaults to DefaultTTL
	RedirectDelay time.Duration // optional; defaults to DefaultRedirectDelay
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	cache := cfg.Cache
	if cache == nil {
		cache = DefaultLocalStore
	}
	alerter := cfg.Alerter
	if alerter == nil {
		alerter = nopAlerter{}
	}
	confirmer := cfg.Confirmer
	if confirmer == nil {
		confirmer = nopConfirmer{}
	}
	redirector := cfg.Redirector
	if redirector == nil {
		redirector = nopRedirector{}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	redirectDelay := cfg.RedirectDelay
	if redirectDelay <= 0 {
		redirectDelay = DefaultRedirectDelay
	}
	return &Client{
		transport:     cfg.Transport,
		cache:         cache,
		alerter:       alerter,
		confirmer:     confirmer,
		redirector:    redirector,
		loading:       &LoadingGate{},
		ttl:           ttl,
		redirectDelay: redirectDelay,
	}, nil
}

// Transport returns the client's transport (may be nil when queries supply
// their own fetch functions).
func (c *Client) Transport() *Transport {
	return c.transport
}

// Loading exposes the shared loading gate for UI layers.
func (c *Client) Loading() *LoadingGate {
	return c.loading
}

// Stats returns the payload store's operation counters.
func (c *Client) Stats(ctx context.Context) CacheStats {
	return c.cache.Stats(ctx)
}

// entryState is the per-key cache entry metadata. The payload itself lives
// in the CacheStore under storeKey.
type entryState struct {
	mu        sync.Mutex
	key       Key
	storeKey  string
	status    Status
	fetched   bool
	stale     bool
	updatedAt time.Time
}

// entry returns the shared entry for key, creating it on first use.
// Re-issuing a query with a structurally equal key reuses the entry instead
// of creating a duplicate.
func (c *Client) entry(key Key) *entryState {
	canonical := key.Canonical()
	if existing, ok := c.entries.Load(canonical); ok {
		return existing.(*entryState)
	}
	created := &entryState{
		key:      key,
		storeKey: storeKey(key),
		status:   StatusIdle,
	}
	actual, _ := c.entries.LoadOrStore(canonical, created)
	return actual.(*entryState)
}

// Invalidate marks every cache entry whose key has one of the given keys as
// a structural prefix stale. Stale entries keep their payload for
// stale-while-revalidate display, but the next access triggers a fresh
// fetch. Invalidation happens-before any re-fetch of the affected keys.
func (c *Client) Invalidate(ctx context.Context, keys ...Key) {
	if len(keys) == 0 {
		return
	}
	invalidated := 0
	c.entries.Range(func(_, value any) bool {
		state := value.(*entryState)
		for _, related := range keys {
			if state.key.HasPrefix(related) {
				state.mu.Lock()
				state.stale = true
				state.mu.Unlock()
				invalidated++
				break
			}
		}
		return true
	})
	log.Printf("CACHE INVALIDATE: %d related key(s), %d entries marked stale", len(keys), invalidated)
}

// scheduleRedirect fires the injected Redirector after the configured delay,
// leaving any notification visible in the meantime.
func (c *Client) scheduleRedirect(target string) {
	if target == "" {
		return
	}
	time.AfterFunc(c.redirectDelay, func() {
		c.redirector.Redirect(target)
	})
}

// --- Package-level default client ---

var (
	defaultClient *Client
	defaultMu     sync.RWMutex
)

// Configure sets up the package-level default client. Call once during
// application initialization before using Default.
func Configure(cfg Config) error {
	client, err := New(cfg)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultClient = client
	log.Println("querykit configured with a default client.")
	return nil
}

// Default returns the client set by Configure.
func Default() (*Client, error) {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if defaultClient == nil {
		return nil, errors.New("querykit: Default called before Configure")
	}
	return defaultClient, nil
}
