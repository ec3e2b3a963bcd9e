package querykit

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"reflect"
	"time"

	"querykit/common"
)

// FetchFunc produces the envelope for one query fetch. Non-success
// envelopes flip the entry to StatusError inside the engine; callers never
// handle that conversion themselves.
type FetchFunc[T any] func(ctx context.Context) Response[T]

// QueryOptions configures one query. Zero values select the documented
// defaults; every recognized option is enumerated explicitly.
type QueryOptions[T any] struct {
	Enabled         *bool         // default true; disabled queries never fetch
	AlertOnError    *bool         // default true; failure envelopes raise an alert
	RedirectOnError string        // optional; redirect target after a failed fetch
	RedirectOnEmpty string        // optional; redirect target after a successful empty fetch
	OnFetch         func(data *T) // invoked once per successful settle
	OnFetchFailed   func(err error)
}

// Query is a cached, stale-while-revalidate view of one fetch function,
// identified by a structural key. Queries with structurally equal keys on
// the same Client share one cache entry and one in-flight fetch.
type Query[T any] struct {
	client *Client
	key    Key
	fn     FetchFunc[T]
	opts   QueryOptions[T]
	state  *entryState
}

// NewQuery binds a fetch function to a cache key on the given client.
func NewQuery[T any](c *Client, key Key, fn FetchFunc[T], opts ...QueryOptions[T]) *Query[T] {
	var options QueryOptions[T]
	if len(opts) > 0 {
		options = opts[0]
	}
	return &Query[T]{
		client: c,
		key:    key,
		fn:     fn,
		opts:   options,
		state:  c.entry(key),
	}
}

// FetchFromEndpoint adapts an authenticated transport call into a FetchFunc.
func FetchFromEndpoint[T any](tr *Transport, method, endpoint string) FetchFunc[T] {
	return func(ctx context.Context) Response[T] {
		return CallWithRefresh[T](ctx, tr, method, endpoint, nil)
	}
}

// Key returns the query's cache key.
func (q *Query[T]) Key() Key {
	return q.key
}

// Data returns the cached payload without triggering a fetch. Returns nil on
// a cache miss or when the last successful fetch carried no data.
func (q *Query[T]) Data(ctx context.Context) *T {
	raw, err := q.client.cache.Get(ctx, q.state.storeKey)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			log.Printf("WARN: Cache Get error for key %s: %v", q.state.storeKey, err)
		}
		return nil
	}
	if raw == common.NoneResult {
		return nil
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Printf("WARN: Failed to decode cached payload for key %s: %v", q.state.storeKey, err)
		return nil
	}
	return &out
}

// Fetch serves the cached payload when it is fresh, and otherwise triggers
// the fetch function, sharing any overlapping in-flight fetch for the same
// key. Disabled queries return whatever is cached without fetching.
//
// On failure the previously cached payload is retained
// (stale-data-on-error); the error carries the failure envelope as an
// *EnvelopeError.
func (q *Query[T]) Fetch(ctx context.Context) (*T, error) {
	if !q.enabled() {
		return q.Data(ctx), nil
	}

	q.state.mu.Lock()
	fresh := q.state.fetched && !q.state.stale
	q.state.mu.Unlock()
	if fresh {
		log.Printf("CACHE HIT: Key: %s", q.state.storeKey)
		return q.Data(ctx), nil
	}

	log.Printf("CACHE MISS: Key: %s", q.state.storeKey)
	shared, err, _ := q.client.flight.Do(q.state.key.Canonical(), func() (any, error) {
		return q.fetchOnce(ctx)
	})
	if err != nil {
		return nil, err
	}
	if shared == nil {
		return nil, nil
	}
	return shared.(*T), nil
}

// Refetch forces staleness and fetches again.
func (q *Query[T]) Refetch(ctx context.Context) (*T, error) {
	q.state.mu.Lock()
	q.state.stale = true
	q.state.mu.Unlock()
	return q.Fetch(ctx)
}

// fetchOnce runs the fetch function and settles the entry. Exactly one
// goroutine runs this per key for overlapping fetches; joiners share the
// result.
func (q *Query[T]) fetchOnce(ctx context.Context) (any, error) {
	q.state.mu.Lock()
	q.state.status = StatusFetching
	q.state.mu.Unlock()

	res := q.fn(ctx)
	if !res.Success {
		q.state.mu.Lock()
		q.state.status = StatusError
		q.state.mu.Unlock()

		if q.alertOnError() {
			q.client.alerter.Alert(SeverityError, res.Message)
		}
		if q.opts.OnFetchFailed != nil {
			q.opts.OnFetchFailed(res.Err())
		}
		q.client.scheduleRedirect(q.opts.RedirectOnError)
		return nil, res.Err()
	}

	payload := common.NoneResult
	if res.Data != nil {
		encoded, err := json.Marshal(res.Data)
		if err != nil {
			log.Printf("WARN: Failed to encode payload for key %s: %v", q.state.storeKey, err)
		} else {
			payload = string(encoded)
		}
	}
	if err := q.client.cache.Set(ctx, q.state.storeKey, payload, q.client.ttl); err != nil {
		log.Printf("WARN: Failed to cache payload for key %s: %v", q.state.storeKey, err)
	}

	q.state.mu.Lock()
	q.state.status = StatusSuccess
	q.state.fetched = true
	q.state.stale = false
	q.state.updatedAt = time.Now()
	q.state.mu.Unlock()

	if q.opts.OnFetch != nil {
		q.opts.OnFetch(res.Data)
	}
	if q.opts.RedirectOnEmpty != "" && isEmptyData(res.Data) {
		q.client.scheduleRedirect(q.opts.RedirectOnEmpty)
	}
	return res.Data, nil
}

// Status returns the entry's lifecycle state.
func (q *Query[T]) Status() Status {
	q.state.mu.Lock()
	defer q.state.mu.Unlock()
	return q.state.status
}

// IsFetching reports whether a fetch for this key is in flight.
func (q *Query[T]) IsFetching() bool {
	return q.Status() == StatusFetching
}

// IsFetched reports whether the key has ever settled successfully.
func (q *Query[T]) IsFetched() bool {
	q.state.mu.Lock()
	defer q.state.mu.Unlock()
	return q.state.fetched
}

// IsStale reports whether the entry has been invalidated since its last
// successful fetch.
func (q *Query[T]) IsStale() bool {
	q.state.mu.Lock()
	defer q.state.mu.Unlock()
	return q.state.stale
}

// LastUpdatedAt returns the time of the last successful settle.
func (q *Query[T]) LastUpdatedAt() time.Time {
	q.state.mu.Lock()
	defer q.state.mu.Unlock()
	return q.state.updatedAt
}

func (q *Query[T]) enabled() bool {
	if q.opts.Enabled == nil {
		return true
	}
	return *q.opts.Enabled
}

func (q *Query[T]) alertOnError() bool {
	if q.opts.AlertOnError == nil {
		return true
	}
	return *q.opts.AlertOnError
}

// isEmptyData reports whether a successful payload is empty for the purpose
// of the empty-result redirect: nil, or a zero-length slice/map/string.
func isEmptyData[T any](data *T) bool {
	if data == nil {
		return true
	}
	v := reflect.ValueOf(*data)
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.String, reflect.Array:
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// Bool is a convenience for the pointer-valued options.
func Bool(v bool) *bool {
	return &v
}
