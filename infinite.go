package querykit

import (
	"context"
	"log"
	"sync"
	"time"

	"querykit/common"
)

// PageInfo is the pagination cursor state the backend attaches to every
// fetched page.
type PageInfo struct {
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	TotalDocs   int `json:"totalDocs"`
}

// HasNext derives whether another page exists after this one.
func (p PageInfo) HasNext() bool {
	return p.CurrentPage < p.TotalPages
}

// Page is one fetched page of an infinite query.
type Page[T any] struct {
	Items []T `json:"docs"`
	PageInfo
}

// PageFunc produces the envelope for one page fetch. The first page is 1.
type PageFunc[T any] func(ctx context.Context, page int) Response[Page[T]]

// InfiniteQuery maintains an ordered, appendable sequence of pages. The
// sequence is finite (exhausted when the last page reports
// CurrentPage == TotalPages) and restartable from page 1 via Refetch.
type InfiniteQuery[T any] struct {
	client *Client
	key    Key
	fn     PageFunc[T]
	opts   QueryOptions[Page[T]]
	state  *entryState

	mu       sync.Mutex
	pages    []Page[T]
	fetching bool
}

// NewInfiniteQuery binds a page fetch function to a cache key.
func NewInfiniteQuery[T any](c *Client, key Key, fn PageFunc[T], opts ...QueryOptions[Page[T]]) *InfiniteQuery[T] {
	var options QueryOptions[Page[T]]
	if len(opts) > 0 {
		options = opts[0]
	}
	return &InfiniteQuery[T]{
		client: c,
		key:    key,
		fn:     fn,
		opts:   options,
		state:  c.entry(key),
	}
}

// Pages returns a snapshot of the fetched page sequence.
func (q *InfiniteQuery[T]) Pages() []Page[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	snapshot := make([]Page[T], len(q.pages))
	copy(snapshot, q.pages)
	return snapshot
}

// Items returns the merged items of all fetched pages, in page order.
func (q *InfiniteQuery[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	var merged []T
	for _, page := range q.pages {
		merged = append(merged, page.Items...)
	}
	return merged
}

// HasNextPage reports whether the last fetched page announces a successor.
// False until the first page has been fetched.
func (q *InfiniteQuery[T]) HasNextPage() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pages) == 0 {
		return false
	}
	return q.pages[len(q.pages)-1].HasNext()
}

// TotalDocs returns the backend-reported total from the most recent page.
func (q *InfiniteQuery[T]) TotalDocs() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pages) == 0 {
		return 0
	}
	return q.pages[len(q.pages)-1].TotalDocs
}

// Fetch loads the first page when the sequence is empty or the entry has
// been invalidated; otherwise it is a no-op returning the current sequence.
func (q *InfiniteQuery[T]) Fetch(ctx context.Context) ([]Page[T], error) {
	q.state.mu.Lock()
	fresh := q.state.fetched && !q.state.stale
	q.state.mu.Unlock()

	q.mu.Lock()
	empty := len(q.pages) == 0
	q.mu.Unlock()

	if fresh && !empty {
		return q.Pages(), nil
	}
	return q.restart(ctx)
}

// Refetch discards the page sequence and restarts from page 1.
func (q *InfiniteQuery[T]) Refetch(ctx context.Context) ([]Page[T], error) {
	q.state.mu.Lock()
	q.state.stale = true
	q.state.mu.Unlock()
	return q.restart(ctx)
}

// FetchNextPage appends one page to the sequence. It is a no-op while
// another fetch is in flight (duplicate-page guard) or when the sequence is
// exhausted.
func (q *InfiniteQuery[T]) FetchNextPage(ctx context.Context) error {
	q.mu.Lock()
	if q.fetching {
		q.mu.Unlock()
		return common.ErrFetchInFlight
	}
	if len(q.pages) == 0 {
		q.mu.Unlock()
		_, err := q.Fetch(ctx)
		return err
	}
	last := q.pages[len(q.pages)-1]
	if !last.HasNext() {
		// Sequence exhausted: nothing to fetch, nothing changes.
		q.mu.Unlock()
		return nil
	}
	next := last.CurrentPage + 1
	q.fetching = true
	q.mu.Unlock()

	page, err := q.fetchPage(ctx, next)

	q.mu.Lock()
	q.fetching = false
	if err == nil {
		q.pages = append(q.pages, page)
	}
	q.mu.Unlock()
	return err
}

// restart fetches page 1 and resets the sequence to it.
func (q *InfiniteQuery[T]) restart(ctx context.Context) ([]Page[T], error) {
	q.mu.Lock()
	if q.fetching {
		q.mu.Unlock()
		return q.Pages(), common.ErrFetchInFlight
	}
	q.fetching = true
	q.mu.Unlock()

	page, err := q.fetchPage(ctx, 1)

	q.mu.Lock()
	q.fetching = false
	if err == nil {
		q.pages = []Page[T]{page}
	}
	q.mu.Unlock()

	if err != nil {
		// Failed restart keeps the previous sequence (stale-data-on-error).
		return q.Pages(), err
	}
	return q.Pages(), nil
}

// fetchPage runs one page fetch and settles the shared entry state.
func (q *InfiniteQuery[T]) fetchPage(ctx context.Context, page int) (Page[T], error) {
	if page < 1 {
		return Page[T]{}, common.ErrInvalidPage
	}

	q.state.mu.Lock()
	q.state.status = StatusFetching
	q.state.mu.Unlock()

	res := q.fn(ctx, page)
	if !res.Success || res.Data == nil {
		q.state.mu.Lock()
		q.state.status = StatusError
		q.state.mu.Unlock()

		err := res.Err()
		if err == nil {
			// Success envelope without a page payload is a contract breach.
			log.Printf("WARN: page %d fetch succeeded without a page payload", page)
			err = common.ErrNotFound
		}
		if q.alertOnError() && res.Message != "" {
			q.client.alerter.Alert(SeverityError, res.Message)
		}
		if q.opts.OnFetchFailed != nil {
			q.opts.OnFetchFailed(err)
		}
		return Page[T]{}, err
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
	return *res.Data, nil
}

// Status returns the entry's lifecycle state.
func (q *InfiniteQuery[T]) Status() Status {
	q.state.mu.Lock()
	defer q.state.mu.Unlock()
	return q.state.status
}

// IsStale reports whether the entry has been invalidated.
func (q *InfiniteQuery[T]) IsStale() bool {
	q.state.mu.Lock()
	defer q.state.mu.Unlock()
	return q.state.stale
}

func (q *InfiniteQuery[T]) alertOnError() bool {
	if q.opts.AlertOnError == nil {
		return true
	}
	return *q.opts.AlertOnError
}
