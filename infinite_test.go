package querykit_test

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querykit"
	"querykit/common"
)

// pagedBackend serves totalPages pages of two articles each.
func pagedBackend(totalPages int, fetches *int32) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/articles", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(fetches, 1)
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 || page > totalPages {
			writeEnvelope(w, http.StatusBadRequest, `{"isSuccess":false,"statusCode":400,"message":"invalid page","errors":[]}`)
			return
		}
		writeEnvelope(w, http.StatusOK, fmt.Sprintf(
			`{"isSuccess":true,"statusCode":200,"data":{"docs":[{"id":"a%d-1","title":"Page %d A"},{"id":"a%d-2","title":"Page %d B"}],"currentPage":%d,"totalPages":%d,"totalDocs":%d},"message":"","errors":[]}`,
			page, page, page, page, page, totalPages, totalPages*2))
	})
	return mux
}

func pageFetcher(h *testHarness) querykit.PageFunc[article] {
	return func(ctx context.Context, page int) querykit.Response[querykit.Page[article]] {
		return querykit.CallWithRefresh[querykit.Page[article]](ctx, h.Transport, http.MethodGet, fmt.Sprintf("/articles?page=%d", page), nil)
	}
}

func TestInfiniteQuery_FetchLoadsFirstPage(t *testing.T) {
	var fetches int32
	h, cleanup := setupHarness(t, pagedBackend(3, &fetches))
	defer cleanup()

	q := querykit.NewInfiniteQuery(h.Client, querykit.Key{"articles"}, pageFetcher(h))

	pages, err := q.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].CurrentPage)
	assert.Equal(t, 3, pages[0].TotalPages)
	assert.True(t, q.HasNextPage())
	assert.Equal(t, 6, q.TotalDocs())
	assert.Len(t, q.Items(), 2)
}

func TestInfiniteQuery_FetchNextPageAppends(t *testing.T) {
	var fetches int32
	h, cleanup := setupHarness(t, pagedBackend(3, &fetches))
	defer cleanup()

	q := querykit.NewInfiniteQuery(h.Client, querykit.Key{"articles"}, pageFetcher(h))
	ctx := context.Background()

	_, err := q.Fetch(ctx)
	require.NoError(t, err)
	require.NoError(t, q.FetchNextPage(ctx))
	require.NoError(t, q.FetchNextPage(ctx))

	pages := q.Pages()
	require.Len(t, pages, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{pages[0].CurrentPage, pages[1].CurrentPage, pages[2].CurrentPage})
	assert.Len(t, q.Items(), 6)
	assert.False(t, q.HasNextPage(), "last page reports no successor")
}

func TestInfiniteQuery_ExhaustedNextPageIsNoOp(t *testing.T) {
	var fetches int32
	h, cleanup := setupHarness(t, pagedBackend(1, &fetches))
	defer cleanup()

	q := querykit.NewInfiniteQuery(h.Client, querykit.Key{"articles"}, pageFetcher(h))
	ctx := context.Background()

	_, err := q.Fetch(ctx)
	require.NoError(t, err)
	assert.False(t, q.HasNextPage())

	before := atomic.LoadInt32(&fetches)
	require.NoError(t, q.FetchNextPage(ctx), "exhausted sequences return nil without fetching")
	assert.Equal(t, before, atomic.LoadInt32(&fetches))
	assert.Len(t, q.Pages(), 1)
}

func TestInfiniteQuery_HasNextPageFalseBeforeFirstFetch(t *testing.T) {
	var fetches int32
	h, cleanup := setupHarness(t, pagedBackend(3, &fetches))
	defer cleanup()

	q := querykit.NewInfiniteQuery(h.Client, querykit.Key{"articles"}, pageFetcher(h))
	assert.False(t, q.HasNextPage())
	assert.Equal(t, 0, q.TotalDocs())
}

func TestInfiniteQuery_FetchNextPageOnEmptyLoadsFirst(t *testing.T) {
	var fetches int32
	h, cleanup := setupHarness(t, pagedBackend(2, &fetches))
	defer cleanup()

	q := querykit.NewInfiniteQuery(h.Client, querykit.Key{"articles"}, pageFetcher(h))

	require.NoError(t, q.FetchNextPage(context.Background()))
	pages := q.Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].CurrentPage)
}

func TestInfiniteQuery_RefetchRestartsFromPageOne(t *testing.T) {
	var fetches int32
	h, cleanup := setupHarness(t, pagedBackend(3, &fetches))
	defer cleanup()

	q := querykit.NewInfiniteQuery(h.Client, querykit.Key{"articles"}, pageFetcher(h))
	ctx := context.Background()

	_, err := q.Fetch(ctx)
	require.NoError(t, err)
	require.NoError(t, q.FetchNextPage(ctx))
	require.Len(t, q.Pages(), 2)

	pages, err := q.Refetch(ctx)
	require.NoError(t, err)
	require.Len(t, pages, 1, "refetch discards the sequence and reloads page 1")
	assert.Equal(t, 1, pages[0].CurrentPage)
	assert.True(t, q.HasNextPage())
}

func TestInfiniteQuery_InvalidationRestartsOnNextFetch(t *testing.T) {
	var fetches int32
	h, cleanup := setupHarness(t, pagedBackend(3, &fetches))
	defer cleanup()

	q := querykit.NewInfiniteQuery(h.Client, querykit.Key{"articles"}, pageFetcher(h))
	ctx := context.Background()

	_, err := q.Fetch(ctx)
	require.NoError(t, err)
	require.NoError(t, q.FetchNextPage(ctx))

	h.Client.Invalidate(ctx, querykit.Key{"articles"})
	assert.True(t, q.IsStale())

	pages, err := q.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, pages, 1, "a stale sequence restarts from page 1")
	assert.False(t, q.IsStale())
}

func TestInfiniteQuery_FailedPageKeepsSequence(t *testing.T) {
	var failing atomic.Bool
	var fetches int32
	backend := pagedBackend(3, &fetches)
	mux := http.NewServeMux()
	mux.HandleFunc("/articles", func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			writeEnvelope(w, http.StatusInternalServerError, `{"isSuccess":false,"statusCode":500,"message":"backend down","errors":[]}`)
			return
		}
		backend.ServeHTTP(w, r)
	})
	h, cleanup := setupHarness(t, mux)
	defer cleanup()

	q := querykit.NewInfiniteQuery(h.Client, querykit.Key{"articles"}, pageFetcher(h))
	ctx := context.Background()

	_, err := q.Fetch(ctx)
	require.NoError(t, err)

	failing.Store(true)
	err = q.FetchNextPage(ctx)
	require.Error(t, err)
	var envErr *querykit.EnvelopeError
	require.ErrorAs(t, err, &envErr)

	// The already-fetched pages survive the failed append.
	assert.Len(t, q.Pages(), 1)
	assert.Equal(t, querykit.StatusError, q.Status())
}

func TestInfiniteQuery_SuccessWithoutPagePayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/articles", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, `{"isSuccess":true,"statusCode":200,"message":"","errors":[]}`)
	})
	h, cleanup := setupHarness(t, mux)
	defer cleanup()

	q := querykit.NewInfiniteQuery(h.Client, querykit.Key{"articles"}, pageFetcher(h))

	_, err := q.Fetch(context.Background())
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Empty(t, q.Pages())
}
