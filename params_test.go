package querykit_test

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querykit"
)

type slugParams struct {
	Slug string `json:"slug"`
}

func slugBackend(fetches *int32) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/articles/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(fetches, 1)
		slug := r.URL.Path[len("/articles/"):]
		writeEnvelope(w, http.StatusOK, fmt.Sprintf(
			`{"isSuccess":true,"statusCode":200,"data":{"id":"a1","title":"Article %s"},"message":"","errors":[]}`, slug))
	})
	return mux
}

func slugQuery(h *testHarness) *querykit.ParamQuery[article, slugParams] {
	return querykit.NewParamQuery(h.Client, querykit.Key{"article"},
		func(ctx context.Context, p slugParams) querykit.Response[article] {
			return querykit.CallWithRefresh[article](ctx, h.Transport, http.MethodGet, "/articles/"+p.Slug, nil)
		})
}

func TestParamQuery_DisabledUntilParamsApplied(t *testing.T) {
	var fetches int32
	h, cleanup := setupHarness(t, slugBackend(&fetches))
	defer cleanup()

	q := slugQuery(h)
	assert.False(t, q.Enabled())
	assert.Nil(t, q.Params())
	assert.Nil(t, q.Query())
	assert.Nil(t, q.Data(context.Background()))
	assert.EqualValues(t, 0, atomic.LoadInt32(&fetches))
}

func TestParamQuery_SetParamsFetches(t *testing.T) {
	var fetches int32
	h, cleanup := setupHarness(t, slugBackend(&fetches))
	defer cleanup()

	q := slugQuery(h)
	data, err := q.SetParams(context.Background(), &slugParams{Slug: "launch-day"})
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "Article launch-day", data.Title)
	assert.True(t, q.Enabled())
	assert.False(t, q.IsChanging(), "the changing flag clears once the fetch settles")
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetches))
}

func TestParamQuery_IdenticalParamsAreNoOp(t *testing.T) {
	var fetches int32
	h, cleanup := setupHarness(t, slugBackend(&fetches))
	defer cleanup()

	q := slugQuery(h)
	ctx := context.Background()
	_, err := q.SetParams(ctx, &slugParams{Slug: "launch-day"})
	require.NoError(t, err)

	// Structurally identical params (a distinct pointer) trigger nothing.
	data, err := q.SetParams(ctx, &slugParams{Slug: "launch-day"})
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "Article launch-day", data.Title)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetches), "identical params must not refetch")
}

func TestParamQuery_ChangedParamsRekeyAndFetch(t *testing.T) {
	var fetches int32
	h, cleanup := setupHarness(t, slugBackend(&fetches))
	defer cleanup()

	q := slugQuery(h)
	ctx := context.Background()
	_, err := q.SetParams(ctx, &slugParams{Slug: "first"})
	require.NoError(t, err)

	data, err := q.SetParams(ctx, &slugParams{Slug: "second"})
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "Article second", data.Title)
	assert.EqualValues(t, 2, atomic.LoadInt32(&fetches))

	// Swapping back reuses the first entry's cache.
	back, err := q.SetParams(ctx, &slugParams{Slug: "first"})
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, "Article first", back.Title)
	assert.EqualValues(t, 2, atomic.LoadInt32(&fetches), "returning to cached params serves from cache")
}

func TestParamQuery_NilParamsClearAndDisable(t *testing.T) {
	var fetches int32
	h, cleanup := setupHarness(t, slugBackend(&fetches))
	defer cleanup()

	q := slugQuery(h)
	ctx := context.Background()
	_, err := q.SetParams(ctx, &slugParams{Slug: "launch-day"})
	require.NoError(t, err)

	data, err := q.SetParams(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.False(t, q.Enabled())
	assert.Nil(t, q.Query())
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetches))
}

func TestParamQuery_IsChangingDuringSwap(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/articles/", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		writeEnvelope(w, http.StatusOK, `{"isSuccess":true,"statusCode":200,"data":{"id":"a1","title":"Slow"},"message":"","errors":[]}`)
	})
	h, cleanup := setupHarness(t, mux)
	defer cleanup()

	q := slugQuery(h)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = q.SetParams(context.Background(), &slugParams{Slug: "slow"})
	}()

	<-entered
	assert.True(t, q.IsChanging(), "mid-transition while the fetch is in flight")
	close(release)
	<-done
	assert.False(t, q.IsChanging())
}
