package querykit

import (
	"context"
	"log"
	"net/http"
)

// Fixed user-facing messages for the unrefreshable-401 category. These are
// the only errors expected to prompt a sign-in redirect.
const (
	MsgNoSession      = "You are not signed in. Please sign in to continue."
	MsgSessionExpired = "Your session has expired. Please sign in again."
	MsgRefreshFailed  = "Could not refresh your session. Please sign in again."
)

// refreshRequest is the wire shape of the token-refresh call.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// CallWithRefresh issues a request through the Transport and, on a 401,
// coordinates a single shared token refresh across all concurrent callers
// before retrying the original request exactly once.
//
// Invariants:
//   - exactly one refresh network call is in flight per distinct credential
//     digest, no matter how many concurrent requests observe 401;
//   - a request is retried at most once;
//   - a 401 from the refresh endpoint itself never triggers another refresh.
func CallWithRefresh[T any](ctx context.Context, tr *Transport, method, endpoint string, body any) Response[T] {
	res := Call[T](ctx, tr, method, endpoint, body)
	if res.Success || res.StatusCode != http.StatusUnauthorized {
		return res
	}

	// Refreshing the refresher is forbidden; it would recurse forever.
	if endpoint == tr.refreshEndpoint {
		return res
	}

	pair, err := tr.tokens.Load(ctx)
	if err != nil {
		log.Printf("WARN: CallWithRefresh could not load tokens: %v", err)
		return Failure[T](http.StatusUnauthorized, MsgNoSession)
	}
	if pair.Empty() {
		// No credentials: terminal, no network call to the refresh endpoint.
		return Failure[T](http.StatusUnauthorized, MsgNoSession)
	}

	// All callers that 401 under this pair join the same refresh operation.
	// singleflight registers the key synchronously before running the
	// function, so there is no window where two refreshes start for one pair.
	shared, _, _ := tr.refreshGroup.Do(pair.Digest(), func() (any, error) {
		return tr.refreshOnce(ctx, pair), nil
	})
	refreshed := shared.(Response[TokenPair])

	if !refreshed.Success {
		return Failure[T](refreshed.StatusCode, MsgRefreshFailed, refreshed.Errors...)
	}

	// Retry exactly once with the rotated token.
	retry := Call[T](ctx, tr, method, endpoint, body)
	if !retry.Success && retry.StatusCode == http.StatusUnauthorized {
		retry.Message = MsgSessionExpired
	}
	return retry
}

// refreshOnce performs the actual refresh network call and, on success,
// persists the rotated pair. Exactly one goroutine runs this per credential
// digest; joiners share the returned envelope.
func (tr *Transport) refreshOnce(ctx context.Context, pair TokenPair) Response[TokenPair] {
	res := Call[TokenPair](ctx, tr, http.MethodPost, tr.refreshEndpoint, refreshRequest{RefreshToken: pair.RefreshToken})
	if !res.Success {
		log.Printf("WARN: token refresh failed (%d): %s", res.StatusCode, res.Message)
		return res
	}
	if res.Data == nil || res.Data.Empty() {
		log.Printf("WARN: token refresh returned no credential pair")
		return Failure[TokenPair](DefaultErrorStatusCode, "refresh endpoint returned no credentials")
	}
	if err := tr.tokens.Save(ctx, *res.Data); err != nil {
		log.Printf("ERROR: failed to persist refreshed tokens: %v", err)
		return Failure[TokenPair](DefaultErrorStatusCode, "failed to persist refreshed credentials: "+err.Error())
	}
	return res
}
