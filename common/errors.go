package common

import "errors"

// ErrNotFound is returned when a requested item (e.g., cache key, token record) is not found.
var ErrNotFound = errors.New("querykit: requested item not found")

// Additional package-level errors
var (
	// ErrNoSession indicates no credential pair is stored; a refresh is not even attempted.
	ErrNoSession = errors.New("querykit: no session available")
	// ErrSessionExpired indicates a request still failed with 401 after a successful refresh.
	ErrSessionExpired = errors.New("querykit: session expired")
	// ErrRefreshFailed indicates the token-refresh call itself failed.
	ErrRefreshFailed    = errors.New("querykit: cannot refresh session")
	ErrMutationDeclined = errors.New("querykit: mutation declined by user")
	ErrInvalidPage      = errors.New("querykit: invalid page number, must be >= 1")
	ErrFetchInFlight    = errors.New("querykit: a fetch for this page is already in flight")
)

// NoneResult is a marker value for cache indicating a known-empty payload.
// Used to differentiate between "key not in cache" and "key exists, but the
// last successful fetch carried no data".
const NoneResult = "__querykit_none__"
