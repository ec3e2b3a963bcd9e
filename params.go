package querykit

import (
	"context"
	"sync"
)

// ParamQuery binds a query to a parameter value that changes over time
// (commonly a route id). SetParams re-keys and re-fetches only when the
// params actually change, and exposes a "mid-transition" signal distinct
// from "fetching" so dependent UI can be disabled during a parameter swap.
type ParamQuery[T any, P any] struct {
	client *Client
	base   Key
	fn     func(ctx context.Context, params P) Response[T]
	opts   QueryOptions[T]

	mu       sync.Mutex
	params   *P
	query    *Query[T]
	changing bool
}

// NewParamQuery creates an unbound parameter-driven query. The underlying
// query stays disabled (no fetch) until SetParams supplies a value.
func NewParamQuery[T any, P any](c *Client, base Key, fn func(ctx context.Context, params P) Response[T], opts ...QueryOptions[T]) *ParamQuery[T, P] {
	var options QueryOptions[T]
	if len(opts) > 0 {
		options = opts[0]
	}
	return &ParamQuery[T, P]{
		client: c,
		base:   base,
		fn:     fn,
		opts:   options,
	}
}

// SetParams applies a new parameter value:
//   - structurally identical params are a no-op (no spurious fetch);
//   - nil clears the params and disables the query;
//   - anything else re-keys the query, marks the binding changing, fetches,
//     and clears the changing flag once the fetch settles.
func (p *ParamQuery[T, P]) SetParams(ctx context.Context, params *P) (*T, error) {
	p.mu.Lock()
	if params == nil {
		p.params = nil
		p.query = nil
		p.changing = false
		p.mu.Unlock()
		return nil, nil
	}
	if p.params != nil && (Key{*p.params}).Equal(Key{*params}) {
		query := p.query
		p.mu.Unlock()
		return query.Data(ctx), nil
	}

	applied := *params
	p.params = &applied
	p.query = NewQuery(p.client, append(append(Key{}, p.base...), applied), func(ctx context.Context) Response[T] {
		return p.fn(ctx, applied)
	}, p.opts)
	p.changing = true
	query := p.query
	p.mu.Unlock()

	data, err := query.Fetch(ctx)

	p.mu.Lock()
	// A later SetParams may have re-keyed the binding while this fetch was in
	// flight; only the fetch for the current query clears the flag.
	if p.query == query {
		p.changing = false
	}
	p.mu.Unlock()
	return data, err
}

// Params returns the last-applied parameter value, or nil when unbound.
func (p *ParamQuery[T, P]) Params() *P {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

// Query returns the currently bound query, or nil when unbound.
func (p *ParamQuery[T, P]) Query() *Query[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.query
}

// Data returns the cached payload for the current params, or nil when
// unbound.
func (p *ParamQuery[T, P]) Data(ctx context.Context) *T {
	query := p.Query()
	if query == nil {
		return nil
	}
	return query.Data(ctx)
}

// IsChanging reports whether a parameter swap is mid-transition: params have
// been applied but the resulting fetch has not settled yet.
func (p *ParamQuery[T, P]) IsChanging() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changing
}

// Enabled reports whether the binding currently has params applied.
func (p *ParamQuery[T, P]) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params != nil
}
