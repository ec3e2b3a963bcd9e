package querykit

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"querykit/common"
)

// MutationFunc performs one write operation and returns its envelope.
type MutationFunc[T any, V any] func(ctx context.Context, vars V) Response[T]

// InvalidateTiming controls when a mutation invalidates its related keys.
type InvalidateTiming int

const (
	// InvalidateOnSuccess invalidates only after a successful mutation.
	InvalidateOnSuccess InvalidateTiming = iota
	// InvalidateOnSettle invalidates after success or failure.
	InvalidateOnSettle
)

// MutationOptions configures one mutation. Every recognized option is
// enumerated explicitly; zero values select the documented defaults.
type MutationOptions[T any] struct {
	InvalidateKeys   []Key            // related keys marked stale on settle
	InvalidateTiming InvalidateTiming // default InvalidateOnSuccess

	Confirm *ConfirmOptions // optional pre-confirmation dialog; declining never runs the mutation

	DisableLoading       bool // skip the shared loading gate entirely
	KeepLoadingOnSuccess bool // leave the gate set after success (UI is about to navigate away)

	DisableAlert   bool   // suppress the settle notification
	SuccessMessage string // overrides the envelope message on success

	Redirect     string          // static redirect target after success
	RedirectFunc func(*T) string // data-derived redirect target; wins over Redirect

	OnSuccess func(data *T)
	OnError   func(err error)
}

// Mutation wraps a write operation with the shared loading gate, cache
// invalidation, notifications and redirect scheduling. Once invoked past the
// confirmation step, a mutation runs to completion; there is no mid-flight
// cancellation.
type Mutation[T any, V any] struct {
	client  *Client
	fn      MutationFunc[T, V]
	opts    MutationOptions[T]
	pending atomic.Bool
}

// NewMutation binds a mutation function to the client.
func NewMutation[T any, V any](c *Client, fn MutationFunc[T, V], opts ...MutationOptions[T]) *Mutation[T, V] {
	var options MutationOptions[T]
	if len(opts) > 0 {
		options = opts[0]
	}
	return &Mutation[T, V]{client: c, fn: fn, opts: options}
}

// IsPending reports whether an invocation is currently running.
func (m *Mutation[T, V]) IsPending() bool {
	return m.pending.Load()
}

// Mutate runs the mutation fire-and-forget.
func (m *Mutation[T, V]) Mutate(ctx context.Context, vars V) {
	go func() {
		if _, err := m.MutateAsync(ctx, vars); err != nil {
			log.Printf("WARN: mutation settled with error: %v", err)
		}
	}()
}

// MutateAsync runs the mutation and returns its payload, or an error. A
// non-success envelope is returned as an *EnvelopeError so success/failure is
// uniform value/error branching at the call site.
func (m *Mutation[T, V]) MutateAsync(ctx context.Context, vars V) (*T, error) {
	if m.opts.Confirm != nil {
		if !m.client.confirmer.Confirm(ctx, *m.opts.Confirm) {
			return nil, common.ErrMutationDeclined
		}
	}

	var token uint64
	if !m.opts.DisableLoading {
		token = m.client.loading.Begin()
	}

	m.pending.Store(true)
	res := m.fn(ctx, vars)
	m.pending.Store(false)

	err := res.Err()
	m.settle(ctx, res.Data, res.Message, err)

	// KeepLoadingOnSuccess leaves the gate set: the UI navigates away after
	// the redirect, and clearing here would flash loading -> ready -> gone.
	keepLoading := err == nil && m.opts.KeepLoadingOnSuccess
	if !m.opts.DisableLoading && !keepLoading {
		m.client.loading.End(token)
	}

	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// settle runs the ordered side-effect pipeline:
// cache invalidation -> user callback -> notification -> redirect scheduling.
// Each stage is isolated: a panic in one stage never suppresses the later
// stages (a redirect must still happen when a notification handler blows up).
func (m *Mutation[T, V]) settle(ctx context.Context, data *T, message string, err error) {
	runStage("invalidate", func() {
		if err == nil || m.opts.InvalidateTiming == InvalidateOnSettle {
			m.client.Invalidate(ctx, m.opts.InvalidateKeys...)
		}
	})

	runStage("callback", func() {
		if err == nil {
			if m.opts.OnSuccess != nil {
				m.opts.OnSuccess(data)
			}
		} else if m.opts.OnError != nil {
			m.opts.OnError(err)
		}
	})

	runStage("notify", func() {
		if m.opts.DisableAlert {
			return
		}
		if err == nil {
			text := m.opts.SuccessMessage
			if text == "" {
				text = message
			}
			if text != "" {
				m.client.alerter.Alert(SeveritySuccess, text)
			}
		} else {
			text := err.Error()
			var envErr *EnvelopeError
			if errors.As(err, &envErr) && envErr.Message != "" {
				text = envErr.Message
			}
			m.client.alerter.Alert(SeverityError, text)
		}
	})

	runStage("redirect", func() {
		if err != nil {
			return
		}
		target := m.opts.Redirect
		if m.opts.RedirectFunc != nil {
			target = m.opts.RedirectFunc(data)
		}
		m.client.scheduleRedirect(target)
	})
}

// runStage isolates one pipeline stage from the others.
func runStage(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: mutation %s stage panicked: %v", name, r)
		}
	}()
	fn()
}
