package querykit

import (
	"context"
	"sync"
)

// Severity classifies an alert.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityError   Severity = "error"
)

// Alerter shows a transient notification. The engine only owns the
// triggering contract, not rendering.
type Alerter interface {
	Alert(severity Severity, message string)
}

// ConfirmOptions describes a pre-mutation confirmation dialog.
type ConfirmOptions struct {
	Title        string
	Message      string
	ConfirmLabel string
	CancelLabel  string
}

// Confirmer opens a confirmation dialog and reports the user's choice.
// Confirm blocks the mutation pipeline (not the caller's event loop) until
// the dialog settles or ctx is canceled.
type Confirmer interface {
	Confirm(ctx context.Context, opts ConfirmOptions) bool
}

// Redirector navigates the UI to a target after a mutation or query side
// effect.
type Redirector interface {
	Redirect(target string)
}

// No-op defaults keep the engine usable without a UI layer wired in.

type nopAlerter struct{}

func (nopAlerter) Alert(Severity, string) {}

type nopConfirmer struct{}

func (nopConfirmer) Confirm(context.Context, ConfirmOptions) bool { return true }

type nopRedirector struct{}

func (nopRedirector) Redirect(string) {}

// LoadingGate is the process-wide busy flag mutations set while running.
// It is shared, single-writer-at-a-time state: the last mutation to Begin
// owns clearing it, and a stale End (an older token) cannot clear a newer
// Begin. This is a UI-blocking overlay, not a resource needing fine-grained
// locking.
type LoadingGate struct {
	mu     sync.Mutex
	next   uint64
	owner  uint64
	active bool
}

// Begin marks the gate active and returns an ownership token.
func (g *LoadingGate) Begin() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	g.owner = g.next
	g.active = true
	return g.owner
}

// End clears the gate if token is the current owner; stale tokens are
// ignored so an earlier mutation cannot clear a later one's overlay.
func (g *LoadingGate) End(token uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if token == g.owner {
		g.active = false
	}
}

// Active reports whether the gate is currently set.
func (g *LoadingGate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
