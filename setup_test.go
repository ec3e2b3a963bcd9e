package querykit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"querykit"
)

// recordingAlerter captures alerts raised by queries and mutations.
type recordingAlerter struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

type recordedAlert struct {
	Severity querykit.Severity
	Message  string
}

func (a *recordingAlerter) Alert(severity querykit.Severity, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, recordedAlert{Severity: severity, Message: message})
}

func (a *recordingAlerter) All() []recordedAlert {
	a.mu.Lock()
	defer a.mu.Unlock()
	snapshot := make([]recordedAlert, len(a.alerts))
	copy(snapshot, a.alerts)
	return snapshot
}

// stubConfirmer answers every confirmation dialog with a fixed choice.
type stubConfirmer struct {
	mu      sync.Mutex
	answer  bool
	asked   int
	lastOpt querykit.ConfirmOptions
}

func (c *stubConfirmer) Confirm(_ context.Context, opts querykit.ConfirmOptions) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asked++
	c.lastOpt = opts
	return c.answer
}

func (c *stubConfirmer) Asked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.asked
}

// recordingRedirector captures redirect targets.
type recordingRedirector struct {
	mu      sync.Mutex
	targets []string
}

func (r *recordingRedirector) Redirect(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
}

func (r *recordingRedirector) Targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]string, len(r.targets))
	copy(snapshot, r.targets)
	return snapshot
}

// testHarness bundles the fake backend with a client wired against it.
type testHarness struct {
	Server     *httptest.Server
	Transport  *querykit.Transport
	Client     *querykit.Client
	Alerter    *recordingAlerter
	Confirmer  *stubConfirmer
	Redirector *recordingRedirector
}

// setupHarness spins up an httptest backend and a client whose UI
// collaborators record everything they are asked to do. The confirmer
// defaults to accepting.
func setupHarness(tb testing.TB, handler http.Handler) (*testHarness, func()) {
	server := httptest.NewServer(handler)

	tr, err := querykit.NewTransport(querykit.TransportConfig{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	require.NoError(tb, err, "Failed to create transport")

	alerter := &recordingAlerter{}
	confirmer := &stubConfirmer{answer: true}
	redirector := &recordingRedirector{}

	client, err := querykit.New(querykit.Config{
		Transport:  tr,
		Cache:      querykit.NewLocalStore(),
		Alerter:    alerter,
		Confirmer:  confirmer,
		Redirector: redirector,
		// Keep redirect tests fast; production uses the package default.
		RedirectDelay: 20 * time.Millisecond,
	})
	require.NoError(tb, err, "Failed to create client")

	h := &testHarness{
		Server:     server,
		Transport:  tr,
		Client:     client,
		Alerter:    alerter,
		Confirmer:  confirmer,
		Redirector: redirector,
	}
	cleanup := func() {
		server.Close()
	}
	return h, cleanup
}

// signIn seeds the transport's token store with a credential pair.
func signIn(tb testing.TB, tr *querykit.Transport, access, refresh string) {
	err := tr.Tokens().Save(context.Background(), querykit.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
	})
	require.NoError(tb, err, "Failed to seed tokens")
}

// writeEnvelope writes a backend envelope response.
func writeEnvelope(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
