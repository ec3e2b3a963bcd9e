package querykit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default wire constants. Header name, scheme and refresh endpoint are
// configuration, not hardcoded transport assumptions.
const (
	DefaultAuthHeader      = "Authorization"
	DefaultAuthScheme      = "Bearer"
	DefaultRefreshEndpoint = "/auth/refresh-token"
)

// Transport issues HTTP requests against the backend and normalizes every
// outcome (HTTP response or network failure) into a Response envelope.
// It never touches the query cache; its only collaborator is the TokenStore,
// which it reads lazily on every call.
type Transport struct {
	baseURL         string
	httpClient      *http.Client
	tokens          TokenStore
	authHeader      string
	authScheme      string
	refreshEndpoint string

	// refreshGroup coalesces concurrent refresh attempts per credential
	// digest. Registration happens synchronously inside Do, so callers that
	// observe a 401 concurrently join one in-flight refresh.
	refreshGroup singleflight.Group
}

// TransportConfig holds configuration for a Transport.
type TransportConfig struct {
	BaseURL         string
	HTTPClient      *http.Client // optional; defaults to a 30s-timeout client
	Tokens          TokenStore   // optional; defaults to an in-memory store
	AuthHeader      string       // optional; defaults to "Authorization"
	AuthScheme      string       // optional; defaults to "Bearer"
	RefreshEndpoint string       // optional; defaults to DefaultRefreshEndpoint
}

// NewTransport creates a Transport for the given backend.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("querykit: BaseURL must be non-empty")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	authHeader := cfg.AuthHeader
	if authHeader == "" {
		authHeader = DefaultAuthHeader
	}
	refreshEndpoint := cfg.RefreshEndpoint
	if refreshEndpoint == "" {
		refreshEndpoint = DefaultRefreshEndpoint
	}
	authScheme := cfg.AuthScheme
	if authScheme == "" {
		authScheme = DefaultAuthScheme
	}
	return &Transport{
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:      httpClient,
		tokens:          tokens,
		authHeader:      authHeader,
		authScheme:      authScheme,
		refreshEndpoint: refreshEndpoint,
	}, nil
}

// Tokens exposes the transport's token store (login/logout flows write it).
func (tr *Transport) Tokens() TokenStore {
	return tr.tokens
}

// RefreshEndpoint returns the configured token-refresh endpoint.
func (tr *Transport) RefreshEndpoint() string {
	return tr.refreshEndpoint
}

// Call issues one HTTP request and normalizes the result into a Response
// envelope. It never returns a Go error: network failures, malformed bodies
// and HTTP error statuses all resolve to failure envelopes. Cancellation via
// ctx aborts the underlying request and resolves as a failure envelope.
func Call[T any](ctx context.Context, tr *Transport, method, endpoint string, body any) Response[T] {
	if tr == nil {
		return Failure[T](DefaultErrorStatusCode, "transport not configured")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return Failure[T](DefaultErrorStatusCode, "failed to encode request body: "+err.Error())
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, tr.baseURL+endpoint, reader)
	if err != nil {
		return Failure[T](DefaultErrorStatusCode, "failed to build request: "+err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	// Read the stored token lazily per call; never cache it across calls.
	if pair, loadErr := tr.tokens.Load(ctx); loadErr == nil && pair.AccessToken != "" {
		value := pair.AccessToken
		if tr.authScheme != "" {
			value = tr.authScheme + " " + value
		}
		req.Header.Set(tr.authHeader, value)
	} else if loadErr != nil {
		log.Printf("WARN: Transport could not load tokens for %s %s: %v", method, endpoint, loadErr)
	}

	resp, err := tr.httpClient.Do(req)
	if err != nil {
		return Failure[T](DefaultErrorStatusCode, rootCauseMessage(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failure[T](DefaultErrorStatusCode, "failed to read response body: "+err.Error())
	}

	return decodeEnvelope[T](resp.StatusCode, raw)
}

// decodeEnvelope coerces a raw HTTP result into a structurally valid
// envelope: Success, StatusCode, Message and Errors are always set; Data is
// present only for successful responses that carried a body.
func decodeEnvelope[T any](statusCode int, raw []byte) Response[T] {
	if statusCode == 0 {
		statusCode = DefaultErrorStatusCode
	}

	success := statusCode >= 200 && statusCode < 300

	if len(bytes.TrimSpace(raw)) == 0 {
		if success {
			return Ok[T](statusCode, nil)
		}
		return Failure[T](statusCode, http.StatusText(statusCode))
	}

	var envelope Response[T]
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if success {
			// 2xx with a body that is not the envelope shape. Surfacing it as
			// a failure is safer than pretending the payload decoded.
			return Failure[T](statusCode, "malformed response body: "+err.Error())
		}
		return Failure[T](statusCode, http.StatusText(statusCode))
	}

	// Backends omit statusCode on some error shapes; fall back to the HTTP
	// status so the envelope invariant holds.
	if envelope.StatusCode == 0 {
		envelope.StatusCode = statusCode
	}
	if envelope.Errors == nil {
		envelope.Errors = []string{}
	}
	if !envelope.Success && envelope.Message == "" && len(envelope.Errors) == 0 {
		envelope.Message = http.StatusText(statusCode)
	}
	return envelope
}

// rootCauseMessage unwraps an error chain and returns the innermost cause's
// message. url.Error and friends wrap the interesting part several layers
// deep.
func rootCauseMessage(err error) string {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err.Error()
		}
		err = unwrapped
	}
}
