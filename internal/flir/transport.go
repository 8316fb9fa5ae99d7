package flir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrConnection means the device could not be reached or did not answer
var ErrConnection = errors.New("connection failure")

// DefaultTimeout bounds a single exchange
const DefaultTimeout = 2 * time.Second

// commandPath is the PTU's single request/response endpoint
const commandPath = "/API/PTCmd"

// maxReply caps how much of a reply body is read
const maxReply = 64 << 10

// ExchangeError describes a failed exchange with the device
type ExchangeError struct {
	Kind     error // ErrConnection or ErrValue
	Endpoint string
	Err      error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%v with %s: %v", e.Kind, e.Endpoint, e.Err)
}

func (e *ExchangeError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Transport performs one request/response exchange with the device
type Transport interface {
	Exchange(ctx context.Context, payload url.Values) ([]byte, error)
	Endpoint() string
}

// HTTPTransport posts form-encoded payloads to the PTCmd endpoint
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport creates a transport for the unit at address (host or host:port)
func NewHTTPTransport(address string, timeout time.Duration) (*HTTPTransport, error) {
	if address == "" {
		return nil, fmt.Errorf("device address is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	endpoint := address
	if !strings.Contains(address, "://") {
		endpoint = "http://" + address
	}
	endpoint = strings.TrimRight(endpoint, "/") + commandPath
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid device address %q: %w", address, err)
	}

	return &HTTPTransport{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Endpoint returns the URL exchanges are posted to
func (t *HTTPTransport) Endpoint() string {
	return t.endpoint
}

// Exchange posts payload once and returns the raw reply. No retry is attempted.
func (t *HTTPTransport) Exchange(ctx context.Context, payload url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return nil, &ExchangeError{Kind: ErrValue, Endpoint: t.endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &ExchangeError{Kind: ErrConnection, Endpoint: t.endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReply))
	if err != nil {
		return nil, &ExchangeError{Kind: ErrConnection, Endpoint: t.endpoint, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ExchangeError{
			Kind:     ErrConnection,
			Endpoint: t.endpoint,
			Err:      fmt.Errorf("bad status code: %s", resp.Status),
		}
	}
	return body, nil
}
