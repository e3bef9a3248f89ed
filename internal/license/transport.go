// Package license exchanges license challenges with a remote license server.
package license

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const challengeContentType = "application/octet-stream"

// maxErrorBody caps how much of a failed response is kept on ServerError.
const maxErrorBody = 4 << 10

// ServerError is a non-2xx response from a license server.
type ServerError struct {
	StatusCode int
	Body       []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("license server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Acquirer performs one challenge/response round trip.
type Acquirer interface {
	Acquire(ctx context.Context, endpoint string, challenge []byte) ([]byte, error)
}

// Transport is the HTTP Acquirer. 5xx responses and transport failures are
// retried up to maxTries attempts; 4xx responses fail on the first attempt.
type Transport struct {
	client          *http.Client
	maxTries        uint
	timeout         time.Duration
	initialInterval time.Duration
	log             *slog.Logger
}

// NewTransport returns a Transport using client (http.DefaultClient if nil).
// timeout bounds each attempt; zero disables the bound.
func NewTransport(client *http.Client, maxTries int, timeout time.Duration, log *slog.Logger) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	if maxTries < 1 {
		maxTries = 1
	}
	return &Transport{
		client:          client,
		maxTries:        uint(maxTries),
		timeout:         timeout,
		initialInterval: 250 * time.Millisecond,
		log:             log.With(slog.String("component", "license_transport")),
	}
}

// Acquire POSTs challenge to endpoint and returns the license extracted from
// the response body with ExtractLicense.
func (t *Transport) Acquire(ctx context.Context, endpoint string, challenge []byte) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.initialInterval

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return t.post(ctx, endpoint, challenge)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(t.maxTries))
	if err != nil {
		return nil, err
	}

	license := ExtractLicense(body)
	t.log.Debug("license acquired",
		slog.Int("challenge_bytes", len(challenge)),
		slog.Int("response_bytes", len(body)),
		slog.Int("license_bytes", len(license)))
	return license, nil
}

func (t *Transport) post(ctx context.Context, endpoint string, challenge []byte) ([]byte, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(challenge))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", challengeContentType)

	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Warn("license request failed", slog.String("error", err.Error()))
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &ServerError{StatusCode: resp.StatusCode, Body: msg}
		t.log.Warn("license server rejected challenge", slog.Int("status", resp.StatusCode))
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}
	return io.ReadAll(resp.Body)
}

var crlf = []byte("\r\n")

// ExtractLicense returns the bytes following the last CRLF in body. License
// responses carry header-like lines ahead of the binary license, so the last
// separator marks its start. A body without CRLF is returned unchanged.
func ExtractLicense(body []byte) []byte {
	i := bytes.LastIndex(body, crlf)
	if i < 0 {
		return body
	}
	return body[i+len(crlf):]
}
