package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// StatusError is a non-success HTTP response to a payload request.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// HTTPFetcher retrieves payloads with HTTP GET. Server errors (5xx, 429) and
// transport failures are retried with exponential backoff up to maxTries
// attempts; other statuses fail immediately.
type HTTPFetcher struct {
	client          *http.Client
	maxTries        uint
	initialInterval time.Duration
}

// NewHTTPFetcher returns a fetcher using client (http.DefaultClient if nil).
func NewHTTPFetcher(client *http.Client, maxTries int) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if maxTries < 1 {
		maxTries = 1
	}
	return &HTTPFetcher{
		client:          client,
		maxTries:        uint(maxTries),
		initialInterval: 500 * time.Millisecond,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initialInterval

	return backoff.Retry(ctx, func() ([]byte, error) {
		return f.get(ctx, url)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(f.maxTries))
}

func (f *HTTPFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	default:
		io.Copy(io.Discard, resp.Body)
		serr := &StatusError{URL: url, StatusCode: resp.StatusCode}
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}
	return io.ReadAll(resp.Body)
}
