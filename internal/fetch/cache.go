// Package fetch retrieves encoded media payloads and memoizes them by media
// ID for the lifetime of the process.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"playback-orchestrator/internal/media"
	"playback-orchestrator/internal/platform/metrics"

	"golang.org/x/sync/singleflight"
)

// ErrFetchFailed wraps every transfer failure reported by Cache.Get.
// Callers may retry; failed results are never cached.
var ErrFetchFailed = errors.New("media fetch failed")

// Fetcher performs one network retrieval of a payload.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Resolver maps a media ID to its descriptor. *media.Catalog implements it.
type Resolver interface {
	Lookup(id media.ID) (media.Descriptor, error)
}

// Cache is a process-wide payload cache. Each ID is either pending (one
// shared in-flight transfer tracked by the singleflight group) or ready
// (stored in the payloads map). Payloads are never evicted.
type Cache struct {
	resolver Resolver
	fetcher  Fetcher
	timeout  time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	payloads map[media.ID][]byte
	inflight singleflight.Group
}

// NewCache returns an empty Cache. timeout bounds each shared transfer; zero
// means no bound beyond the host's HTTP client settings. m may be nil.
func NewCache(resolver Resolver, fetcher Fetcher, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Cache {
	return &Cache{
		resolver: resolver,
		fetcher:  fetcher,
		timeout:  timeout,
		log:      log.With(slog.String("component", "fetch_cache")),
		metrics:  m,
		payloads: make(map[media.ID][]byte),
	}
}

// Get returns the payload for id, starting a transfer on first use. Concurrent
// callers for the same id share a single transfer and observe the same bytes
// or the same error. The transfer runs detached from ctx so one caller giving
// up does not fail the others; ctx only bounds how long this caller waits.
//
// The returned slice is shared and must not be modified.
func (c *Cache) Get(ctx context.Context, id media.ID) ([]byte, error) {
	if data, ok := c.lookup(id); ok {
		c.metrics.IncFetchCacheHits()
		return data, nil
	}

	desc, err := c.resolver.Lookup(id)
	if err != nil {
		return nil, err
	}

	ch := c.inflight.DoChan(string(id), func() (any, error) {
		// A flight for id may have completed between lookup and DoChan.
		if data, ok := c.lookup(id); ok {
			return data, nil
		}
		return c.transfer(context.WithoutCancel(ctx), id, desc.URL)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, id, res.Err)
		}
		return res.Val.([]byte), nil
	}
}

// Cached reports whether id has a ready payload.
func (c *Cache) Cached(id media.ID) bool {
	_, ok := c.lookup(id)
	return ok
}

// Len returns the number of ready payloads.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.payloads)
}

func (c *Cache) lookup(id media.ID) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.payloads[id]
	return data, ok
}

func (c *Cache) transfer(ctx context.Context, id media.ID, url string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.metrics.IncFetchTransfers()
	start := time.Now()
	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		c.log.Warn("media fetch failed",
			slog.String("media_id", string(id)),
			slog.String("error", err.Error()))
		return nil, err
	}

	c.mu.Lock()
	c.payloads[id] = data
	c.mu.Unlock()

	c.log.Info("media fetched",
		slog.String("media_id", string(id)),
		slog.Int("bytes", len(data)),
		slog.Int("duration_ms", int(time.Since(start).Milliseconds())))
	return data, nil
}
