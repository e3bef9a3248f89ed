package keysystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"playback-orchestrator/internal/platform/metrics"
)

// Candidates returns key systems in the order they should be tried. Primary
// elements require the full-robustness system; secondary elements accept the
// software (L3) path first and fall back to it.
func Candidates(primary bool) []string {
	if primary {
		return []string{Widevine}
	}
	return []string{WidevineL3, Widevine}
}

// Negotiator tries candidate key systems in order and returns the first
// usable Handle.
type Negotiator struct {
	requester Requester
	timeout   time.Duration
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewNegotiator returns a Negotiator. timeout bounds each access attempt
// including media keys creation; zero disables the bound. m may be nil.
func NewNegotiator(r Requester, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Negotiator {
	return &Negotiator{
		requester: r,
		timeout:   timeout,
		log:       log.With(slog.String("component", "keysystem")),
		metrics:   m,
	}
}

// Negotiate returns a Handle for the first candidate key system that grants
// access for the audio and video content types. It stops at the first
// success. When all candidates fail the error matches ErrNoUsableKeySystem
// and every per-candidate cause (including ErrNegotiationTimeout).
func (n *Negotiator) Negotiate(ctx context.Context, primary bool, audioContentType, videoContentType string) (*Handle, error) {
	configs := []Configuration{{
		InitDataTypes:     []string{InitDataTypeCENC, InitDataTypeWebM},
		AudioCapabilities: []MediaCapability{{ContentType: audioContentType}},
		VideoCapabilities: []MediaCapability{{ContentType: videoContentType}},
	}}

	var errs []error
	for _, keySystem := range Candidates(primary) {
		keys, err := n.attempt(ctx, keySystem, configs)
		n.metrics.ObserveKeySystemAttempt(keySystem, err == nil)
		if err == nil {
			n.log.Info("key system selected",
				slog.String("key_system", keySystem),
				slog.Bool("primary", primary))
			return &Handle{KeySystem: keySystem, Keys: keys}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n.log.Warn("create key system failed",
			slog.String("key_system", keySystem),
			slog.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("%s: %w", keySystem, err))
	}
	return nil, errors.Join(append([]error{ErrNoUsableKeySystem}, errs...)...)
}

type attemptResult struct {
	keys MediaKeys
	err  error
}

// attempt runs one access request plus media keys creation. The host call
// runs on its own goroutine so a host that ignores ctx cannot stall
// negotiation; its late result is dropped.
func (n *Negotiator) attempt(ctx context.Context, keySystem string, configs []Configuration) (MediaKeys, error) {
	actx := ctx
	if n.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	done := make(chan attemptResult, 1)
	go func() {
		access, err := n.requester.RequestMediaKeySystemAccess(actx, keySystem, configs)
		if err != nil {
			done <- attemptResult{err: err}
			return
		}
		keys, err := access.CreateMediaKeys(actx)
		done <- attemptResult{keys: keys, err: err}
	}()

	select {
	case res := <-done:
		return res.keys, res.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrNegotiationTimeout
	}
}
