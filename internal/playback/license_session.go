package playback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"playback-orchestrator/internal/keysystem"
	"playback-orchestrator/internal/license"
	"playback-orchestrator/internal/platform/metrics"
)

// licenseSession turns encryption-initialization events into license
// challenges and license responses into key session updates. A single loop
// goroutine handles events in arrival order, so at most one license round
// trip is in flight and licenses are applied in challenge order.
type licenseSession struct {
	keySession keysystem.KeySession
	endpoint   string
	transport  license.Acquirer
	log        *slog.Logger
	metrics    *metrics.Metrics
	onError    func(error)

	mu       sync.Mutex
	queue    []any
	seen     map[string]struct{}
	licenses int
	removers []func()

	wake chan struct{}
	stop context.CancelFunc
	done chan struct{}
}

func newLicenseSession(ks keysystem.KeySession, endpoint string, transport license.Acquirer, log *slog.Logger, m *metrics.Metrics, onError func(error)) *licenseSession {
	return &licenseSession{
		keySession: ks,
		endpoint:   endpoint,
		transport:  transport,
		log:        log.With(slog.String("component", "license_session")),
		metrics:    m,
		onError:    onError,
		seen:       make(map[string]struct{}),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// start subscribes to the element and key session and runs the loop until
// ctx is cancelled or close is called.
func (l *licenseSession) start(ctx context.Context, el Element) {
	ctx, l.stop = context.WithCancel(ctx)

	removeEncrypted := el.OnEncrypted(func(ev keysystem.EncryptionInitialization) { l.enqueue(ev) })
	removeMessage := l.keySession.OnMessage(func(ch keysystem.LicenseChallenge) { l.enqueue(ch) })
	l.mu.Lock()
	l.removers = append(l.removers, removeEncrypted, removeMessage)
	l.mu.Unlock()

	go l.run(ctx)
}

// enqueue never blocks: hosts may deliver events from inside
// GenerateRequest or Update, which run on the loop goroutine.
func (l *licenseSession) enqueue(ev any) {
	l.mu.Lock()
	l.queue = append(l.queue, ev)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *licenseSession) next() (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	ev := l.queue[0]
	l.queue = l.queue[1:]
	return ev, true
}

func (l *licenseSession) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for {
			ev, ok := l.next()
			if !ok {
				break
			}
			if err := l.handle(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return
				}
				l.onError(err)
				return
			}
		}
	}
}

func (l *licenseSession) handle(ctx context.Context, ev any) error {
	switch ev := ev.(type) {
	case keysystem.EncryptionInitialization:
		return l.generateRequest(ctx, ev)
	case keysystem.LicenseChallenge:
		return l.exchange(ctx, ev)
	default:
		return fmt.Errorf("unexpected license event %T", ev)
	}
}

func (l *licenseSession) generateRequest(ctx context.Context, ev keysystem.EncryptionInitialization) error {
	sum := sha256.Sum256(ev.InitData)
	key := ev.InitDataType + ":" + hex.EncodeToString(sum[:])

	l.mu.Lock()
	_, dup := l.seen[key]
	l.seen[key] = struct{}{}
	l.mu.Unlock()
	if dup {
		l.log.Debug("duplicate encryption event ignored", slog.String("init_data_type", ev.InitDataType))
		return nil
	}

	l.log.Info("encryption event",
		slog.String("init_data_type", ev.InitDataType),
		slog.Any("system_ids", keysystem.SystemIDs(ev.InitDataType, ev.InitData)))
	if err := l.keySession.GenerateRequest(ctx, ev.InitDataType, ev.InitData); err != nil {
		return fmt.Errorf("generate license request: %w", err)
	}
	return nil
}

func (l *licenseSession) exchange(ctx context.Context, ch keysystem.LicenseChallenge) error {
	l.metrics.IncLicenseRequests()
	lic, err := l.transport.Acquire(ctx, l.endpoint, ch.Message)
	if err != nil {
		l.metrics.IncLicenseErrors()
		return fmt.Errorf("acquire license: %w", err)
	}
	if err := l.keySession.Update(ctx, lic); err != nil {
		l.metrics.IncLicenseErrors()
		return fmt.Errorf("apply license: %w", err)
	}

	l.mu.Lock()
	l.licenses++
	n := l.licenses
	l.mu.Unlock()
	l.log.Info("license applied", slog.Int("license_bytes", len(lic)), slog.Int("licenses", n))
	return nil
}

func (l *licenseSession) applied() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.licenses
}

// close unsubscribes, waits for the loop and closes the key session.
func (l *licenseSession) close() error {
	l.mu.Lock()
	removers := l.removers
	l.removers = nil
	l.mu.Unlock()
	for _, remove := range removers {
		remove()
	}

	if l.stop != nil {
		l.stop()
		<-l.done
	}
	return l.keySession.Close()
}
