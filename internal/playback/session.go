package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"playback-orchestrator/internal/keysystem"
	"playback-orchestrator/internal/media"
	"playback-orchestrator/internal/platform/metrics"

	"github.com/google/uuid"
)

// Session is one playback attempt on one element. It owns the decryption
// handle, the license session and the media source until Close.
type Session struct {
	ID      SessionID
	Request Request

	video   media.Descriptor
	ctx     context.Context
	cancel  context.CancelFunc
	log     *slog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	state      State
	tunnelMode bool
	failure    *SessionError
	closing    bool
	element    Element
	keys       *keysystem.Handle
	license    *licenseSession
	source     MediaSource

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func newSession(parent context.Context, req Request, video media.Descriptor, el Element, log *slog.Logger, m *metrics.Metrics) *Session {
	id := SessionID(uuid.New().String())
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &Session{
		ID:      id,
		Request: req,
		video:   video,
		ctx:     ctx,
		cancel:  cancel,
		log: log.With(
			slog.String("session_id", string(id)),
			slog.String("element_id", req.ElementID),
			slog.String("video_id", string(req.VideoID))),
		metrics: m,
		state:   StateIdle,
		element: el,
		done:    make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that aborted the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure == nil {
		return nil
	}
	return s.failure
}

// Done is closed once the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Active reports whether the session has not been torn down.
func (s *Session) Active() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// View returns a snapshot for the HTTP API.
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := SessionView{
		ID:         s.ID,
		ElementID:  s.Request.ElementID,
		VideoID:    s.Request.VideoID,
		AudioID:    s.Request.AudioID,
		State:      s.state,
		Protected:  s.video.Protected(),
		TunnelMode: s.tunnelMode,
	}
	if s.keys != nil {
		v.KeySystem = s.keys.KeySystem
	}
	if s.license != nil {
		v.LicensesApplied = s.license.applied()
	}
	if s.failure != nil {
		v.Stage = s.failure.Stage
		v.Error = s.failure.Cause.Error()
	}
	return v
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	if s.closing || from == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()
	s.log.Debug("session transition", slog.String("from", string(from)), slog.String("to", string(to)))
}

// fail records the first failure and moves the session to StateFailed.
// It returns the recorded SessionError, which may be an earlier one.
func (s *Session) fail(stage Stage, err error) *SessionError {
	s.mu.Lock()
	if s.failure != nil {
		first := s.failure
		s.mu.Unlock()
		return first
	}
	var serr *SessionError
	if !errors.As(err, &serr) {
		serr = &SessionError{Stage: stage, Cause: err}
	}
	s.failure = serr
	s.state = StateFailed
	s.mu.Unlock()

	s.metrics.IncSessionsFailed(string(serr.Stage))
	s.log.Error("session failed",
		slog.String("stage", string(serr.Stage)),
		slog.String("error", serr.Cause.Error()))
	return serr
}

// abort fails the session from a background goroutine and tears it down.
func (s *Session) abort(stage Stage, err error) {
	s.fail(stage, err)
	s.cancel()
	go s.Close()
}

func (s *Session) setKeys(h *keysystem.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrSessionClosed
	}
	s.keys = h
	return nil
}

func (s *Session) setLicense(l *licenseSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrSessionClosed
	}
	s.license = l
	return nil
}

func (s *Session) setSource(src MediaSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrSessionClosed
	}
	s.source = src
	return nil
}

// Close tears the session down: it cancels in-flight work, stops the license
// session, detaches the decryption handle and releases the media source.
// Close is idempotent and safe for concurrent use.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.closing = true
		el, keys, lic, src := s.element, s.keys, s.license, s.source
		s.mu.Unlock()

		var errs []error
		if lic != nil {
			errs = append(errs, lic.close())
		}
		if keys != nil {
			errs = append(errs, el.SetMediaKeys(context.Background(), nil))
		}
		if src != nil {
			errs = append(errs, el.SetSource(nil), src.Close())
		}

		s.mu.Lock()
		if s.state != StateFailed {
			s.state = StateClosed
		}
		s.mu.Unlock()

		s.closeErr = errors.Join(errs...)
		close(s.done)
		s.log.Info("session closed")
	})
	<-s.done
	return s.closeErr
}
