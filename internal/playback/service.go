package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"playback-orchestrator/internal/fetch"
	"playback-orchestrator/internal/license"
	"playback-orchestrator/internal/media"
)

// Service applies session bookkeeping around the Controller and exposes the
// media and license proxy operations used by the HTTP handler.
type Service struct {
	ctrl      *Controller
	repo      Repository
	catalog   fetch.Resolver
	payloads  PayloadSource
	transport license.Acquirer
	log       *slog.Logger

	mu       sync.Mutex
	elements map[string]*elementLock
}

// elementLock serializes session starts on one element. refs counts the
// starts holding or waiting for it; the entry is dropped at zero.
type elementLock struct {
	ch   chan struct{}
	refs int
}

// NewService returns a Service.
func NewService(ctrl *Controller, repo Repository, catalog fetch.Resolver, payloads PayloadSource, transport license.Acquirer, log *slog.Logger) *Service {
	return &Service{
		ctrl:      ctrl,
		repo:      repo,
		catalog:   catalog,
		payloads:  payloads,
		transport: transport,
		log:       log,
		elements:  make(map[string]*elementLock),
	}
}

// StartSession starts playback for req. A live session already bound to the
// same element is replaced: it is closed and unregistered before the new one
// starts. Starts on one element run one at a time; a start waiting for the
// element gives up when ctx is done.
func (s *Service) StartSession(ctx context.Context, req Request) (*Session, error) {
	unlock, err := s.lockElement(ctx, req.ElementID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if old, ok := s.repo.ActiveForElement(req.ElementID); ok {
		s.log.Info("replacing session on element",
			slog.String("element_id", req.ElementID),
			slog.String("session_id", string(old.ID)))
		s.repo.Remove(old.ID)
		if err := old.Close(); err != nil {
			s.log.Warn("close replaced session", slog.String("error", err.Error()))
		}
	}

	sess, err := s.ctrl.Play(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Add(sess); err != nil {
		sess.Close()
		return nil, err
	}
	go s.unregisterWhenDone(sess)
	return sess, nil
}

// unregisterWhenDone removes sess from the repository once it is torn down,
// whichever path closed it.
func (s *Service) unregisterWhenDone(sess *Session) {
	<-sess.Done()
	s.repo.Remove(sess.ID)
}

func (s *Service) lockElement(ctx context.Context, elementID string) (func(), error) {
	s.mu.Lock()
	l, ok := s.elements[elementID]
	if !ok {
		l = &elementLock{ch: make(chan struct{}, 1)}
		s.elements[elementID] = l
	}
	l.refs++
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.elements, elementID)
		}
		s.mu.Unlock()
	}

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			release()
		}, nil
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
}

// GetSession returns the session with id.
func (s *Service) GetSession(id SessionID) (*Session, bool) {
	return s.repo.Get(id)
}

// EndSession tears down and unregisters the session with id.
func (s *Service) EndSession(id SessionID) error {
	sess, ok := s.repo.Remove(id)
	if !ok {
		return ErrSessionNotFound
	}
	return sess.Close()
}

// Prefetch loads every id into the payload cache, one after another.
func (s *Service) Prefetch(ctx context.Context, ids []media.ID) error {
	for _, id := range ids {
		if _, err := s.payloads.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Launch prefetches every identifier in plan, then starts playback of the
// first video and the audio on the primary element.
func (s *Service) Launch(ctx context.Context, plan LaunchPlan) (*Session, error) {
	if err := s.Prefetch(ctx, plan.IDs()); err != nil {
		return nil, fmt.Errorf("prefetch: %w", err)
	}
	return s.StartSession(ctx, plan.PrimaryRequest())
}

// MediaPayload returns the descriptor and cached payload for id.
func (s *Service) MediaPayload(ctx context.Context, id media.ID) (media.Descriptor, []byte, error) {
	d, err := s.catalog.Lookup(id)
	if err != nil {
		return media.Descriptor{}, nil, err
	}
	data, err := s.payloads.Get(ctx, id)
	if err != nil {
		return media.Descriptor{}, nil, err
	}
	return d, data, nil
}

// ProxyLicense forwards challenge to the license endpoint of id.
func (s *Service) ProxyLicense(ctx context.Context, id media.ID, challenge []byte) ([]byte, error) {
	d, err := s.catalog.Lookup(id)
	if err != nil {
		return nil, err
	}
	if !d.Protected() {
		return nil, fmt.Errorf("%w: %s", ErrNotProtected, id)
	}
	return s.transport.Acquire(ctx, d.LicenseURL, challenge)
}

// ActiveSessionCount returns the number of live sessions.
func (s *Service) ActiveSessionCount() int {
	return s.repo.ActiveSessionCount()
}

// Shutdown closes and unregisters every session.
func (s *Service) Shutdown() {
	for _, sess := range s.repo.List() {
		s.repo.Remove(sess.ID)
		if err := sess.Close(); err != nil {
			s.log.Warn("close session on shutdown",
				slog.String("session_id", string(sess.ID)),
				slog.String("error", err.Error()))
		}
	}
}
