package headless

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"playback-orchestrator/internal/keysystem"
)

// ErrKeySessionClosed is returned by key session calls after Close.
var ErrKeySessionClosed = errors.New("key session closed")

const messageTypeLicenseRequest = "license-request"

type access struct {
	keySystem string
	log       *slog.Logger
}

func (a *access) KeySystem() string { return a.keySystem }

func (a *access) CreateMediaKeys(ctx context.Context) (keysystem.MediaKeys, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &MediaKeys{keySystem: a.keySystem, log: a.log}, nil
}

// MediaKeys is the decryption capability of a granted key system.
type MediaKeys struct {
	keySystem string
	log       *slog.Logger

	mu       sync.Mutex
	sessions []*KeySession
}

// KeySystem returns the key system the keys were created for.
func (k *MediaKeys) KeySystem() string { return k.keySystem }

// CreateSession implements keysystem.MediaKeys.
func (k *MediaKeys) CreateSession() (keysystem.KeySession, error) {
	s := &KeySession{log: k.log.With(slog.String("key_system", k.keySystem))}
	k.mu.Lock()
	k.sessions = append(k.sessions, s)
	k.mu.Unlock()
	return s, nil
}

// Sessions returns the key sessions created so far.
func (k *MediaKeys) Sessions() []*KeySession {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]*KeySession(nil), k.sessions...)
}

// KeySession issues the init data itself as the license challenge and
// records every license it is updated with.
type KeySession struct {
	log       *slog.Logger
	listeners listeners[keysystem.LicenseChallenge]

	mu       sync.Mutex
	licenses [][]byte
	closed   bool
}

// GenerateRequest implements keysystem.KeySession. The challenge is
// delivered to the OnMessage listeners before GenerateRequest returns.
func (s *KeySession) GenerateRequest(ctx context.Context, initDataType string, initData []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrKeySessionClosed
	}
	s.log.Debug("license challenge issued",
		slog.String("init_data_type", initDataType),
		slog.Int("challenge_bytes", len(initData)))
	s.listeners.emit(keysystem.LicenseChallenge{
		MessageType: messageTypeLicenseRequest,
		Message:     append([]byte(nil), initData...),
	})
	return nil
}

// OnMessage implements keysystem.KeySession.
func (s *KeySession) OnMessage(fn func(keysystem.LicenseChallenge)) func() {
	return s.listeners.add(fn)
}

// Update implements keysystem.KeySession.
func (s *KeySession) Update(ctx context.Context, license []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(license) == 0 {
		return errors.New("empty license")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrKeySessionClosed
	}
	s.licenses = append(s.licenses, append([]byte(nil), license...))
	return nil
}

// Closed reports whether Close was called.
func (s *KeySession) Closed() bool { return s.isClosed() }

// Close implements keysystem.KeySession.
func (s *KeySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Licenses returns copies of the applied licenses in order.
func (s *KeySession) Licenses() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.licenses))
	copy(out, s.licenses)
	return out
}

func (s *KeySession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// listeners is a set of callbacks that can be removed individually.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
