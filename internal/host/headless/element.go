package headless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"playback-orchestrator/internal/keysystem"
	"playback-orchestrator/internal/playback"
)

var (
	// ErrForeignSource is returned when a media source from another host
	// is bound to an element.
	ErrForeignSource = errors.New("media source not created by this host")

	// ErrNoSource is returned by Play when no media source is bound.
	ErrNoSource = errors.New("no media source attached")
)

// Element is a headless playback element.
type Element struct {
	id        string
	log       *slog.Logger
	encrypted listeners[keysystem.EncryptionInitialization]

	mu      sync.Mutex
	keys    keysystem.MediaKeys
	source  *MediaSource
	maxCaps string
	playing bool
}

func newElement(id string, log *slog.Logger) *Element {
	return &Element{id: id, log: log.With(slog.String("element_id", id))}
}

// SetMediaKeys implements playback.Element.
func (e *Element) SetMediaKeys(ctx context.Context, keys keysystem.MediaKeys) error {
	if keys != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	e.mu.Lock()
	e.keys = keys
	e.mu.Unlock()
	return nil
}

// OnEncrypted implements playback.Element.
func (e *Element) OnEncrypted(fn func(keysystem.EncryptionInitialization)) func() {
	return e.encrypted.add(fn)
}

// SetSource implements playback.Element. Binding opens the source.
func (e *Element) SetSource(src playback.MediaSource) error {
	if src == nil {
		e.mu.Lock()
		e.source = nil
		e.playing = false
		e.mu.Unlock()
		return nil
	}
	ms, ok := src.(*MediaSource)
	if !ok {
		return ErrForeignSource
	}
	if err := ms.open(e); err != nil {
		return err
	}
	e.mu.Lock()
	e.source = ms
	e.mu.Unlock()
	return nil
}

// Play implements playback.Element.
func (e *Element) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source == nil {
		return ErrNoSource
	}
	e.playing = true
	e.log.Info("playback started", slog.Int("buffered_bytes", e.source.Buffered()))
	return nil
}

// SetMaxVideoCapabilities implements playback.CapabilityRestricter.
func (e *Element) SetMaxVideoCapabilities(caps string) error {
	if caps == "" {
		return fmt.Errorf("element %s: empty video capabilities", e.id)
	}
	e.mu.Lock()
	e.maxCaps = caps
	e.mu.Unlock()
	return nil
}

// Playing reports whether Play succeeded since the last source change.
func (e *Element) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// MediaKeys returns the bound decryption capability, if any.
func (e *Element) MediaKeys() keysystem.MediaKeys {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.keys
}

// MaxVideoCapabilities returns the last declared capability string.
func (e *Element) MaxVideoCapabilities() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxCaps
}

func (e *Element) raiseEncrypted(ev keysystem.EncryptionInitialization) {
	e.log.Debug("encrypted event", slog.String("init_data_type", ev.InitDataType))
	e.encrypted.emit(ev)
}
