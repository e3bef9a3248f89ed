// Package headless is an in-process media host. It answers type support and
// key system queries, exposes named playback elements and demuxes appended
// ISO-BMFF payloads far enough to raise encryption-initialization events.
// It lets the orchestrator run against real media and license servers
// without a browser.
package headless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"sync"

	"playback-orchestrator/internal/keysystem"
	"playback-orchestrator/internal/playback"
)

// DefaultElements are the elements a Host exposes when none are configured.
var DefaultElements = []string{
	playback.PrimaryElementID,
	"secondary-video-1",
	"secondary-video-2",
	"secondary-video-3",
}

var (
	// ErrKeySystemUnsupported is returned for key systems outside the
	// configured set.
	ErrKeySystemUnsupported = errors.New("key system not supported")

	// ErrUnsupportedConfiguration is returned when no requested
	// configuration can be satisfied.
	ErrUnsupportedConfiguration = errors.New("unsupported key system configuration")
)

// Config selects what the host advertises.
type Config struct {
	KeySystems []string
	Elements   []string
}

// Host implements playback.Host.
type Host struct {
	keySystems map[string]struct{}
	log        *slog.Logger

	mu       sync.Mutex
	elements map[string]*Element
}

// New returns a Host. Elements defaults to DefaultElements.
func New(cfg Config, log *slog.Logger) *Host {
	log = log.With(slog.String("component", "headless_host"))
	names := cfg.Elements
	if len(names) == 0 {
		names = DefaultElements
	}
	h := &Host{
		keySystems: make(map[string]struct{}, len(cfg.KeySystems)),
		log:        log,
		elements:   make(map[string]*Element, len(names)),
	}
	for _, ks := range cfg.KeySystems {
		h.keySystems[ks] = struct{}{}
	}
	for _, name := range names {
		h.elements[name] = newElement(name, log)
	}
	return h
}

// IsTypeSupported reports whether contentType names an audio or video MIME
// type. Parameters are not interpreted.
func (h *Host) IsTypeSupported(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "audio/") || strings.HasPrefix(mediaType, "video/")
}

// RequestMediaKeySystemAccess grants configured key systems for the first
// configuration whose capabilities are all supported.
func (h *Host) RequestMediaKeySystemAccess(ctx context.Context, keySystem string, configs []keysystem.Configuration) (keysystem.Access, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := h.keySystems[keySystem]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeySystemUnsupported, keySystem)
	}
	for _, cfg := range configs {
		if h.supportsAll(cfg.AudioCapabilities) && h.supportsAll(cfg.VideoCapabilities) {
			h.log.Debug("key system access granted", slog.String("key_system", keySystem))
			return &access{keySystem: keySystem, log: h.log}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedConfiguration, keySystem)
}

func (h *Host) supportsAll(caps []keysystem.MediaCapability) bool {
	for _, c := range caps {
		if !h.IsTypeSupported(c.ContentType) {
			return false
		}
	}
	return true
}

// Element implements playback.Host.
func (h *Host) Element(id string) (playback.Element, error) {
	el, err := h.element(id)
	if err != nil {
		return nil, err
	}
	return el, nil
}

// LookupElement returns the concrete element named id.
func (h *Host) LookupElement(id string) (*Element, error) {
	return h.element(id)
}

func (h *Host) element(id string) (*Element, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	el, ok := h.elements[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", playback.ErrUnknownElement, id)
	}
	return el, nil
}

// NewMediaSource implements playback.Host.
func (h *Host) NewMediaSource() (playback.MediaSource, error) {
	return newMediaSource(h, h.log), nil
}
