package headless

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"sync"

	"playback-orchestrator/internal/keysystem"
	"playback-orchestrator/internal/playback"

	"github.com/Eyevinn/mp4ff/mp4"
)

var (
	// ErrSourceClosed is returned by calls on a closed source, and by
	// AddSourceBuffer after end of stream.
	ErrSourceClosed = errors.New("media source closed")

	// ErrSourceNotOpen is returned when buffers are added before the source
	// is bound to an element.
	ErrSourceNotOpen = errors.New("media source not open")

	// ErrDemux is returned when an appended payload cannot be parsed.
	ErrDemux = errors.New("CHUNK_DEMUXER_ERROR_APPEND_FAILED")
)

// MediaSource implements playback.MediaSource.
type MediaSource struct {
	host  *Host
	log   *slog.Logger
	ready chan struct{}

	mu       sync.Mutex
	element  *Element
	ended    bool
	closed   bool
	buffered int
}

func newMediaSource(h *Host, log *slog.Logger) *MediaSource {
	return &MediaSource{host: h, log: log, ready: make(chan struct{})}
}

func (m *MediaSource) open(el *Element) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSourceClosed
	}
	if m.element != nil {
		if m.element == el {
			return nil
		}
		return fmt.Errorf("media source already bound to %s", m.element.id)
	}
	m.element = el
	close(m.ready)
	return nil
}

// Ready implements playback.MediaSource.
func (m *MediaSource) Ready() <-chan struct{} { return m.ready }

// AddSourceBuffer implements playback.MediaSource.
func (m *MediaSource) AddSourceBuffer(contentType string) (playback.SourceBuffer, error) {
	if !m.host.IsTypeSupported(contentType) {
		return nil, fmt.Errorf("unsupported source buffer type %q", contentType)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed || m.ended:
		return nil, ErrSourceClosed
	case m.element == nil:
		return nil, ErrSourceNotOpen
	}
	return &SourceBuffer{source: m, contentType: contentType}, nil
}

// EndOfStream implements playback.MediaSource.
func (m *MediaSource) EndOfStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.element == nil {
		return ErrSourceClosed
	}
	m.ended = true
	return nil
}

// Close implements playback.MediaSource.
func (m *MediaSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ended reports whether EndOfStream was called.
func (m *MediaSource) Ended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended
}

// Buffered returns the number of bytes appended across all buffers.
func (m *MediaSource) Buffered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffered
}

// SourceBuffer implements playback.SourceBuffer.
type SourceBuffer struct {
	source      *MediaSource
	contentType string
}

// AppendBuffer demuxes ISO-BMFF payloads and raises one "cenc" encrypted
// event on the element when the moov box carries pssh boxes. Other
// containers are buffered as is.
func (b *SourceBuffer) AppendBuffer(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrDemux)
	}

	var initData []byte
	if isISOBMFF(b.contentType) {
		psshs, err := moovPsshs(data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDemux, err)
		}
		if len(psshs) > 0 {
			if initData, err = encodePsshs(psshs); err != nil {
				return fmt.Errorf("%w: %w", ErrDemux, err)
			}
		}
	}

	m := b.source
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSourceClosed
	}
	// Appending to an ended source reopens it.
	m.ended = false
	m.buffered += len(data)
	el := m.element
	m.mu.Unlock()
	m.log.Debug("buffer appended",
		slog.String("content_type", b.contentType),
		slog.Int("bytes", len(data)),
		slog.Bool("encrypted", initData != nil))

	if initData != nil {
		el.raiseEncrypted(keysystem.EncryptionInitialization{
			InitDataType: keysystem.InitDataTypeCENC,
			InitData:     initData,
		})
	}
	return nil
}

func isISOBMFF(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasSuffix(mediaType, "/mp4")
}

// moovPsshs walks the top-level boxes of data and returns the pssh boxes of
// the first moov.
func moovPsshs(data []byte) ([]*mp4.PsshBox, error) {
	r := bytes.NewReader(data)
	var pos uint64
	for r.Len() > 0 {
		box, err := mp4.DecodeBox(pos, r)
		if err != nil {
			return nil, err
		}
		pos += box.Size()
		if moov, ok := box.(*mp4.MoovBox); ok {
			return moov.Psshs, nil
		}
	}
	return nil, nil
}

func encodePsshs(psshs []*mp4.PsshBox) ([]byte, error) {
	var buf bytes.Buffer
	for _, p := range psshs {
		if err := p.Encode(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
