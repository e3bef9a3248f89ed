package playback

import (
	"context"

	"playback-orchestrator/internal/capability"
	"playback-orchestrator/internal/keysystem"
)

// Host is the media platform a Controller drives: capability queries, key
// system access, playback elements and media sources.
type Host interface {
	capability.TypeSupporter
	keysystem.Requester

	// Element returns the playback element named id, or an error matching
	// ErrUnknownElement.
	Element(id string) (Element, error)
	NewMediaSource() (MediaSource, error)
}

// Element is a playback element.
type Element interface {
	// SetMediaKeys binds a decryption capability; nil detaches it.
	SetMediaKeys(ctx context.Context, keys keysystem.MediaKeys) error
	// OnEncrypted registers fn for encryption-initialization events and
	// returns a function that removes it.
	OnEncrypted(fn func(keysystem.EncryptionInitialization)) (remove func())
	// SetSource binds a media source; nil detaches it.
	SetSource(src MediaSource) error
	Play(ctx context.Context) error
}

// CapabilityRestricter is implemented by elements that accept a maximum
// video capability declaration such as "width=1280; height=720".
type CapabilityRestricter interface {
	SetMaxVideoCapabilities(caps string) error
}

// MediaSource is a buffering pipeline attached to one element.
type MediaSource interface {
	// Ready is closed once the source is open and accepts source buffers.
	Ready() <-chan struct{}
	AddSourceBuffer(contentType string) (SourceBuffer, error)
	EndOfStream() error
	Close() error
}

// SourceBuffer is an append-only per-track buffer.
type SourceBuffer interface {
	// AppendBuffer returns once data is fully appended (updateend) or
	// rejected.
	AppendBuffer(ctx context.Context, data []byte) error
}
