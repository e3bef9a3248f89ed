package media

import (
	"errors"
	"strings"
)

// ID identifies one playable asset in a Catalog (e.g. "vp9-720p-mp4").
type ID string

// Descriptor describes one playable asset. Descriptors are immutable once
// loaded into a Catalog.
type Descriptor struct {
	// ContentType is the MIME type plus codec parameters,
	// e.g. `video/mp4; codecs="avc1.640028"`.
	ContentType string `yaml:"content_type"`
	URL         string `yaml:"url"`
	// MaxVideoCapabilities restricts the decoder, e.g. "width=1280; height=720".
	// Only meaningful for video.
	MaxVideoCapabilities string `yaml:"max_video_capabilities,omitempty"`
	// LicenseURL is set for protected content.
	LicenseURL string `yaml:"license_url,omitempty"`
}

// Protected reports whether playback needs a license exchange.
func (d Descriptor) Protected() bool {
	return d.LicenseURL != ""
}

// IsAudio reports whether the content type is an audio MIME type.
func (d Descriptor) IsAudio() bool {
	return strings.HasPrefix(strings.TrimSpace(d.ContentType), "audio/")
}

var (
	// ErrUnknownMedia is returned when an ID is not in the catalog.
	ErrUnknownMedia = errors.New("unknown media id")

	// ErrInvalidDescriptor is returned when a catalog entry lacks a content
	// type or URL.
	ErrInvalidDescriptor = errors.New("invalid media descriptor")
)
