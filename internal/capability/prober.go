// Package capability detects whether content can use the tunneled (secure)
// decode path.
package capability

// TypeSupporter answers isTypeSupported-style queries.
type TypeSupporter interface {
	IsTypeSupported(contentType string) bool
}

const (
	tunnelModeAttribute = "tunnelmode"
	tunnelModeSentinel  = "invalid"
	tunnelModeEnabled   = "true"
)

// TunnelModeContentType appends the tunnelmode attribute to contentType.
func TunnelModeContentType(contentType, value string) string {
	return contentType + "; " + tunnelModeAttribute + "=" + value
}

// Prober reports tunnel mode support for content types.
type Prober struct {
	host TypeSupporter
}

// NewProber returns a Prober querying host.
func NewProber(host TypeSupporter) *Prober {
	return &Prober{host: host}
}

// SupportsTunnelMode decides in three steps:
//  1. a content type that cannot be decoded at all is unsupported;
//  2. if the host accepts tunnelmode=invalid it ignores the attribute
//     altogether, so tunnel mode is unsupported;
//  3. otherwise the answer for tunnelmode=true is authoritative.
func (p *Prober) SupportsTunnelMode(contentType string) bool {
	if !p.host.IsTypeSupported(contentType) {
		return false
	}
	if p.host.IsTypeSupported(TunnelModeContentType(contentType, tunnelModeSentinel)) {
		return false
	}
	return p.host.IsTypeSupported(TunnelModeContentType(contentType, tunnelModeEnabled))
}
