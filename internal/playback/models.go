package playback

import (
	"playback-orchestrator/internal/media"
)

// PrimaryElementID names the main playback element. Every other element is
// secondary and may negotiate a lower-robustness key system.
const PrimaryElementID = "primary-video"

// DefaultAudioContentType is declared during key system negotiation when a
// session has no audio track (the opus_clear asset).
const DefaultAudioContentType = `audio/webm; codecs="opus"`

// SessionID uniquely identifies a playback session.
type SessionID string

// State is a playback session state.
type State string

const (
	StateIdle                  State = "idle"
	StateCapabilityProbed      State = "capability_probed"
	StateDecryptionEstablished State = "decryption_established"
	StateSourceAttached        State = "source_attached"
	StateBuffersPopulated      State = "buffers_populated"
	StatePlaying               State = "playing"
	StateFailed                State = "failed"
	StateClosed                State = "closed"
)

// Stage names the transition a SessionError happened in.
type Stage string

const (
	StageCapabilityProbe  Stage = "capability_probe"
	StageDecryption       Stage = "decryption"
	StageSourceAttach     Stage = "source_attach"
	StageBufferPopulation Stage = "buffer_population"
	StagePlay             Stage = "play"
	StageLicense          Stage = "license"
)

// Request asks for playback of VideoID (plus optional AudioID) on ElementID.
// This also matches the JSON body of POST /sessions.
type Request struct {
	ElementID string   `json:"element_id"`
	VideoID   media.ID `json:"video_id"`
	AudioID   media.ID `json:"audio_id,omitempty"`
}

// Primary reports whether the request targets the primary element.
func (r Request) Primary() bool {
	return r.ElementID == PrimaryElementID
}

// SessionView is the externally visible snapshot of a Session.
type SessionView struct {
	ID              SessionID `json:"id"`
	ElementID       string    `json:"element_id"`
	VideoID         media.ID  `json:"video_id"`
	AudioID         media.ID  `json:"audio_id,omitempty"`
	State           State     `json:"state"`
	Protected       bool      `json:"protected"`
	TunnelMode      bool      `json:"tunnel_mode"`
	KeySystem       string    `json:"key_system,omitempty"`
	LicensesApplied int       `json:"licenses_applied"`
	Stage           Stage     `json:"failed_stage,omitempty"`
	Error           string    `json:"error,omitempty"`
}
