package playback

import (
	"errors"
	"fmt"
)

var (
	// ErrAppendFailed is returned when a source buffer rejects a payload,
	// e.g. on a codec mismatch.
	ErrAppendFailed = errors.New("source buffer append failed")

	// ErrUnknownElement is returned by hosts for an unknown element id.
	ErrUnknownElement = errors.New("unknown playback element")

	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when a resource is attached to a session
	// that has already been torn down.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotProtected is returned when a license is requested for clear media.
	ErrNotProtected = errors.New("media has no license endpoint")

	// ErrDuplicateSession is returned when a session id is registered twice.
	ErrDuplicateSession = errors.New("session already registered")

	// ErrNotAudio is returned when a request's audio id names a descriptor
	// whose content type is not audio.
	ErrNotAudio = errors.New("media is not audio")
)

// SessionError reports the stage at which a session was aborted.
type SessionError struct {
	Stage Stage
	Cause error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("playback session failed at %s: %v", e.Stage, e.Cause)
}

func (e *SessionError) Unwrap() error {
	return e.Cause
}
