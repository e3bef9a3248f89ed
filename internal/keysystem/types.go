// Package keysystem negotiates access to a content decryption system and
// defines the encrypted-media collaborator interfaces the host provides.
package keysystem

import (
	"context"
	"errors"
)

// Key system identifiers.
const (
	Widevine   = "com.widevine.alpha"
	WidevineL3 = "com.youtube.widevine.l3"
)

// Init data types requested during negotiation.
const (
	InitDataTypeCENC = "cenc"
	InitDataTypeWebM = "webm"
)

var (
	// ErrNoUsableKeySystem is returned when every candidate key system failed.
	ErrNoUsableKeySystem = errors.New("no usable key system")

	// ErrNegotiationTimeout marks an access request the host never resolved.
	ErrNegotiationTimeout = errors.New("key system negotiation timed out")
)

// MediaCapability is one acceptable content type.
type MediaCapability struct {
	ContentType string
}

// Configuration is a requested capability set.
type Configuration struct {
	InitDataTypes     []string
	AudioCapabilities []MediaCapability
	VideoCapabilities []MediaCapability
}

// EncryptionInitialization is emitted by a media element when the decoder
// meets encrypted content it has no key for.
type EncryptionInitialization struct {
	InitDataType string
	InitData     []byte
}

// LicenseChallenge is emitted by a key session when it needs a license.
type LicenseChallenge struct {
	MessageType string
	Message     []byte
}

// Requester is the host's key system access entry point.
type Requester interface {
	RequestMediaKeySystemAccess(ctx context.Context, keySystem string, configs []Configuration) (Access, error)
}

// Access is a granted key system.
type Access interface {
	KeySystem() string
	CreateMediaKeys(ctx context.Context) (MediaKeys, error)
}

// MediaKeys is the decryption capability that gets bound to a media element.
type MediaKeys interface {
	CreateSession() (KeySession, error)
}

// KeySession is one license session within MediaKeys.
type KeySession interface {
	// GenerateRequest asks the CDM for a license challenge for initData.
	// The challenge arrives through the OnMessage listeners.
	GenerateRequest(ctx context.Context, initDataType string, initData []byte) error
	// OnMessage registers fn for license challenges and returns a function
	// that removes it.
	OnMessage(fn func(LicenseChallenge)) (remove func())
	// Update applies license bytes.
	Update(ctx context.Context, license []byte) error
	Close() error
}

// Handle is a negotiated, usable decryption capability.
type Handle struct {
	KeySystem string
	Keys      MediaKeys
}
