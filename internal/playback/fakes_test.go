package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"playback-orchestrator/internal/fetch"
	"playback-orchestrator/internal/keysystem"
	"playback-orchestrator/internal/media"
	"playback-orchestrator/internal/platform/logger"
)

const (
	drmVideoType   = `video/mp4; codecs="avc1.640028"`
	clearVideoType = `video/webm; codecs="vp9"`
	clearAudioType = `audio/mp4; codecs="mp4a.40.2"`
	licenseURL     = "http://license.test/widevine"
)

var errRejected = errors.New("NotSupportedError")

// eventLog records host interactions in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) index(event string) int {
	for i, e := range l.all() {
		if e == event {
			return i
		}
	}
	return -1
}

func (l *eventLog) count(event string) int {
	n := 0
	for _, e := range l.all() {
		if e == event {
			n++
		}
	}
	return n
}

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

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

type fakeKeySession struct {
	log      *eventLog
	messages listeners[keysystem.LicenseChallenge]
	mu       sync.Mutex
	licenses [][]byte
}

func (s *fakeKeySession) GenerateRequest(ctx context.Context, initDataType string, initData []byte) error {
	s.log.add("generate_request:%s", initDataType)
	s.messages.emit(keysystem.LicenseChallenge{MessageType: "license-request", Message: append([]byte("challenge:"), initData...)})
	return nil
}

func (s *fakeKeySession) OnMessage(fn func(keysystem.LicenseChallenge)) func() {
	return s.messages.add(fn)
}

func (s *fakeKeySession) Update(ctx context.Context, license []byte) error {
	s.mu.Lock()
	s.licenses = append(s.licenses, license)
	s.mu.Unlock()
	s.log.add("update_session")
	return nil
}

func (s *fakeKeySession) Close() error {
	s.log.add("key_session_closed")
	return nil
}

type fakeMediaKeys struct {
	keySystem string
	session   *fakeKeySession
}

func (k *fakeMediaKeys) CreateSession() (keysystem.KeySession, error) {
	return k.session, nil
}

type fakeAccess struct {
	keySystem string
	keys      *fakeMediaKeys
}

func (a *fakeAccess) KeySystem() string { return a.keySystem }
func (a *fakeAccess) CreateMediaKeys(ctx context.Context) (keysystem.MediaKeys, error) {
	return a.keys, nil
}

type fakeSourceBuffer struct {
	contentType string
	source      *fakeMediaSource
}

func (b *fakeSourceBuffer) AppendBuffer(ctx context.Context, data []byte) error {
	if string(data) == "corrupt" {
		b.source.log.add("append_rejected:%s", kind(b.contentType))
		return errors.New("CHUNK_DEMUXER_ERROR_APPEND_FAILED")
	}
	if el := b.source.boundElement(); el != nil && kind(b.contentType) == "video" {
		for _, data := range el.encryptedInit {
			el.encrypted.emit(keysystem.EncryptionInitialization{InitDataType: keysystem.InitDataTypeCENC, InitData: data})
		}
	}
	b.source.log.add("append:%s", kind(b.contentType))
	return nil
}

type fakeMediaSource struct {
	log     *eventLog
	ready   chan struct{}
	mu      sync.Mutex
	element *fakeElement
}

func (m *fakeMediaSource) boundElement() *fakeElement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.element
}

func (m *fakeMediaSource) Ready() <-chan struct{} { return m.ready }

func (m *fakeMediaSource) AddSourceBuffer(contentType string) (SourceBuffer, error) {
	m.log.add("add_source_buffer:%s", kind(contentType))
	return &fakeSourceBuffer{contentType: contentType, source: m}, nil
}

func (m *fakeMediaSource) EndOfStream() error {
	m.log.add("end_of_stream")
	return nil
}

func (m *fakeMediaSource) Close() error {
	m.log.add("source_closed")
	return nil
}

type fakeElement struct {
	id            string
	log           *eventLog
	encrypted     listeners[keysystem.EncryptionInitialization]
	encryptedInit [][]byte
	maxCaps       string
	playErr       error
}

func (e *fakeElement) SetMediaKeys(ctx context.Context, keys keysystem.MediaKeys) error {
	if keys == nil {
		e.log.add("detach_media_keys")
		return nil
	}
	e.log.add("set_media_keys")
	return nil
}

func (e *fakeElement) OnEncrypted(fn func(keysystem.EncryptionInitialization)) func() {
	return e.encrypted.add(fn)
}

func (e *fakeElement) SetSource(src MediaSource) error {
	if src == nil {
		e.log.add("detach_source")
		return nil
	}
	ms := src.(*fakeMediaSource)
	ms.mu.Lock()
	ms.element = e
	ms.mu.Unlock()
	e.log.add("set_source")
	close(ms.ready)
	return nil
}

func (e *fakeElement) Play(ctx context.Context) error {
	if e.playErr != nil {
		return e.playErr
	}
	e.log.add("play")
	return nil
}

func (e *fakeElement) SetMaxVideoCapabilities(caps string) error {
	e.maxCaps = caps
	e.log.add("max_video_capabilities")
	return nil
}

type fakeHost struct {
	log        *eventLog
	allow      map[string]bool
	elements   map[string]*fakeElement
	keySession *fakeKeySession
	sourceErr  error

	mu      sync.Mutex
	configs []keysystem.Configuration
}

func newFakeHost(allow ...string) *fakeHost {
	log := &eventLog{}
	h := &fakeHost{
		log:        log,
		allow:      make(map[string]bool),
		elements:   make(map[string]*fakeElement),
		keySession: &fakeKeySession{log: log},
	}
	for _, ks := range allow {
		h.allow[ks] = true
	}
	for _, id := range []string{PrimaryElementID, "secondary-video-1"} {
		h.elements[id] = &fakeElement{id: id, log: log}
	}
	return h
}

func (h *fakeHost) IsTypeSupported(contentType string) bool {
	return !strings.Contains(contentType, "tunnelmode=invalid") && (strings.HasPrefix(contentType, "video/") || strings.HasPrefix(contentType, "audio/"))
}

func (h *fakeHost) RequestMediaKeySystemAccess(ctx context.Context, keySystem string, configs []keysystem.Configuration) (keysystem.Access, error) {
	h.mu.Lock()
	h.configs = configs
	h.mu.Unlock()
	h.log.add("access:%s", keySystem)
	if !h.allow[keySystem] {
		return nil, errRejected
	}
	return &fakeAccess{keySystem: keySystem, keys: &fakeMediaKeys{keySystem: keySystem, session: h.keySession}}, nil
}

func (h *fakeHost) Element(id string) (Element, error) {
	el, ok := h.elements[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownElement, id)
	}
	return el, nil
}

func (h *fakeHost) NewMediaSource() (MediaSource, error) {
	if h.sourceErr != nil {
		return nil, h.sourceErr
	}
	h.log.add("new_media_source")
	return &fakeMediaSource{log: h.log, ready: make(chan struct{})}, nil
}

func (h *fakeHost) lastConfigs() []keysystem.Configuration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.configs
}

// fakeTransport is a license.Acquirer.
type fakeTransport struct {
	log *eventLog
	err error

	mu         sync.Mutex
	challenges [][]byte
}

func (t *fakeTransport) Acquire(ctx context.Context, endpoint string, challenge []byte) ([]byte, error) {
	t.mu.Lock()
	t.challenges = append(t.challenges, challenge)
	t.mu.Unlock()
	t.log.add("acquire:%s", endpoint)
	if t.err != nil {
		return nil, t.err
	}
	return append([]byte("license:"), challenge...), nil
}

func (t *fakeTransport) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.challenges)
}

// countingNegotiator wraps a Negotiator and counts calls.
type countingNegotiator struct {
	inner Negotiator
	mu    sync.Mutex
	n     int
}

func (c *countingNegotiator) Negotiate(ctx context.Context, primary bool, audioContentType, videoContentType string) (*keysystem.Handle, error) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return c.inner.Negotiate(ctx, primary, audioContentType, videoContentType)
}

func (c *countingNegotiator) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// stallingRequester never answers an access request before ctx ends.
type stallingRequester struct{}

func (stallingRequester) RequestMediaKeySystemAccess(ctx context.Context, keySystem string, configs []keysystem.Configuration) (keysystem.Access, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type mapFetcher map[string][]byte

func (f mapFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	data, ok := f[url]
	if !ok {
		return nil, fmt.Errorf("no payload for %s", url)
	}
	return data, nil
}

type testEnv struct {
	host       *fakeHost
	transport  *fakeTransport
	negotiator *countingNegotiator
	catalog    *media.Catalog
	cache      *fetch.Cache
	ctrl       *Controller
}

func newTestEnv(t *testing.T, allow ...string) *testEnv {
	t.Helper()
	catalog, err := media.NewCatalog(map[media.ID]media.Descriptor{
		"drm_video":   {ContentType: drmVideoType, URL: "http://media.test/drm.mp4", MaxVideoCapabilities: "width=1280; height=720", LicenseURL: licenseURL},
		"clear_video": {ContentType: clearVideoType, URL: "http://media.test/clear.webm", MaxVideoCapabilities: "width=320; height=240"},
		"clear_audio": {ContentType: clearAudioType, URL: "http://media.test/audio.mp4"},
		"bad_audio":   {ContentType: clearAudioType, URL: "http://media.test/bad.mp4"},
		"gone_video":  {ContentType: clearVideoType, URL: "http://media.test/gone.webm"},
	})
	if err != nil {
		t.Fatal(err)
	}
	fetcher := mapFetcher{
		"http://media.test/drm.mp4":    []byte("drm-video"),
		"http://media.test/clear.webm": []byte("clear-video"),
		"http://media.test/audio.mp4":  []byte("clear-audio"),
		"http://media.test/bad.mp4":    []byte("corrupt"),
	}

	log := logger.Discard()
	host := newFakeHost(allow...)
	transport := &fakeTransport{log: host.log}
	negotiator := &countingNegotiator{inner: keysystem.NewNegotiator(host, time.Second, log, nil)}
	cache := fetch.NewCache(catalog, fetcher, time.Second, log, nil)

	return &testEnv{
		host:       host,
		transport:  transport,
		negotiator: negotiator,
		catalog:    catalog,
		cache:      cache,
		ctrl:       NewController(host, catalog, cache, negotiator, transport, log, nil),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func kind(contentType string) string {
	if strings.HasPrefix(contentType, "audio/") {
		return "audio"
	}
	return "video"
}
