package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"playback-orchestrator/internal/capability"
	"playback-orchestrator/internal/fetch"
	"playback-orchestrator/internal/keysystem"
	"playback-orchestrator/internal/license"
	"playback-orchestrator/internal/media"
	"playback-orchestrator/internal/platform/metrics"

	"golang.org/x/sync/errgroup"
)

// Negotiator obtains a decryption capability. *keysystem.Negotiator
// implements it.
type Negotiator interface {
	Negotiate(ctx context.Context, primary bool, audioContentType, videoContentType string) (*keysystem.Handle, error)
}

// PayloadSource returns encoded media payloads. *fetch.Cache implements it.
type PayloadSource interface {
	Get(ctx context.Context, id media.ID) ([]byte, error)
}

// Controller drives playback sessions through
// Idle → CapabilityProbed → (DecryptionEstablished) → SourceAttached →
// BuffersPopulated → Playing.
type Controller struct {
	host       Host
	catalog    fetch.Resolver
	payloads   PayloadSource
	negotiator Negotiator
	transport  license.Acquirer
	prober     *capability.Prober
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewController wires a Controller. m may be nil.
func NewController(host Host, catalog fetch.Resolver, payloads PayloadSource, negotiator Negotiator, transport license.Acquirer, log *slog.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		host:       host,
		catalog:    catalog,
		payloads:   payloads,
		negotiator: negotiator,
		transport:  transport,
		prober:     capability.NewProber(host),
		log:        log.With(slog.String("component", "controller")),
		metrics:    m,
	}
}

// Play runs a session up to the playing state. Lookup errors (unknown media
// or element, an audio id naming non-audio media) are returned as is; any later failure tears the session down
// and is returned as a *SessionError.
//
// The session outlives ctx once Play returns: license round trips continue
// until Close. Cancelling ctx while Play runs aborts the session.
func (c *Controller) Play(ctx context.Context, req Request) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	video, err := c.catalog.Lookup(req.VideoID)
	if err != nil {
		return nil, err
	}
	var audio *media.Descriptor
	if req.AudioID != "" {
		d, err := c.catalog.Lookup(req.AudioID)
		if err != nil {
			return nil, err
		}
		if !d.IsAudio() {
			return nil, fmt.Errorf("%w: %s", ErrNotAudio, req.AudioID)
		}
		audio = &d
	}
	el, err := c.host.Element(req.ElementID)
	if err != nil {
		return nil, err
	}

	s := newSession(ctx, req, video, el, c.log, c.metrics)
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	s.log.Info("session starting",
		slog.Bool("primary", req.Primary()),
		slog.Bool("protected", video.Protected()),
		slog.String("audio_id", string(req.AudioID)))

	if stage, err := c.run(s, el, video, audio); err != nil {
		// A background failure (license loop) cancels the session context;
		// fail keeps that first cause instead of the resulting ctx error.
		serr := s.fail(stage, err)
		s.Close()
		return nil, serr
	}
	if err := s.Err(); err != nil {
		s.Close()
		return nil, err
	}

	c.metrics.IncSessionsStarted()
	s.log.Info("session playing", slog.Bool("tunnel_mode", s.View().TunnelMode))
	return s, nil
}

func (c *Controller) run(s *Session, el Element, video media.Descriptor, audio *media.Descriptor) (Stage, error) {
	if err := c.probe(s, el, video); err != nil {
		return StageCapabilityProbe, err
	}
	if video.Protected() {
		if err := c.establishDecryption(s, el, video, audio); err != nil {
			return StageDecryption, err
		}
	}
	videoBuf, audioBuf, err := c.attachSource(s, el, video, audio)
	if err != nil {
		return StageSourceAttach, err
	}
	if err := c.populate(s, videoBuf, audioBuf); err != nil {
		return StageBufferPopulation, err
	}
	if err := el.Play(s.ctx); err != nil {
		return StagePlay, err
	}
	s.transition(StatePlaying)
	return "", nil
}

// probe records tunnel mode support. The content type is not rewritten; the
// result is informational.
func (c *Controller) probe(s *Session, el Element, video media.Descriptor) error {
	tunnel := c.prober.SupportsTunnelMode(video.ContentType)
	s.mu.Lock()
	s.tunnelMode = tunnel
	s.mu.Unlock()

	if !s.Request.Primary() && video.MaxVideoCapabilities != "" {
		if r, ok := el.(CapabilityRestricter); ok {
			if err := r.SetMaxVideoCapabilities(video.MaxVideoCapabilities); err != nil {
				return fmt.Errorf("set max video capabilities: %w", err)
			}
		}
	}
	s.transition(StateCapabilityProbed)
	return nil
}

func (c *Controller) establishDecryption(s *Session, el Element, video media.Descriptor, audio *media.Descriptor) error {
	audioContentType := DefaultAudioContentType
	if audio != nil {
		audioContentType = audio.ContentType
	}

	h, err := c.negotiator.Negotiate(s.ctx, s.Request.Primary(), audioContentType, video.ContentType)
	if err != nil {
		return err
	}
	if err := el.SetMediaKeys(s.ctx, h.Keys); err != nil {
		return fmt.Errorf("bind media keys: %w", err)
	}
	if err := s.setKeys(h); err != nil {
		el.SetMediaKeys(context.Background(), nil)
		return err
	}

	ks, err := h.Keys.CreateSession()
	if err != nil {
		return fmt.Errorf("create key session: %w", err)
	}
	ls := newLicenseSession(ks, video.LicenseURL, c.transport, s.log, c.metrics, func(err error) {
		s.abort(StageLicense, err)
	})
	ls.start(s.ctx, el)
	if err := s.setLicense(ls); err != nil {
		ls.close()
		return err
	}

	s.transition(StateDecryptionEstablished)
	return nil
}

func (c *Controller) attachSource(s *Session, el Element, video media.Descriptor, audio *media.Descriptor) (videoBuf, audioBuf SourceBuffer, err error) {
	ms, err := c.host.NewMediaSource()
	if err != nil {
		return nil, nil, fmt.Errorf("create media source: %w", err)
	}
	if err := s.setSource(ms); err != nil {
		ms.Close()
		return nil, nil, err
	}
	if err := el.SetSource(ms); err != nil {
		return nil, nil, fmt.Errorf("bind media source: %w", err)
	}

	select {
	case <-ms.Ready():
	case <-s.ctx.Done():
		return nil, nil, s.ctx.Err()
	}

	videoBuf, err = ms.AddSourceBuffer(video.ContentType)
	if err != nil {
		return nil, nil, fmt.Errorf("add video source buffer: %w", err)
	}
	if audio != nil {
		audioBuf, err = ms.AddSourceBuffer(audio.ContentType)
		if err != nil {
			return nil, nil, fmt.Errorf("add audio source buffer: %w", err)
		}
	}

	s.transition(StateSourceAttached)
	return videoBuf, audioBuf, nil
}

// populate fetches and appends audio and video concurrently. Only the video
// append gates end of stream; both must complete before populate returns.
func (c *Controller) populate(s *Session, videoBuf, audioBuf SourceBuffer) error {
	g, ctx := errgroup.WithContext(s.ctx)

	if audioBuf != nil {
		g.Go(func() error {
			return c.feed(ctx, audioBuf, s.Request.AudioID)
		})
	}
	g.Go(func() error {
		if err := c.feed(ctx, videoBuf, s.Request.VideoID); err != nil {
			return err
		}
		s.mu.Lock()
		src := s.source
		s.mu.Unlock()
		if err := src.EndOfStream(); err != nil {
			return fmt.Errorf("end of stream: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	s.transition(StateBuffersPopulated)
	return nil
}

func (c *Controller) feed(ctx context.Context, buf SourceBuffer, id media.ID) error {
	data, err := c.payloads.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := buf.AppendBuffer(ctx, data); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrAppendFailed, id, err)
	}
	return nil
}
