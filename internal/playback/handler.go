package playback

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"playback-orchestrator/internal/fetch"
	"playback-orchestrator/internal/license"
	"playback-orchestrator/internal/media"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const (
	licenseContentType = "application/octet-stream"
	maxChallengeBytes  = 1 << 20
	licenseRateWindow  = time.Minute
)

// Handler exposes playback endpoints using go-chi.
type Handler struct {
	svc          *Service
	log          *slog.Logger
	licenseLimit int
}

// NewHandler returns a Handler that uses the given Service and Logger.
// licenseLimit caps license proxy requests per client IP per minute; zero
// disables the limit.
func NewHandler(svc *Service, log *slog.Logger, licenseLimit int) *Handler {
	return &Handler{svc: svc, log: log, licenseLimit: licenseLimit}
}

// Routes mounts the playback endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/launch", h.Launch)
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.StartSession)
		r.Get("/{session_id}", h.GetSession)
		r.Delete("/{session_id}", h.EndSession)
	})
	r.Route("/media/{media_id}", func(r chi.Router) {
		r.Get("/", h.GetMedia)
		r.With(h.licenseRateLimit()).Post("/license", h.ProxyLicense)
	})
}

func (h *Handler) licenseRateLimit() func(http.Handler) http.Handler {
	if h.licenseLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		h.licenseLimit,
		licenseRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(licenseRateWindow.Seconds())))
			h.writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "license rate limit exceeded"})
		}),
	)
}

type errorBody struct {
	Error string `json:"error"`
	Stage Stage  `json:"stage,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}

// writeError maps domain errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		serr    *SessionError
		licErr  *license.ServerError
		status  = http.StatusInternalServerError
		payload = errorBody{Error: err.Error()}
	)
	switch {
	case errors.As(err, &serr):
		status = http.StatusBadGateway
		payload.Stage = serr.Stage
	case errors.Is(err, media.ErrUnknownMedia),
		errors.Is(err, ErrUnknownElement),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrNotProtected):
		status = http.StatusNotFound
	case errors.Is(err, ErrNotAudio):
		status = http.StatusBadRequest
	case errors.As(err, &licErr), errors.Is(err, fetch.ErrFetchFailed):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("error", err.Error()))
	}
	h.writeJSON(w, status, payload)
}

// StartSession handles POST /sessions.
// Body: { "element_id": "primary-video", "video_id": "h264_720p_60fps_drm", "audio_id": "aac_clear" }.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid session body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.ElementID == "" || req.VideoID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sess, err := h.svc.StartSession(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sess.View())
}

// GetSession handles GET /sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	sess, ok := h.svc.GetSession(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, sess.View())
}

// EndSession handles DELETE /sessions/{session_id}.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	if err := h.svc.EndSession(id); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		// The session is unregistered even if teardown reported an error.
		h.log.Warn("session teardown reported errors",
			slog.String("session_id", string(id)),
			slog.String("error", err.Error()))
	}
	h.log.Info("session ended", slog.String("session_id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

// Launch handles POST /launch?video0=..&video1=..&video2=..&video3=..&audio=..
func (h *Handler) Launch(w http.ResponseWriter, r *http.Request) {
	plan := ParseLaunchPlan(r.URL.Query())
	sess, err := h.svc.Launch(r.Context(), plan)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sess.View())
}

// GetMedia handles GET /media/{media_id}.
func (h *Handler) GetMedia(w http.ResponseWriter, r *http.Request) {
	id := media.ID(chi.URLParam(r, "media_id"))
	d, data, err := h.svc.MediaPayload(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", d.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ProxyLicense handles POST /media/{media_id}/license. The body is the
// opaque license challenge; the response is the extracted license.
func (h *Handler) ProxyLicense(w http.ResponseWriter, r *http.Request) {
	id := media.ID(chi.URLParam(r, "media_id"))
	challenge, err := io.ReadAll(io.LimitReader(r.Body, maxChallengeBytes))
	if err != nil || len(challenge) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	lic, err := h.svc.ProxyLicense(r.Context(), id, challenge)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", licenseContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(lic)
}
