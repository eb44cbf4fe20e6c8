package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"hls-relay/internal/hls"
	"hls-relay/internal/platform/metrics"
	"hls-relay/internal/session"
	"hls-relay/internal/upstream"
)

const (
	playlistContentType = "application/x-mpegurl"
	segmentContentType  = "video/MP2T"
	keyContentType      = "application/octet-stream"
	vttContentType      = "text/vtt; charset=utf-8"
	textContentType     = "text/plain; charset=utf-8"

	loginSuccess = "[SUCCESS]"
	loginFailed  = "[FAILED]"
)

// Sessions is the part of the session manager the HTTP layer drives.
// *session.Manager satisfies it.
type Sessions interface {
	State() session.State
	SendOTP(ctx context.Context, phone string) error
	Login(ctx context.Context, phone, otp string) bool
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Handler exposes the relay and login endpoints using go-chi.
type Handler struct {
	svc      *Service
	sessions Sessions
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Sessions, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, sessions Sessions, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, sessions: sessions, log: log, metrics: m}
}

// Mount registers every relay route on r under the service's prefix.
// loginPerMinute caps OTP and login calls per client IP; <= 0 disables it.
func (h *Handler) Mount(r chi.Router, loginPerMinute int) {
	routes := func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if loginPerMinute > 0 {
				r.Use(httprate.LimitByIP(loginPerMinute, time.Minute))
			}
			r.Get("/get_otp", h.SendOTP)
			r.Get("/createToken", h.Login)
		})
		r.Post("/logout", h.Logout)
		r.Post("/refresh", h.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)
			r.Get("/"+string(RouteChannel), h.Channel)
			r.Get("/"+string(RoutePlay), h.Play)
			r.Get("/"+string(RouteSegment), h.Segment)
			r.Get("/"+string(RouteKey), h.Key)
			r.Get("/"+string(RouteAudio), h.Audio)
			r.Get("/"+string(RouteSubtitles), h.Subtitles)
			r.Get("/"+string(RouteVTT), h.VTT)
			r.Get("/playlist.m3u", h.ChannelPlaylist)
		})
	}
	if h.svc.Prefix() == "" {
		r.Group(routes)
		return
	}
	r.Route(h.svc.Prefix(), routes)
}

// RequireSession rejects relay calls while there is no usable session:
// 401 when logged out, 410 when the session has expired.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch h.sessions.State() {
		case session.StateAuthenticated:
			next.ServeHTTP(w, r)
		case session.StateExpired:
			writeJSON(w, http.StatusGone, map[string]string{"error": session.ErrSessionExpired.Error()})
		default:
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": session.ErrNotAuthenticated.Error()})
		}
	})
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  h.sessions.State().String(),
	})
}

// Channel handles GET {prefix}/m3u8?cid=.
func (h *Handler) Channel(w http.ResponseWriter, r *http.Request) {
	cid := r.URL.Query().Get("cid")
	if _, err := strconv.Atoi(cid); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cid must be a channel number"})
		return
	}
	text, err := h.svc.Channel(r.Context(), cid)
	if err != nil {
		h.fail(w, r, RouteChannel, err)
		return
	}
	writeBody(w, playlistContentType, []byte(text))
}

// Play handles GET {prefix}/play.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	h.serveText(w, r, RoutePlay, playlistContentType, h.svc.Play)
}

// Audio handles GET {prefix}/get_audio.
func (h *Handler) Audio(w http.ResponseWriter, r *http.Request) {
	h.serveText(w, r, RouteAudio, playlistContentType, h.svc.Audio)
}

// Subtitles handles GET {prefix}/get_subs.
func (h *Handler) Subtitles(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.reference(w, r, RouteSubtitles)
	if !ok {
		return
	}
	text, err := h.svc.Subtitles(r.Context(), ref)
	if err != nil {
		h.fail(w, r, RouteSubtitles, err)
		return
	}
	ct := textContentType
	if IsWebVTT(text) {
		ct = vttContentType
	}
	writeBody(w, ct, []byte(text))
}

// VTT handles GET {prefix}/get_vtt.
func (h *Handler) VTT(w http.ResponseWriter, r *http.Request) {
	h.serveText(w, r, RouteVTT, vttContentType, h.svc.VTT)
}

// Segment handles GET {prefix}/get_ts.
func (h *Handler) Segment(w http.ResponseWriter, r *http.Request) {
	h.serveBinary(w, r, RouteSegment, segmentContentType, h.svc.Segment)
}

// Key handles GET {prefix}/get_key.
func (h *Handler) Key(w http.ResponseWriter, r *http.Request) {
	h.serveBinary(w, r, RouteKey, keyContentType, h.svc.Key)
}

// ChannelPlaylist handles GET {prefix}/playlist.m3u.
func (h *Handler) ChannelPlaylist(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	text, err := h.svc.ChannelPlaylist(r.Context(), scheme+"://"+r.Host)
	if err != nil {
		h.fail(w, r, "playlist", err)
		return
	}
	writeBody(w, playlistContentType, []byte(text))
}

// SendOTP handles GET {prefix}/get_otp?phone_no=.
func (h *Handler) SendOTP(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone_no")
	if phone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone_no is required"})
		return
	}
	if err := h.sessions.SendOTP(r.Context(), phone); err != nil {
		h.log.Warn("send otp failed", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", textContentType)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(loginFailed))
		return
	}
	writeBody(w, textContentType, []byte(loginSuccess))
}

// Login handles GET {prefix}/createToken?phone_number=&otp=. A rejected code
// is a normal outcome and answers 200 with [FAILED].
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	phone, otp := q.Get("phone_number"), q.Get("otp")
	if phone == "" || otp == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone_number and otp are required"})
		return
	}
	if !h.sessions.Login(r.Context(), phone, otp) {
		writeBody(w, textContentType, []byte(loginFailed))
		return
	}
	writeBody(w, textContentType, []byte(loginSuccess))
}

// Logout handles POST {prefix}/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil {
		h.log.Error("logout failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST {prefix}/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.Refresh(r.Context())
	if h.metrics != nil {
		h.metrics.ObserveRefresh(RefreshOutcome(err))
	}
	if err != nil {
		h.fail(w, r, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": h.sessions.State().String()})
}

func (h *Handler) reference(w http.ResponseWriter, r *http.Request, route Route) (ProxyReference, bool) {
	ref, err := ReferenceFromQuery(route, r.URL.Query())
	if err != nil {
		h.log.Debug("bad proxy reference", slog.String("route", string(route)), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return ProxyReference{}, false
	}
	return ref, true
}

func (h *Handler) serveText(w http.ResponseWriter, r *http.Request, route Route, contentType string,
	fn func(context.Context, ProxyReference) (string, error)) {
	ref, ok := h.reference(w, r, route)
	if !ok {
		return
	}
	text, err := fn(r.Context(), ref)
	if err != nil {
		h.fail(w, r, route, err)
		return
	}
	writeBody(w, contentType, []byte(text))
}

func (h *Handler) serveBinary(w http.ResponseWriter, r *http.Request, route Route, contentType string,
	fn func(context.Context, ProxyReference) ([]byte, error)) {
	ref, ok := h.reference(w, r, route)
	if !ok {
		return
	}
	body, err := fn(r.Context(), ref)
	if err != nil {
		h.fail(w, r, route, err)
		return
	}
	writeBody(w, contentType, body)
}

// fail logs err and answers with the status for its kind.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, route Route, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		h.log.Debug("client went away", slog.String("route", string(route)))
		return
	}
	status := StatusFor(err)
	attrs := []any{
		slog.String("route", string(route)),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("relay request failed", attrs...)
	} else {
		h.log.Info("relay request rejected", attrs...)
	}
	writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
}

// RefreshOutcome classifies a refresh result for metrics: a refresh with no
// session to refresh counts as skipped rather than failed.
func RefreshOutcome(err error) error {
	if errors.Is(err, session.ErrNotAuthenticated) {
		return fmt.Errorf("%w: %w", metrics.ErrSkipped, err)
	}
	return err
}

// StatusFor maps an error kind to the HTTP status a player sees.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadReference):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotAuthenticated), errors.Is(err, session.ErrRefreshFailed):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, hls.ErrMalformedManifest):
		return http.StatusBadGateway
	case upstream.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, upstream.ErrUpstreamUnavailable), errors.Is(err, upstream.ErrBadResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeBody sends a complete body. Bodies are fully built before this is
// called, so a player gets either all of it or an error status.
func writeBody(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
