// Package relay turns vendor HLS streams into same-origin streams: it
// fetches playlists through the upstream client, rewrites every reference
// into a ProxyReference and serves the referenced bytes back unmodified.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hls-relay/internal/hls"
	"hls-relay/internal/platform/metrics"
	"hls-relay/internal/session"
	"hls-relay/internal/upstream"
)

// DefaultRetryBackoff is the pause before the single retry of a failed
// vendor call.
const DefaultRetryBackoff = 250 * time.Millisecond

// Upstream is the vendor client. *upstream.Client satisfies it.
type Upstream interface {
	NegotiateChannelURL(ctx context.Context, h http.Header, channelID string) (upstream.ChannelURL, error)
	FetchManifest(ctx context.Context, h http.Header, t upstream.Target) (string, error)
	FetchBinary(ctx context.Context, h http.Header, t upstream.Target) ([]byte, error)
	FetchText(ctx context.Context, h http.Header, t upstream.Target) (string, error)
	FetchChannels(ctx context.Context, h http.Header) ([]upstream.Channel, error)
}

// Headers supplies vendor headers per call kind. *session.Manager satisfies it.
type Headers interface {
	HeadersFor(kind session.CallKind) (http.Header, error)
}

// Service runs one relay request end to end. It holds no per-request state
// and is safe for concurrent use.
type Service struct {
	up      Upstream
	headers Headers
	prefix  string
	backoff time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRoutePrefix sets the path prefix of emitted proxy references.
func WithRoutePrefix(prefix string) ServiceOption {
	return func(s *Service) { s.prefix = strings.TrimRight(prefix, "/") }
}

// WithRetryBackoff sets the pause before retrying a failed vendor call.
func WithRetryBackoff(d time.Duration) ServiceOption {
	return func(s *Service) { s.backoff = d }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records rewrite and upstream failure counts in m.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService returns a Service fetching through up with headers from h.
func NewService(up Upstream, h Headers, opts ...ServiceOption) *Service {
	s := &Service{
		up:      up,
		headers: h,
		backoff: DefaultRetryBackoff,
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prefix is the route prefix references are emitted under.
func (s *Service) Prefix() string { return s.prefix }

// Channel negotiates the stream for channelID and returns its master
// playlist with every reference rewritten.
func (s *Service) Channel(ctx context.Context, channelID string) (string, error) {
	h, err := s.headers.HeadersFor(session.CallChannel)
	if err != nil {
		return "", err
	}
	cu, err := withRetry(ctx, s, "negotiate channel url", func() (upstream.ChannelURL, error) {
		return s.up.NegotiateChannelURL(ctx, h, channelID)
	})
	if err != nil {
		return "", err
	}
	// The vendor serves the master playlist to the negotiation headers,
	// without the stream cookie.
	text, err := withRetry(ctx, s, "fetch manifest", func() (string, error) {
		return s.up.FetchManifest(ctx, h, upstream.Target{URL: cu.ManifestURL})
	})
	if err != nil {
		return "", err
	}
	return s.rewrite(text, hls.KindMaster, false, RewriteContext{
		ManifestURL: cu.ManifestURL,
		ChannelID:   channelID,
		Cookie:      cu.Cookie,
	})
}

// Play returns the media playlist at ref rewritten.
func (s *Service) Play(ctx context.Context, ref ProxyReference) (string, error) {
	text, err := s.fetchManifest(ctx, ref)
	if err != nil {
		return "", err
	}
	return s.rewrite(text, hls.KindMedia, true, contextOf(ref))
}

// Audio returns the audio playlist at ref rewritten.
func (s *Service) Audio(ctx context.Context, ref ProxyReference) (string, error) {
	text, err := s.fetchManifest(ctx, ref)
	if err != nil {
		return "", err
	}
	return s.rewrite(text, hls.KindAudio, false, contextOf(ref))
}

// Subtitles serves both levels of a subtitle rendition: a subtitle playlist
// comes back rewritten, and the cue files it lists come back as is.
func (s *Service) Subtitles(ctx context.Context, ref ProxyReference) (string, error) {
	text, err := s.fetchText(ctx, ref)
	if err != nil {
		return "", err
	}
	if !isPlaylist(text) {
		return text, nil
	}
	return s.rewrite(text, hls.KindSubtitle, false, contextOf(ref))
}

// VTT returns the WebVTT cues at ref unmodified.
func (s *Service) VTT(ctx context.Context, ref ProxyReference) (string, error) {
	return s.fetchText(ctx, ref)
}

// Segment returns the media segment at ref unmodified.
func (s *Service) Segment(ctx context.Context, ref ProxyReference) ([]byte, error) {
	h, err := s.headers.HeadersFor(session.CallStream)
	if err != nil {
		return nil, err
	}
	return withRetry(ctx, s, "fetch segment", func() ([]byte, error) {
		return s.up.FetchBinary(ctx, h, targetOf(ref))
	})
}

// Key returns the key at ref unmodified.
func (s *Service) Key(ctx context.Context, ref ProxyReference) ([]byte, error) {
	h, err := s.headers.HeadersFor(session.CallStream)
	if err != nil {
		return nil, err
	}
	h.Set("Content-Type", "application/octet-stream")
	return withRetry(ctx, s, "fetch key", func() ([]byte, error) {
		return s.up.FetchBinary(ctx, h, targetOf(ref))
	})
}

// ChannelPlaylist returns the vendor catalogue as an M3U whose entries
// point at origin (scheme and host of this relay).
func (s *Service) ChannelPlaylist(ctx context.Context, origin string) (string, error) {
	h, err := s.headers.HeadersFor(session.CallChannel)
	if err != nil {
		return "", err
	}
	channels, err := withRetry(ctx, s, "fetch channels", func() ([]upstream.Channel, error) {
		return s.up.FetchChannels(ctx, h)
	})
	if err != nil {
		return "", err
	}
	return BuildChannelPlaylist(channels, strings.TrimRight(origin, "/")+s.prefix), nil
}

func (s *Service) fetchManifest(ctx context.Context, ref ProxyReference) (string, error) {
	h, err := s.headers.HeadersFor(session.CallStream)
	if err != nil {
		return "", err
	}
	return withRetry(ctx, s, "fetch manifest", func() (string, error) {
		return s.up.FetchManifest(ctx, h, targetOf(ref))
	})
}

func (s *Service) fetchText(ctx context.Context, ref ProxyReference) (string, error) {
	h, err := s.headers.HeadersFor(session.CallStream)
	if err != nil {
		return "", err
	}
	return withRetry(ctx, s, "fetch text", func() (string, error) {
		return s.up.FetchText(ctx, h, targetOf(ref))
	})
}

// rewrite parses text, rewrites it and serializes it. detect keeps the
// parser's own kind detection instead of forcing kind.
func (s *Service) rewrite(text string, kind hls.Kind, detect bool, rc RewriteContext) (string, error) {
	var (
		m   *hls.Manifest
		err error
	)
	if detect {
		m, err = hls.Parse(text)
	} else {
		m, err = hls.ParseAs(text, kind)
	}
	if err != nil {
		return "", fmt.Errorf("%s playlist from %s: %w", kind, hostOf(rc.ManifestURL), err)
	}

	rc.RoutePrefix = s.prefix
	n, err := Rewrite(m, rc)
	if err != nil {
		return "", err
	}
	if s.metrics != nil {
		s.metrics.IncManifestRewritten(m.Kind.String())
	}
	s.log.Debug("playlist rewritten",
		slog.String("kind", m.Kind.String()),
		slog.String("cid", rc.ChannelID),
		slog.Int("references", n))
	return m.String(), nil
}

// withRetry runs fn and, if it fails in a way worth retrying, runs it once
// more after the service's backoff.
func withRetry[T any](ctx context.Context, s *Service, op string, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil || !upstream.Retryable(err) {
		s.recordFailure(op, err)
		return v, err
	}
	s.recordFailure(op, err)
	s.log.Debug("retrying vendor call", slog.String("op", op), slog.String("error", err.Error()))

	t := time.NewTimer(s.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return v, err
	case <-t.C:
	}

	v, err = fn()
	s.recordFailure(op, err)
	return v, err
}

func (s *Service) recordFailure(op string, err error) {
	if err == nil || s.metrics == nil {
		return
	}
	var ue *upstream.Error
	if errors.As(err, &ue) {
		s.metrics.IncUpstreamFailure(op)
	}
}

// IsWebVTT reports whether text is a WebVTT file.
func IsWebVTT(text string) bool {
	return strings.HasPrefix(strings.TrimPrefix(text, "\ufeff"), "WEBVTT")
}

func isPlaylist(text string) bool {
	return strings.HasPrefix(strings.TrimPrefix(text, "\ufeff"), "#EXTM3U")
}

func contextOf(ref ProxyReference) RewriteContext {
	return RewriteContext{ManifestURL: ref.URI, ChannelID: ref.ChannelID, Cookie: ref.Cookie}
}

func targetOf(ref ProxyReference) upstream.Target {
	return upstream.Target{URL: ref.URI, ChannelID: ref.ChannelID, Cookie: ref.Cookie}
}

// hostOf keeps signed URLs out of error messages.
func hostOf(u string) string {
	_, rest, ok := strings.Cut(u, "://")
	if !ok {
		return "upstream"
	}
	host, _, _ := strings.Cut(rest, "/")
	return host
}
