package relay

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Route names a relay entry point.
type Route string

const (
	RouteChannel   Route = "m3u8"
	RoutePlay      Route = "play"
	RouteSegment   Route = "get_ts"
	RouteKey       Route = "get_key"
	RouteAudio     Route = "get_audio"
	RouteSubtitles Route = "get_subs"
	RouteVTT       Route = "get_vtt"
)

// ErrBadReference is returned for a proxy request whose parameters cannot
// identify an upstream resource.
var ErrBadReference = errors.New("bad proxy reference")

// ProxyReference is a same-origin URL that carries everything needed to
// fetch one upstream resource: its absolute URL, the channel and the cookie.
type ProxyReference struct {
	Route     Route
	URI       string
	ChannelID string
	Cookie    string
}

// queryEscaper escapes only the characters that would change how a query
// string splits or decodes. Everything else stays readable.
var queryEscaper = strings.NewReplacer(
	"%", "%25",
	"&", "%26",
	"+", "%2B",
	"#", "%23",
	" ", "%20",
	";", "%3B",
)

// Path renders the reference under prefix, e.g.
// /tv/play?uri=https://cdn/ch1/low/index.m3u8&cid=12&cookie=abc.
func (p ProxyReference) Path(prefix string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(prefix, "/"))
	b.WriteByte('/')
	b.WriteString(string(p.Route))
	b.WriteString("?uri=")
	b.WriteString(queryEscaper.Replace(p.URI))
	b.WriteString("&cid=")
	b.WriteString(queryEscaper.Replace(p.ChannelID))
	b.WriteString("&cookie=")
	b.WriteString(queryEscaper.Replace(p.Cookie))
	return b.String()
}

// ReferenceFromQuery rebuilds the reference a player sent back to route.
func ReferenceFromQuery(route Route, q url.Values) (ProxyReference, error) {
	ref := ProxyReference{
		Route:     route,
		URI:       q.Get("uri"),
		ChannelID: q.Get("cid"),
		Cookie:    q.Get("cookie"),
	}
	u, err := url.Parse(ref.URI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ProxyReference{}, fmt.Errorf("%w: uri must be an absolute http(s) URL", ErrBadReference)
	}
	if ref.ChannelID == "" {
		return ProxyReference{}, fmt.Errorf("%w: missing cid", ErrBadReference)
	}
	if ref.Cookie == "" {
		return ProxyReference{}, fmt.Errorf("%w: missing cookie", ErrBadReference)
	}
	return ref, nil
}

// BaseURL strips the query, fragment and last path element from a manifest
// URL: https://host/path/index.m3u8?x=1 becomes https://host/path.
func BaseURL(manifestURL string) string {
	s, _, _ := strings.Cut(manifestURL, "#")
	s, _, _ = strings.Cut(s, "?")
	if i := strings.LastIndex(s, "/"); i >= 0 && i > strings.Index(s, "://")+2 {
		return s[:i]
	}
	return s
}

// Resolve makes ref absolute against base (as returned by BaseURL).
// Absolute refs are returned unchanged.
func Resolve(base, ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return base + "/" + ref
	}
	if r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base + "/")
	if err != nil {
		return base + "/" + ref
	}
	return b.ResolveReference(r).String()
}

// normalizeSubtitleExt maps the vendor's .webvtt cue files to the .vtt
// name it also serves them under.
func normalizeSubtitleExt(u string) string {
	path, rest, hasQuery := strings.Cut(u, "?")
	if !strings.HasSuffix(path, ".webvtt") {
		return u
	}
	path = strings.TrimSuffix(path, ".webvtt") + ".vtt"
	if hasQuery {
		return path + "?" + rest
	}
	return path
}
