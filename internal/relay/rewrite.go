package relay

import (
	"fmt"
	"strings"

	"hls-relay/internal/hls"
)

// RewriteContext is what the rewriter needs besides the manifest itself.
type RewriteContext struct {
	// ManifestURL is the URL the manifest was fetched from.
	ManifestURL string
	ChannelID   string
	Cookie      string
	RoutePrefix string
}

// Rewrite replaces every URI in m with a ProxyReference and returns how many
// entries it rewrote. Entries without a URI are left alone.
func Rewrite(m *hls.Manifest, rc RewriteContext) (int, error) {
	if !strings.Contains(rc.ManifestURL, "://") {
		return 0, fmt.Errorf("%w: manifest url %q is not absolute", ErrBadReference, rc.ManifestURL)
	}
	base := BaseURL(rc.ManifestURL)

	n := 0
	for _, e := range m.Entries {
		if !e.HasURI() {
			continue
		}
		route, ok := routeFor(m.Kind, e)
		if !ok {
			continue
		}
		target := Resolve(base, e.URI)
		if route == RouteSubtitles {
			target = normalizeSubtitleExt(target)
		}
		ref := ProxyReference{
			Route:     route,
			URI:       target,
			ChannelID: rc.ChannelID,
			Cookie:    rc.Cookie,
		}
		e.SetURI(ref.Path(rc.RoutePrefix))
		n++
	}
	return n, nil
}

// routeFor picks the relay entry point that serves e.
func routeFor(kind hls.Kind, e *hls.Entry) (Route, bool) {
	switch e.Type {
	case hls.EntrySegment:
		if kind == hls.KindSubtitle {
			return RouteSubtitles, true
		}
		return RouteSegment, true
	case hls.EntryMap:
		return RouteSegment, true
	case hls.EntryKey:
		if strings.EqualFold(e.Method, "NONE") {
			return "", false
		}
		return RouteKey, true
	case hls.EntryVariant:
		return RoutePlay, true
	case hls.EntryRendition:
		switch strings.ToUpper(e.MediaType) {
		case "AUDIO":
			return RouteAudio, true
		case "SUBTITLES":
			return RouteSubtitles, true
		case "VIDEO":
			return RoutePlay, true
		}
	}
	return "", false
}
