// Package hls parses HLS playlists into the elements that carry URIs and
// re-emits the original text with selected URIs substituted. Every byte the
// parser does not model is written back unchanged.
package hls

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const headerTag = "#EXTM3U"

// ErrMalformedManifest is returned when the input is not an HLS playlist.
var ErrMalformedManifest = errors.New("malformed manifest")

// Kind is the shape of a playlist.
type Kind int

const (
	KindMedia Kind = iota
	KindMaster
	KindAudio
	KindSubtitle
)

func (k Kind) String() string {
	switch k {
	case KindMaster:
		return "master"
	case KindAudio:
		return "audio"
	case KindSubtitle:
		return "subtitle"
	default:
		return "media"
	}
}

// EntryType identifies a modeled playlist element.
type EntryType int

const (
	EntrySegment EntryType = iota
	EntryMap
	EntryKey
	EntryVariant
	EntryRendition
)

func (t EntryType) String() string {
	switch t {
	case EntryMap:
		return "map"
	case EntryKey:
		return "key"
	case EntryVariant:
		return "variant"
	case EntryRendition:
		return "rendition"
	default:
		return "segment"
	}
}

// Entry is a playlist element that may reference another resource.
type Entry struct {
	Type EntryType
	URI  string

	// Duration and Title are set for segments (#EXTINF).
	Duration float64
	Title    string
	// Method is set for keys (#EXT-X-KEY, #EXT-X-SESSION-KEY).
	Method string
	// MediaType is the TYPE of a rendition (#EXT-X-MEDIA): AUDIO, SUBTITLES, ...
	MediaType string
	// Attributes holds the tag's attribute list, if it has one.
	Attributes map[string]string

	line       int
	start, end int // URI offsets in the line, start < 0 when the entry has no URI
	replaced   bool
}

// HasURI reports whether the entry references a resource.
func (e *Entry) HasURI() bool {
	return e.start >= 0 && e.URI != ""
}

// SetURI substitutes uri for the entry's URI text on serialization.
// It is a no-op for entries without a URI.
func (e *Entry) SetURI(uri string) {
	if !e.HasURI() {
		return
	}
	e.URI = uri
	e.replaced = true
}

// Manifest is a parsed playlist. It is built per request and never shared.
type Manifest struct {
	Kind    Kind
	Entries []*Entry

	lines []string
}

// Parse reads an HLS playlist. The kind is detected from the content: any
// variant stream or rendition tag makes it a master playlist, WebVTT segments
// make it a subtitle playlist, anything else is a media playlist.
func Parse(text string) (*Manifest, error) {
	body := strings.TrimPrefix(text, "\ufeff")
	if !strings.HasPrefix(body, headerTag) {
		return nil, fmt.Errorf("%w: missing %s header", ErrMalformedManifest, headerTag)
	}

	m := &Manifest{lines: strings.SplitAfter(text, "\n")}
	master := m.scan()

	switch {
	case master:
		m.Kind = KindMaster
	case m.hasSubtitleSegments():
		m.Kind = KindSubtitle
	default:
		m.Kind = KindMedia
	}
	return m, nil
}

// ParseAs parses text and sets its kind to kind, for callers that know the
// role of the playlist from how it was reached.
func ParseAs(text string, kind Kind) (*Manifest, error) {
	m, err := Parse(text)
	if err != nil {
		return nil, err
	}
	m.Kind = kind
	return m, nil
}

// scan records every modeled entry and reports whether master tags were seen.
func (m *Manifest) scan() bool {
	var pending *Entry
	master := false

	for i, raw := range m.lines {
		content := strings.TrimRight(raw, "\r\n")
		trimmed := strings.TrimLeft(content, " \t")
		lead := len(content) - len(trimmed)
		trimmed = strings.TrimRight(trimmed, " \t")
		if trimmed == "" {
			continue
		}

		if !strings.HasPrefix(trimmed, "#") {
			if pending != nil {
				pending.URI = trimmed
				pending.line = i
				pending.start = lead
				pending.end = lead + len(trimmed)
				m.Entries = append(m.Entries, pending)
				pending = nil
			}
			continue
		}

		tag, value, _ := strings.Cut(trimmed, ":")
		valueOffset := lead + len(tag) + 1

		switch tag {
		case "#EXTINF":
			e := &Entry{Type: EntrySegment, start: -1}
			durText, title, _ := strings.Cut(value, ",")
			e.Duration, _ = strconv.ParseFloat(strings.TrimSpace(durText), 64)
			e.Title = title
			pending = e

		case "#EXT-X-STREAM-INF":
			master = true
			pending = &Entry{Type: EntryVariant, start: -1, Attributes: attributeMap(parseAttributes(value))}

		case "#EXT-X-I-FRAME-STREAM-INF":
			master = true
			m.addTagEntry(&Entry{Type: EntryVariant}, i, value, valueOffset)

		case "#EXT-X-MEDIA":
			master = true
			e := &Entry{Type: EntryRendition}
			m.addTagEntry(e, i, value, valueOffset)
			e.MediaType = e.Attributes["TYPE"]

		case "#EXT-X-KEY", "#EXT-X-SESSION-KEY":
			e := &Entry{Type: EntryKey}
			m.addTagEntry(e, i, value, valueOffset)
			e.Method = e.Attributes["METHOD"]

		case "#EXT-X-MAP":
			m.addTagEntry(&Entry{Type: EntryMap}, i, value, valueOffset)
		}
	}
	return master
}

// addTagEntry fills e from a tag's attribute list, locating its URI attribute.
func (m *Manifest) addTagEntry(e *Entry, line int, value string, valueOffset int) {
	attrs := parseAttributes(value)
	e.Attributes = attributeMap(attrs)
	e.line = line
	e.start = -1
	if a, ok := findAttribute(attrs, "URI"); ok {
		e.URI = a.value
		e.start = valueOffset + a.start
		e.end = valueOffset + a.end
	}
	m.Entries = append(m.Entries, e)
}

func (m *Manifest) hasSubtitleSegments() bool {
	for _, e := range m.Entries {
		if e.Type != EntrySegment {
			continue
		}
		p, _, _ := strings.Cut(e.URI, "?")
		if strings.HasSuffix(p, ".vtt") || strings.HasSuffix(p, ".webvtt") {
			return true
		}
	}
	return false
}

// EntriesOf returns the entries of type t in playlist order.
func (m *Manifest) EntriesOf(t EntryType) []*Entry {
	var out []*Entry
	for _, e := range m.Entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// String serializes the manifest. Without substitutions the output is the
// parsed input, byte for byte.
func (m *Manifest) String() string {
	edits := make(map[int][]*Entry)
	for _, e := range m.Entries {
		if e.replaced {
			edits[e.line] = append(edits[e.line], e)
		}
	}

	var b strings.Builder
	for i, line := range m.lines {
		es, ok := edits[i]
		if !ok {
			b.WriteString(line)
			continue
		}
		// Splice from the right so earlier offsets stay valid.
		sort.Slice(es, func(a, c int) bool { return es[a].start > es[c].start })
		for _, e := range es {
			line = line[:e.start] + e.URI + line[e.end:]
		}
		b.WriteString(line)
	}
	return b.String()
}
