package hls

import "strings"

// attribute is one KEY=VALUE pair of an HLS attribute list. start and end are
// byte offsets of the value (without quotes) inside the list it was parsed from.
type attribute struct {
	key        string
	value      string
	start, end int
}

// parseAttributes splits an attribute list such as
// `TYPE=AUDIO,GROUP-ID="aac",NAME="English, main",URI="a.m3u8"`.
// Quoted values may contain commas. Malformed trailing input is ignored.
func parseAttributes(s string) []attribute {
	var attrs []attribute
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ',' || s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			break
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(s[i : i+eq])
		i += eq + 1

		if i < len(s) && s[i] == '"' {
			closing := strings.IndexByte(s[i+1:], '"')
			if closing < 0 {
				attrs = append(attrs, attribute{key: key, value: s[i+1:], start: i + 1, end: len(s)})
				break
			}
			attrs = append(attrs, attribute{key: key, value: s[i+1 : i+1+closing], start: i + 1, end: i + 1 + closing})
			i += closing + 2
			continue
		}

		end := strings.IndexByte(s[i:], ',')
		if end < 0 {
			end = len(s) - i
		}
		attrs = append(attrs, attribute{key: key, value: s[i : i+end], start: i, end: i + end})
		i += end
	}
	return attrs
}

func attributeMap(attrs []attribute) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.key] = a.value
	}
	return m
}

func findAttribute(attrs []attribute, key string) (attribute, bool) {
	for _, a := range attrs {
		if a.key == key {
			return a, true
		}
	}
	return attribute{}, false
}
