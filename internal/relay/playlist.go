package relay

import (
	"strconv"
	"strings"

	"hls-relay/internal/upstream"
)

// LogoBaseURL prefixes the catalogue's relative logo names.
const LogoBaseURL = "http://jiotv.catchup.cdn.jio.com/dare_images/images/"

var genres = map[int]string{
	5:  "Entertainment",
	6:  "Movies",
	7:  "Kids",
	8:  "Sports",
	9:  "Lifestyle",
	10: "Infotainment",
	12: "News",
	13: "Music",
	15: "Devotional",
	16: "Business",
	17: "Educational",
	18: "Shopping",
	19: "JioDarshan",
}

// Genre returns the display name of a catalogue category.
func Genre(categoryID int) string {
	if g, ok := genres[categoryID]; ok {
		return g
	}
	return "Other"
}

// BuildChannelPlaylist renders the channel catalogue as an extended M3U
// whose entries point at the relay's channel route under origin
// (scheme, host and route prefix, e.g. http://10.0.0.2:8080/tv).
func BuildChannelPlaylist(channels []upstream.Channel, origin string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")

	origin = strings.TrimRight(origin, "/")
	for _, ch := range channels {
		id := strconv.Itoa(ch.ID)
		b.WriteString(`#EXTINF:-1 tvg-id="`)
		b.WriteString(id)
		b.WriteString(`" group-title="`)
		b.WriteString(Genre(ch.CategoryID))
		b.WriteString(`" tvg-logo="`)
		b.WriteString(LogoBaseURL)
		b.WriteString(ch.Logo)
		b.WriteString(`",`)
		b.WriteString(ch.Name)
		b.WriteByte('\n')
		b.WriteString(origin)
		b.WriteString("/")
		b.WriteString(string(RouteChannel))
		b.WriteString("?cid=")
		b.WriteString(id)
		b.WriteByte('\n')
	}
	return b.String()
}
