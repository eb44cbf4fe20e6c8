package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// CookieMarker starts the authorization cookie inside a negotiated stream URL.
const CookieMarker = "__hdnea__"

// ChannelURL is the result of stream negotiation.
type ChannelURL struct {
	ManifestURL string
	Cookie      string
}

type channelURLResponse struct {
	Code     int               `json:"code"`
	Message  string            `json:"message"`
	Result   string            `json:"result"`
	Bitrates map[string]string `json:"bitrates"`
}

// NegotiateChannelURL asks the vendor where channelID streams from. It
// returns the "high" bitrate master playlist and the cookie that authorizes
// every later request for that stream.
func (c *Client) NegotiateChannelURL(ctx context.Context, h http.Header, channelID string) (ChannelURL, error) {
	const op = "negotiate channel url"
	form := url.Values{
		"channel_id":  {channelID},
		"stream_type": {"Seek"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.ChannelURL, strings.NewReader(form.Encode()))
	if err != nil {
		return ChannelURL{}, unavailable(op, c.endpoints.ChannelURL, 0, err)
	}
	req.Header = h.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(op, req)
	if err != nil {
		return ChannelURL{}, err
	}

	var resp channelURLResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ChannelURL{}, badResponse(op, c.endpoints.ChannelURL, err)
	}
	high := resp.Bitrates["high"]
	if high == "" {
		return ChannelURL{}, badResponse(op, c.endpoints.ChannelURL, fmt.Errorf("no high bitrate url for channel %s", channelID))
	}
	cookie, err := ExtractCookie(resp.Result)
	if err != nil {
		return ChannelURL{}, badResponse(op, c.endpoints.ChannelURL, err)
	}
	return ChannelURL{ManifestURL: high, Cookie: cookie}, nil
}

// ExtractCookie returns the substring of s from the last CookieMarker to
// the end. The vendor embeds the cookie this way; the value is opaque.
func ExtractCookie(s string) (string, error) {
	i := strings.LastIndex(s, CookieMarker)
	if i < 0 {
		return "", fmt.Errorf("cookie marker %q not found", CookieMarker)
	}
	cookie := s[i:]
	value := strings.TrimPrefix(strings.TrimPrefix(cookie, CookieMarker), "=")
	if strings.TrimSpace(value) == "" {
		return "", errors.New("empty authorization cookie")
	}
	return cookie, nil
}
