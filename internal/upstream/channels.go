package upstream

import (
	"context"
	"encoding/json"
	"net/http"
)

// Channel is one entry of the vendor channel catalogue.
type Channel struct {
	ID         int    `json:"channel_id"`
	Name       string `json:"channel_name"`
	Logo       string `json:"logoUrl"`
	CategoryID int    `json:"channelCategoryId"`
	LanguageID int    `json:"channelLanguageId"`
}

type channelsResponse struct {
	Code   int       `json:"code"`
	Result []Channel `json:"result"`
}

// FetchChannels returns the vendor channel catalogue.
func (c *Client) FetchChannels(ctx context.Context, h http.Header) ([]Channel, error) {
	const op = "fetch channels"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Channels, nil)
	if err != nil {
		return nil, unavailable(op, c.endpoints.Channels, 0, err)
	}
	req.Header = h.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	body, err := c.do(op, req)
	if err != nil {
		return nil, err
	}

	var resp channelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, badResponse(op, c.endpoints.Channels, err)
	}
	return resp.Result, nil
}
