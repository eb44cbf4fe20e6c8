// Package upstream performs the vendor HTTP calls: stream URL negotiation,
// manifest/segment/key fetches and the OTP and token endpoints. It is
// stateless; every call takes the header snapshot to send.
package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout         = 15 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16

	// maxBodyBytes bounds any single upstream body held in memory.
	maxBodyBytes = 64 << 20
)

// Client talks to the vendor. It is safe for concurrent use.
type Client struct {
	http      *http.Client
	endpoints Endpoints
	limiter   *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoints overrides the vendor URLs.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) { c.endpoints = e }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit caps outbound calls at rps requests per second. rps <= 0
// leaves calls unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New returns a Client whose calls each time out after timeout.
func New(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: MaxIdleConnsPerHost,
				IdleConnTimeout:     DefaultIdleConnTimeout,
			},
		},
		endpoints: DefaultEndpoints(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Target is a stream resource plus the routing context the vendor expects
// alongside it.
type Target struct {
	URL       string
	ChannelID string
	Cookie    string
}

// FetchManifest returns the playlist text at t.
func (c *Client) FetchManifest(ctx context.Context, h http.Header, t Target) (string, error) {
	body, err := c.get(ctx, "fetch manifest", h, t)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchBinary returns the bytes at t unmodified (segments, keys).
func (c *Client) FetchBinary(ctx context.Context, h http.Header, t Target) ([]byte, error) {
	return c.get(ctx, "fetch binary", h, t)
}

// FetchText returns the text at t (subtitle playlists and cues).
func (c *Client) FetchText(ctx context.Context, h http.Header, t Target) (string, error) {
	body, err := c.get(ctx, "fetch text", h, t)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) get(ctx context.Context, op string, h http.Header, t Target) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, unavailable(op, t.URL, 0, err)
	}
	req.Header = h.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if t.ChannelID != "" {
		req.Header.Set("channelid", t.ChannelID)
	}
	if t.Cookie != "" {
		req.Header.Set("cookie", t.Cookie)
	}
	return c.do(op, req)
}

// do sends req and returns the decoded body of a 2xx response. Any other
// outcome is an *Error wrapping ErrUpstreamUnavailable.
func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	body, _, err := c.doStatus(op, req)
	return body, err
}

func (c *Client) doStatus(op string, req *http.Request) ([]byte, int, error) {
	target := req.URL.String()
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, 0, unavailable(op, target, 0, err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, unavailable(op, target, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, resp.StatusCode, unavailable(op, target, resp.StatusCode, nil)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, resp.StatusCode, unavailable(op, target, resp.StatusCode, err)
	}
	return body, resp.StatusCode, nil
}

func newJSONRequest(ctx context.Context, url string, h http.Header, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header = h.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
