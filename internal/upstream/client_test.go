package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(2*time.Second, WithEndpoints(EndpointsAt(srv.URL))), srv
}

func TestClient_FetchManifest_sends_routing_headers(t *testing.T) {
	var got http.Header
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = io.WriteString(w, "#EXTM3U\n")
	}))

	h := http.Header{"User-Agent": {"plaYtv/7.1.3"}}
	body, err := c.FetchManifest(context.Background(), h, Target{
		URL:       srv.URL + "/index.m3u8",
		ChannelID: "144",
		Cookie:    "__hdnea__=st=1~exp=2",
	})
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n", body)
	assert.Equal(t, "144", got.Get("channelid"))
	assert.Equal(t, "__hdnea__=st=1~exp=2", got.Get("cookie"))
	assert.Equal(t, "plaYtv/7.1.3", got.Get("User-Agent"))
	assert.Empty(t, h.Get("channelid"), "caller headers must not be mutated")
}

func TestClient_FetchBinary_decodes_content_encoding(t *testing.T) {
	payload := []byte{0x47, 0x00, 0x11, 0xff, 0x00}

	t.Run("gzip", func(t *testing.T) {
		c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "gzip")
			zw := gzip.NewWriter(w)
			_, _ = zw.Write(payload)
			_ = zw.Close()
		}))
		body, err := c.FetchBinary(context.Background(), nil, Target{URL: srv.URL + "/seg.ts"})
		require.NoError(t, err)
		assert.Equal(t, payload, body)
	})

	t.Run("brotli", func(t *testing.T) {
		c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "br")
			bw := brotli.NewWriter(w)
			_, _ = bw.Write(payload)
			_ = bw.Close()
		}))
		body, err := c.FetchBinary(context.Background(), nil, Target{URL: srv.URL + "/seg.ts"})
		require.NoError(t, err)
		assert.Equal(t, payload, body)
	})

	t.Run("brotli offered by vendor headers", func(t *testing.T) {
		c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
				_, _ = w.Write(payload)
				return
			}
			w.Header().Set("Content-Encoding", "br")
			bw := brotli.NewWriter(w)
			_, _ = bw.Write(payload)
			_ = bw.Close()
		}))
		h := http.Header{"Accept-Encoding": {"gzip, br"}}
		body, err := c.FetchBinary(context.Background(), h, Target{URL: srv.URL + "/seg.ts"})
		require.NoError(t, err)
		assert.Equal(t, payload, body)
	})

	t.Run("identity", func(t *testing.T) {
		c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(payload)
		}))
		body, err := c.FetchBinary(context.Background(), nil, Target{URL: srv.URL + "/seg.ts"})
		require.NoError(t, err)
		assert.Equal(t, payload, body)
	})

	t.Run("unknown encoding", func(t *testing.T) {
		c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "zstd")
			_, _ = w.Write(payload)
		}))
		_, err := c.FetchBinary(context.Background(), nil, Target{URL: srv.URL + "/seg.ts"})
		require.ErrorIs(t, err, ErrUpstreamUnavailable)
	})
}

func TestClient_do_status_errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"forbidden", http.StatusForbidden, false},
		{"not found", http.StatusNotFound, false},
		{"too many requests", http.StatusTooManyRequests, true},
		{"bad gateway", http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			_, err := c.FetchManifest(context.Background(), nil, Target{URL: srv.URL + "/x.m3u8"})
			require.ErrorIs(t, err, ErrUpstreamUnavailable)

			var ue *Error
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, tt.status, ue.Status)
			assert.Equal(t, tt.retryable, Retryable(err))
			assert.False(t, IsTimeout(err))
		})
	}
}

func TestClient_do_timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := New(50 * time.Millisecond)
	_, err := c.FetchManifest(context.Background(), nil, Target{URL: srv.URL + "/slow.m3u8"})
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.True(t, IsTimeout(err))
	assert.True(t, Retryable(err))
}

func TestClient_do_canceled_is_not_retryable(t *testing.T) {
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchManifest(ctx, nil, Target{URL: srv.URL + "/x.m3u8"})
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.False(t, Retryable(err))
}

func TestClient_NegotiateChannelURL(t *testing.T) {
	const result = "https://cdn.example/bpk-tv/Ch/output/index.m3u8?__hdnea__=st=1~exp=2~acl=/*~hmac=ab"
	var form map[string][]string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":   200,
			"result": result,
			"bitrates": map[string]string{
				"high": "https://cdn.example/bpk-tv/Ch/output/Ch-high.m3u8",
				"low":  "https://cdn.example/bpk-tv/Ch/output/Ch-low.m3u8",
			},
		})
	}))

	got, err := c.NegotiateChannelURL(context.Background(), nil, "144")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/bpk-tv/Ch/output/Ch-high.m3u8", got.ManifestURL)
	assert.Equal(t, "__hdnea__=st=1~exp=2~acl=/*~hmac=ab", got.Cookie)
	assert.Equal(t, []string{"144"}, form["channel_id"])
	assert.Equal(t, []string{"Seek"}, form["stream_type"])
}

func TestClient_NegotiateChannelURL_bad_responses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>"},
		{"no high bitrate", `{"result":"x?__hdnea__=a","bitrates":{}}`},
		{"no cookie marker", `{"result":"https://cdn.example/index.m3u8","bitrates":{"high":"h"}}`},
		{"empty cookie", `{"result":"https://cdn.example/index.m3u8?__hdnea__=","bitrates":{"high":"h"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}))
			_, err := c.NegotiateChannelURL(context.Background(), nil, "1")
			require.ErrorIs(t, err, ErrBadResponse)
			assert.False(t, Retryable(err))
		})
	}
}

func TestExtractCookie(t *testing.T) {
	cookie, err := ExtractCookie("a?__hdnea__=old&b=__hdnea__=new~x")
	require.NoError(t, err)
	assert.Equal(t, "__hdnea__=new~x", cookie)

	_, err = ExtractCookie("no marker here")
	assert.Error(t, err)
}

func TestClient_SendOTP(t *testing.T) {
	var body map[string]string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, c.SendOTP(context.Background(), nil, "9876543210"))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("+919876543210")), body["number"])
}

func TestClient_SendOTP_requires_no_content(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "{}")
	}))
	err := c.SendOTP(context.Background(), nil, "9876543210")
	require.ErrorIs(t, err, ErrBadResponse)
}

func TestClient_VerifyOTP(t *testing.T) {
	var req verifyRequest
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = io.WriteString(w, `{
			"authToken":"at","refreshToken":"rt","ssoToken":"sso","jToken":"jt","deviceId":"dev",
			"sessionAttributes":{"user":{"uid":"u1","unique":"uq","subscriberId":"sub"}}
		}`)
	}))

	resp, err := c.VerifyOTP(context.Background(), nil, "9876543210", "123456", "android-1")
	require.NoError(t, err)
	assert.Equal(t, "at", resp.AuthToken)
	assert.Equal(t, "rt", resp.RefreshToken)
	assert.Equal(t, "sso", resp.SSOToken)
	assert.Equal(t, "u1", resp.SessionAttributes.User.UID)
	assert.Equal(t, "sub", resp.SessionAttributes.User.SubscriberID)

	assert.Equal(t, "123456", req.OTP)
	assert.Equal(t, "RMX1945", req.DeviceInfo.ConsumptionDeviceName)
	assert.Equal(t, "android", req.DeviceInfo.Info.Type)
	assert.Equal(t, "android-1", req.DeviceInfo.Info.AndroidID)
}

func TestClient_VerifyOTP_rejected(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":"invalid otp"}`)
	}))
	_, err := c.VerifyOTP(context.Background(), nil, "9876543210", "000000", "android-1")
	require.ErrorIs(t, err, ErrLoginRejected)
}

func TestClient_RefreshAccessToken(t *testing.T) {
	var req refreshRequest
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r.Body)
		require.NoError(t, json.Unmarshal(buf.Bytes(), &req))
		_, _ = io.WriteString(w, `{"authToken":"fresh"}`)
	}))

	token, err := c.RefreshAccessToken(context.Background(), nil, "dev", "rt")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, "RJIL_JioTV", req.AppName)
	assert.Equal(t, "dev", req.DeviceID)
	assert.Equal(t, "rt", req.RefreshToken)

	c, _ = newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	_, err = c.RefreshAccessToken(context.Background(), nil, "dev", "rt")
	require.ErrorIs(t, err, ErrBadResponse)
}

func TestClient_FetchChannels(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"code":200,"result":[
			{"channel_id":144,"channel_name":"Colors HD","logoUrl":"Colors_HD.png","channelCategoryId":5,"channelLanguageId":1}
		]}`)
	}))
	chans, err := c.FetchChannels(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.Equal(t, Channel{ID: 144, Name: "Colors HD", Logo: "Colors_HD.png", CategoryID: 5, LanguageID: 1}, chans[0])
}

func TestClient_WithRateLimit(t *testing.T) {
	c := New(time.Second, WithRateLimit(0, 5))
	assert.Nil(t, c.limiter)
	c = New(time.Second, WithRateLimit(10, 0))
	require.NotNil(t, c.limiter)
	assert.Equal(t, 1, c.limiter.Burst())
}
