package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hls-relay/internal/upstream"
)

type fakeAuth struct {
	validOTP   string
	refreshErr error
	refreshes  atomic.Int64

	// When gate is set, refreshes signal started and then wait for gate.
	gate    chan struct{}
	started chan struct{}

	mu                 sync.Mutex
	androidIDs         []string
	lastRefreshHeaders http.Header
}

func (f *fakeAuth) SendOTP(_ context.Context, _ http.Header, phone string) error {
	if phone == "" {
		return errors.New("empty phone")
	}
	return nil
}

func (f *fakeAuth) VerifyOTP(_ context.Context, _ http.Header, phone, otp, androidID string) (upstream.LoginResponse, error) {
	f.mu.Lock()
	f.androidIDs = append(f.androidIDs, androidID)
	f.mu.Unlock()
	if otp != f.validOTP {
		return upstream.LoginResponse{}, &upstream.Error{Sentinel: upstream.ErrLoginRejected, Op: "verify otp"}
	}
	var resp upstream.LoginResponse
	resp.AuthToken = "access-0"
	resp.RefreshToken = "refresh-token"
	resp.SSOToken = "sso-token"
	resp.DeviceID = "device-1"
	resp.SessionAttributes.User.UID = "user-1"
	resp.SessionAttributes.User.Unique = "unique-1"
	resp.SessionAttributes.User.SubscriberID = "sub-1"
	return resp, nil
}

func (f *fakeAuth) RefreshAccessToken(ctx context.Context, h http.Header, deviceID, refreshToken string) (string, error) {
	if f.gate != nil {
		f.started <- struct{}{}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	n := f.refreshes.Add(1)
	f.mu.Lock()
	f.lastRefreshHeaders = h
	f.mu.Unlock()
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	if deviceID != "device-1" || refreshToken != "refresh-token" {
		return "", fmt.Errorf("unexpected refresh credentials %q %q", deviceID, refreshToken)
	}
	return fmt.Sprintf("access-%d", n), nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *fakeAuth, *InMemoryStore, *clock) {
	t.Helper()
	auth := &fakeAuth{validOTP: "123456"}
	store := NewInMemoryStore()
	clk := &clock{now: time.Date(2024, 7, 7, 14, 40, 0, 0, time.UTC)}
	m := NewManager(store, auth, WithClock(clk.Now), WithTTL(time.Hour))
	return m, auth, store, clk
}

func TestManager_HeadersFor_logged_out(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	assert.Equal(t, StateLoggedOut, m.State())
	_, err := m.HeadersFor(CallStream)
	require.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = m.HeadersFor(CallChannel)
	require.ErrorIs(t, err, ErrNotAuthenticated)

	h, err := m.HeadersFor(CallLogin)
	require.NoError(t, err)
	assert.Equal(t, "RJIL_JioTV", h.Get("appname"))
}

func TestManager_Login(t *testing.T) {
	m, auth, store, clk := newTestManager(t)
	ctx := context.Background()

	assert.False(t, m.Login(ctx, "9876543210", "000000"))
	assert.Equal(t, StateLoggedOut, m.State())

	require.True(t, m.Login(ctx, "+919876543210", "123456"))
	assert.Equal(t, StateAuthenticated, m.State())

	s, ok := m.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "9876543210", s.PhoneNumber)
	assert.Equal(t, "sub-1", s.CRMID)
	assert.Equal(t, clk.Now().Add(time.Hour), s.ExpiresAt)

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, s, *persisted)

	h, err := m.HeadersFor(CallStream)
	require.NoError(t, err)
	assert.Equal(t, "sso-token", h.Get("ssotoken"))
	assert.Equal(t, "device-1", h.Get("deviceId"))
	assert.Empty(t, h.Get("accesstoken"))

	require.Len(t, auth.androidIDs, 2)
	assert.Len(t, auth.androidIDs[1], 16)
}

func TestManager_Refresh_after_expiry(t *testing.T) {
	m, auth, store, clk := newTestManager(t)
	ctx := context.Background()
	require.True(t, m.Login(ctx, "9876543210", "123456"))
	before, _ := m.Snapshot()

	clk.Advance(61 * time.Minute)
	assert.Equal(t, StateExpired, m.State())

	_, err := m.HeadersFor(CallStream)
	require.NoError(t, err, "an expired session still yields headers")

	require.NoError(t, m.Refresh(ctx))
	assert.Equal(t, StateAuthenticated, m.State())

	after, _ := m.Snapshot()
	assert.Equal(t, "access-1", after.AccessToken)
	assert.Equal(t, clk.Now().Add(time.Hour), after.ExpiresAt)
	assert.Equal(t, before.DeviceID, after.DeviceID)
	assert.Equal(t, before.SubscriberID, after.SubscriberID)
	assert.Equal(t, before.UniqueID, after.UniqueID)
	assert.Equal(t, before.SSOToken, after.SSOToken)
	assert.Equal(t, before.RefreshToken, after.RefreshToken)

	assert.Equal(t, "access-0", auth.lastRefreshHeaders.Get("accesstoken"))

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", persisted.AccessToken)

	h, err := m.HeadersFor(CallChannel)
	require.NoError(t, err)
	assert.Equal(t, "access-1", h.Get("accesstoken"))
}

func TestManager_Refresh_failure_keeps_expired(t *testing.T) {
	m, auth, _, clk := newTestManager(t)
	ctx := context.Background()
	require.True(t, m.Login(ctx, "9876543210", "123456"))
	clk.Advance(2 * time.Hour)

	auth.refreshErr = &upstream.Error{Sentinel: upstream.ErrUpstreamUnavailable, Status: http.StatusUnauthorized}
	err := m.Refresh(ctx)
	require.ErrorIs(t, err, ErrRefreshFailed)
	require.ErrorIs(t, err, upstream.ErrUpstreamUnavailable)

	var re *RefreshError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, StateExpired, m.State())

	s, _ := m.Snapshot()
	assert.Equal(t, "access-0", s.AccessToken)
}

type failingStore struct {
	*InMemoryStore
	saveErr error
}

func (f *failingStore) Save(ctx context.Context, s *Session) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.InMemoryStore.Save(ctx, s)
}

func TestManager_Refresh_survives_cancelled_caller(t *testing.T) {
	m, auth, _, clk := newTestManager(t)
	require.True(t, m.Login(context.Background(), "9876543210", "123456"))
	clk.Advance(50 * time.Minute)

	auth.gate = make(chan struct{})
	auth.started = make(chan struct{}, 4)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() { errA <- m.Refresh(ctxA) }()
	<-auth.started

	errB := make(chan error, 1)
	go func() { errB <- m.Refresh(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(auth.gate)
	require.NoError(t, <-errB)
	assert.Equal(t, StateAuthenticated, m.State())
	s, _ := m.Snapshot()
	assert.Equal(t, "access-1", s.AccessToken)
}

func TestManager_Refresh_times_out_on_its_own(t *testing.T) {
	auth := &fakeAuth{validOTP: "123456", gate: make(chan struct{}), started: make(chan struct{}, 1)}
	m := NewManager(NewInMemoryStore(), auth, WithRefreshTimeout(20*time.Millisecond))
	require.True(t, m.Login(context.Background(), "9876543210", "123456"))

	err := m.Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_Refresh_persist_failure_keeps_old_token(t *testing.T) {
	store := &failingStore{InMemoryStore: NewInMemoryStore()}
	auth := &fakeAuth{validOTP: "123456"}
	m := NewManager(store, auth)
	ctx := context.Background()
	require.True(t, m.Login(ctx, "9876543210", "123456"))

	store.saveErr = errors.New("disk full")
	err := m.Refresh(ctx)
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.Contains(t, err.Error(), "disk full")

	s, _ := m.Snapshot()
	assert.Equal(t, "access-0", s.AccessToken, "an unpersisted token is never served")
	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.AccessToken, persisted.AccessToken)
}

func TestManager_Refresh_logged_out(t *testing.T) {
	m, auth, _, _ := newTestManager(t)
	require.ErrorIs(t, m.Refresh(context.Background()), ErrNotAuthenticated)
	assert.Zero(t, auth.refreshes.Load())
}

func TestManager_Restore(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		m, _, _, _ := newTestManager(t)
		require.NoError(t, m.Restore(ctx))
		assert.Equal(t, StateLoggedOut, m.State())
	})

	t.Run("valid session", func(t *testing.T) {
		m, _, store, clk := newTestManager(t)
		require.NoError(t, store.Save(ctx, &Session{
			DeviceID: "d", AccessToken: "a", RefreshToken: "r", SSOToken: "s",
			ExpiresAt: clk.Now().Add(time.Minute),
		}))
		require.NoError(t, m.Restore(ctx))
		assert.Equal(t, StateAuthenticated, m.State())
	})

	t.Run("incomplete session", func(t *testing.T) {
		m, _, store, _ := newTestManager(t)
		require.NoError(t, store.Save(ctx, &Session{DeviceID: "d"}))
		require.NoError(t, m.Restore(ctx))
		assert.Equal(t, StateLoggedOut, m.State())
	})
}

func TestManager_Logout(t *testing.T) {
	m, _, store, _ := newTestManager(t)
	ctx := context.Background()
	require.True(t, m.Login(ctx, "9876543210", "123456"))

	require.NoError(t, m.Logout(ctx))
	assert.Equal(t, StateLoggedOut, m.State())
	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestManager_HeadersFor_concurrent_readers_see_whole_sessions(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	require.True(t, m.Login(ctx, "9876543210", "123456"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				h, err := m.HeadersFor(CallChannel)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, "device-1", h.Get("deviceId"))
				assert.NotEmpty(t, h.Get("accesstoken"))
			}
		}()
	}

	for i := 0; i < 50; i++ {
		require.NoError(t, m.Refresh(ctx))
	}
	close(stop)
	wg.Wait()
}

func TestManager_SendOTP_strips_country_code(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	require.NoError(t, m.SendOTP(context.Background(), "+919876543210"))
	require.Error(t, m.SendOTP(context.Background(), "+91"))
}

func TestBuildHeaders(t *testing.T) {
	s := &Session{
		DeviceID: "d", AccessToken: "a", SSOToken: "s", UserID: "u",
		UniqueID: "q", SubscriberID: "sub", CRMID: "crm",
	}

	stream := buildHeaders(CallStream, s)
	assert.Equal(t, "NzNiMDhlYcQyNjJm", stream.Get("appkey"))
	assert.Equal(t, "s", stream.Get("ssotoken"))
	assert.Equal(t, "crm", stream.Get("crmid"))
	assert.Equal(t, "plaYtv/7.1.3 (Linux;Android 14) ExoPlayerLib/2.11.7", stream.Get("User-Agent"))
	assert.Empty(t, stream.Get("Content-Type"))

	channel := buildHeaders(CallChannel, s)
	assert.Equal(t, "NzNiMDhlYzQyNjJm", channel.Get("appkey"))
	assert.Equal(t, "a", channel.Get("accesstoken"))
	assert.Equal(t, "u", channel.Get("userid"))
	assert.Equal(t, "okhttp/4.9.3", channel.Get("User-Agent"))

	refresh := buildHeaders(CallRefresh, s)
	assert.Equal(t, "a", refresh.Get("accesstoken"))
	assert.Equal(t, "gzip", refresh.Get("Accept-Encoding"))

	assert.Equal(t, "gzip, br", stream.Get("Accept-Encoding"))
	assert.Equal(t, "gzip, br", channel.Get("Accept-Encoding"))
	assert.Empty(t, buildHeaders(CallLogin, nil).Get("Accept-Encoding"))

	// Each call returns an independent map.
	stream.Set("channelid", "1")
	assert.Empty(t, buildHeaders(CallStream, s).Get("channelid"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "logged_out", StateLoggedOut.String())
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "expired", StateExpired.String())
}
