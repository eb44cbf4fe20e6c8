// Package session owns the vendor authorization state: OTP login, header
// construction per call kind, token refresh and expiry tracking.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"hls-relay/internal/upstream"
)

const (
	// DefaultTTL is how long an access token is trusted after it is issued.
	DefaultTTL = time.Hour
	// DefaultRefreshTimeout bounds one shared refresh round trip.
	DefaultRefreshTimeout = 30 * time.Second
)

// Authenticator performs the vendor login and refresh calls.
// *upstream.Client satisfies it.
type Authenticator interface {
	SendOTP(ctx context.Context, h http.Header, phone string) error
	VerifyOTP(ctx context.Context, h http.Header, phone, otp, androidID string) (upstream.LoginResponse, error)
	RefreshAccessToken(ctx context.Context, h http.Header, deviceID, refreshToken string) (string, error)
}

// Manager holds the single live Session. Readers get immutable snapshots
// without locking; Login, Refresh and Logout are serialized writers.
type Manager struct {
	cur            atomic.Pointer[Session]
	authenticating atomic.Bool

	mu      sync.Mutex
	refresh singleflight.Group

	store          Store
	auth           Authenticator
	now            func() time.Time
	ttl            time.Duration
	refreshTimeout time.Duration
	log            *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTTL sets how long tokens are trusted after login or refresh.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithRefreshTimeout bounds a refresh independently of whoever asked for it.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager returns a logged-out Manager persisting to store.
func NewManager(store Store, auth Authenticator, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		auth:           auth,
		now:            time.Now,
		ttl:            DefaultTTL,
		refreshTimeout: DefaultRefreshTimeout,
		log:            slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore loads a persisted session, if any. An empty or unusable store
// leaves the Manager logged out.
func (m *Manager) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.store.Load(ctx)
	if errors.Is(err, ErrNoSession) {
		m.log.Info("no persisted session")
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if !s.Valid() {
		m.log.Warn("persisted session is incomplete, ignoring")
		return nil
	}
	m.cur.Store(s)
	m.log.Info("session restored",
		slog.Time("expires_at", s.ExpiresAt),
		slog.Bool("expired", s.Expired(m.now())))
	return nil
}

// State reports where the Manager is in the login lifecycle. Expiry is
// evaluated against the clock on every call.
func (m *Manager) State() State {
	s := m.cur.Load()
	if s == nil {
		if m.authenticating.Load() {
			return StateAuthenticating
		}
		return StateLoggedOut
	}
	if s.Expired(m.now()) {
		return StateExpired
	}
	return StateAuthenticated
}

// Snapshot returns a copy of the live session.
func (m *Manager) Snapshot() (Session, bool) {
	s := m.cur.Load()
	if s == nil {
		return Session{}, false
	}
	return *s, true
}

// HeadersFor returns a fresh header set for kind built from the live
// session. It fails with ErrNotAuthenticated only when logged out; an
// expired session still yields headers.
func (m *Manager) HeadersFor(kind CallKind) (http.Header, error) {
	if kind == CallLogin {
		return LoginHeaders(), nil
	}
	s := m.cur.Load()
	if s == nil {
		return nil, ErrNotAuthenticated
	}
	return buildHeaders(kind, s), nil
}

// SendOTP asks the vendor to text a login code to phone.
func (m *Manager) SendOTP(ctx context.Context, phone string) error {
	return m.auth.SendOTP(ctx, LoginHeaders(), normalizePhone(phone))
}

// Login exchanges phone and otp for a new session, superseding any current
// one. A rejected code is an expected outcome, reported as false.
func (m *Manager) Login(ctx context.Context, phone, otp string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.authenticating.Store(true)
	defer m.authenticating.Store(false)

	phone = normalizePhone(phone)
	resp, err := m.auth.VerifyOTP(ctx, LoginHeaders(), phone, otp, newAndroidID())
	if err != nil {
		m.log.Warn("login failed", slog.String("error", err.Error()))
		return false
	}

	now := m.now()
	user := resp.SessionAttributes.User
	s := &Session{
		PhoneNumber:  phone,
		DeviceID:     resp.DeviceID,
		AccessToken:  resp.AuthToken,
		RefreshToken: resp.RefreshToken,
		SSOToken:     resp.SSOToken,
		JToken:       resp.JToken,
		UserID:       user.UID,
		UniqueID:     user.Unique,
		SubscriberID: user.SubscriberID,
		CRMID:        user.SubscriberID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(m.ttl),
	}
	if !s.Valid() {
		m.log.Warn("login response is missing tokens")
		return false
	}

	m.cur.Store(s)
	if err := m.store.Save(ctx, s); err != nil {
		m.log.Error("persist session failed", slog.String("error", err.Error()))
	}
	m.log.Info("logged in", slog.Time("expires_at", s.ExpiresAt))
	return true
}

// Refresh trades the refresh token for a new access token. Only the access
// token and expiry change. Concurrent calls share one vendor round trip,
// which no single caller can cancel; each caller stops waiting when its own
// ctx is done.
func (m *Manager) Refresh(ctx context.Context) error {
	ch := m.refresh.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return nil, m.doRefresh(rctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) doRefresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.cur.Load()
	if cur == nil {
		return ErrNotAuthenticated
	}
	if cur.RefreshToken == "" {
		return &RefreshError{Err: errors.New("no refresh token")}
	}

	token, err := m.auth.RefreshAccessToken(ctx, buildHeaders(CallRefresh, cur), cur.DeviceID, cur.RefreshToken)
	if err != nil {
		return &RefreshError{Err: err}
	}

	now := m.now()
	next := *cur
	next.AccessToken = token
	next.IssuedAt = now
	next.ExpiresAt = now.Add(m.ttl)

	// Publish only what is persisted, so a restart resumes the same session.
	if err := m.store.Save(ctx, &next); err != nil {
		return &RefreshError{Err: fmt.Errorf("persist refreshed session: %w", err)}
	}
	m.cur.Store(&next)
	m.log.Info("session refreshed", slog.Time("expires_at", next.ExpiresAt))
	return nil
}

// Logout drops the live session and its persisted copy.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cur.Store(nil)
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	m.log.Info("logged out")
	return nil
}

func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	return strings.TrimPrefix(phone, upstream.CountryCode)
}

// newAndroidID returns a 16 hex digit device identifier.
func newAndroidID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
