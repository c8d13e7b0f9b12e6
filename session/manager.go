package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/PrincewillDev/polling-app-sub000/logging"
)

const (
	defaultRefreshSkew    = 5 * time.Minute
	defaultRefreshTimeout = 10 * time.Second
)

// Manager owns one cached, auto-refreshing credential. It is constructed at
// the composition root and injected into callers; there is no package-level
// singleton. All refresh traffic is single-flight: concurrent callers await
// the same in-flight refresh instead of issuing duplicates.
type Manager struct {
	provider Provider
	skew     time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	current *Credentials
	timer   *time.Timer
	subs    []chan Event

	sf singleflight.Group
}

// Option customises a Manager.
type Option func(*Manager)

// WithRefreshSkew sets the proactive refresh window before expiry.
func WithRefreshSkew(skew time.Duration) Option {
	return func(m *Manager) { m.skew = skew }
}

// WithRefreshTimeout bounds a single refresh round trip.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(m *Manager) { m.timeout = timeout }
}

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a manager in the Unauthenticated state.
func NewManager(provider Provider, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		skew:     defaultRefreshSkew,
		timeout:  defaultRefreshTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Install caches a credential pair obtained from login or registration and
// schedules the proactive refresh. Any previously scheduled refresh is
// cancelled.
func (m *Manager) Install(creds *Credentials) {
	m.mu.Lock()
	m.current = creds
	m.scheduleLocked()
	m.mu.Unlock()

	m.publish(Event{Type: EventRefreshed, Credentials: creds})
}

// Current returns the cached credential, if any.
func (m *Manager) Current() *Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// IsValid reports whether a cached credential exists and is unexpired.
func (m *Manager) IsValid() bool {
	return m.Current().Valid(m.now())
}

// IsExpiringSoon reports whether the cached credential is inside the
// proactive refresh window.
func (m *Manager) IsExpiringSoon() bool {
	return m.Current().ExpiringSoon(m.now(), m.skew)
}

// GetAccessToken returns a usable access token, refreshing first when the
// cached one is expired or expiring soon. Blocks while a refresh is in
// flight. A transient refresh failure falls back to the cached token while
// it is still nominally unexpired.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	cur := m.Current()
	if cur == nil {
		return "", ErrNoCredential
	}

	now := m.now()
	if cur.Valid(now) && !cur.ExpiringSoon(now, m.skew) {
		return cur.AccessToken, nil
	}

	fresh, err := m.Refresh(ctx, false)
	if err == nil {
		return fresh.AccessToken, nil
	}
	if errors.Is(err, ErrRefreshTransient) && cur.Valid(m.now()) {
		// 刷新暂时失败，旧token还没过期就继续用
		return cur.AccessToken, nil
	}
	return "", err
}

// Refresh exchanges the cached refresh token for a new pair. Single-flight:
// at most one provider round trip is in flight regardless of caller count.
// With force unset, a refresh is skipped while the credential is still
// comfortably valid.
func (m *Manager) Refresh(ctx context.Context, force bool) (*Credentials, error) {
	result, err, _ := m.sf.Do("refresh", func() (interface{}, error) {
		return m.refreshOnce(force)
	})
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return result.(*Credentials), nil
}

// refreshOnce is the guts of a single refresh attempt. It deliberately runs
// under its own bounded context so that one caller's cancellation cannot
// abort a refresh other callers are waiting on.
func (m *Manager) refreshOnce(force bool) (*Credentials, error) {
	cur := m.Current()
	if cur == nil {
		return nil, ErrNoCredential
	}

	now := m.now()
	if !force && cur.Valid(now) && !cur.ExpiringSoon(now, m.skew) {
		// 并发等待者搭上了前一次刷新的顺风车
		return cur, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	fresh, err := m.provider.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshRejected) {
			// 终态失败：refresh token作废，强制登出
			m.signOut(false)
			return nil, ErrRefreshRejected
		}
		return nil, errors.Join(ErrRefreshTransient, err)
	}

	m.mu.Lock()
	m.current = fresh
	m.scheduleLocked()
	m.mu.Unlock()

	m.publish(Event{Type: EventRefreshed, Credentials: fresh})
	return fresh, nil
}

// SignOut destroys the cached session, cancels the scheduled refresh and
// revokes the pair on the provider side, best effort.
func (m *Manager) SignOut() {
	m.signOut(true)
}

func (m *Manager) signOut(revoke bool) {
	m.mu.Lock()
	cur := m.current
	m.current = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	if cur == nil {
		return
	}

	if revoke {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.provider.Revoke(ctx, cur.RefreshToken); err != nil {
			logging.Log.Debugf("撤销会话失败: %v", err)
		}
	}

	m.publish(Event{Type: EventSignedOut})
}

// Do runs an authenticated call with retry-on-401: when fn signals
// ErrUnauthorized, one reactive refresh is attempted and fn is retried once.
// A failed reactive refresh forces sign-out and reports that authentication
// is required.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, accessToken string) error) error {
	token, err := m.GetAccessToken(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, token)
	if err == nil || !errors.Is(err, ErrUnauthorized) {
		return err
	}

	if _, refreshErr := m.Refresh(ctx, true); refreshErr != nil {
		if !errors.Is(refreshErr, ErrRefreshRejected) {
			// 拒绝时refreshOnce已经登出了，这里处理其余失败
			m.signOut(false)
		}
		return errors.Join(ErrUnauthorized, refreshErr)
	}

	token, err = m.GetAccessToken(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, token)
}

// Subscribe returns a channel of session transitions. Slow subscribers drop
// events rather than block the manager.
func (m *Manager) Subscribe() <-chan Event {
	ch := make(chan Event, 8)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Close cancels the scheduled proactive refresh.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// scheduleLocked (re)arms the proactive refresh timer for the current
// credential. Caller holds mu.
func (m *Manager) scheduleLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.current == nil {
		return
	}

	// 定时器要落在刷新窗口内侧，避免擦边错过
	delay := m.current.ExpiresAt.Sub(m.now()) - m.skew + 10*time.Millisecond
	if delay < 0 {
		delay = 0
	}
	m.timer = time.AfterFunc(delay, m.proactiveRefresh)
}

// proactiveRefresh fires shortly before expiry. A failure here is not
// rescheduled; the next access retries through GetAccessToken.
func (m *Manager) proactiveRefresh() {
	if m.Current() == nil {
		return
	}
	if _, err := m.Refresh(context.Background(), false); err != nil {
		logging.Log.Warnf("主动刷新会话失败: %v", err)
	}
}

func (m *Manager) publish(event Event) {
	m.mu.Lock()
	subs := make([]chan Event, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}
