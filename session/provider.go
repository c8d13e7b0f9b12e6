package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalProvider is an in-process identity provider: it mints, verifies,
// rotates and revokes opaque token pairs backed by an in-memory table. It is
// the default Provider/Verifier wiring for single-node deployments and
// tests; a hosted identity service can replace it behind the same
// interfaces.
type LocalProvider struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	byAccess  map[string]*grant
	byRefresh map[string]*grant
}

type grant struct {
	userID       string
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewLocalProvider builds a provider issuing tokens with the given lifetime.
func NewLocalProvider(ttl time.Duration) *LocalProvider {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LocalProvider{
		ttl:       ttl,
		now:       time.Now,
		byAccess:  make(map[string]*grant),
		byRefresh: make(map[string]*grant),
	}
}

// WithNow injects a clock, used by tests.
func (p *LocalProvider) WithNow(now func() time.Time) *LocalProvider {
	p.now = now
	return p
}

// Issue mints a fresh credential pair for a user, as login/registration
// would.
func (p *LocalProvider) Issue(userID string) *Credentials {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mintLocked(userID)
}

// Refresh rotates the pair identified by refreshToken. An unknown token is
// the terminal failure: the session it belonged to no longer exists.
func (p *LocalProvider) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.byRefresh[refreshToken]
	if !ok {
		return nil, ErrRefreshRejected
	}

	p.dropLocked(g)
	return p.mintLocked(g.userID), nil
}

// Verify resolves an access token to its user id. Expired grants are purged
// on sight.
func (p *LocalProvider) Verify(ctx context.Context, accessToken string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.byAccess[accessToken]
	if !ok {
		return "", ErrInvalidToken
	}
	if !p.now().Before(g.expiresAt) {
		p.dropLocked(g)
		return "", ErrInvalidToken
	}
	return g.userID, nil
}

// Revoke invalidates the pair identified by refreshToken.
func (p *LocalProvider) Revoke(ctx context.Context, refreshToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.byRefresh[refreshToken]; ok {
		p.dropLocked(g)
	}
	return nil
}

func (p *LocalProvider) mintLocked(userID string) *Credentials {
	g := &grant{
		userID:       userID,
		accessToken:  uuid.NewString(),
		refreshToken: uuid.NewString(),
		expiresAt:    p.now().Add(p.ttl),
	}
	p.byAccess[g.accessToken] = g
	p.byRefresh[g.refreshToken] = g

	return &Credentials{
		AccessToken:  g.accessToken,
		RefreshToken: g.refreshToken,
		ExpiresAt:    g.expiresAt,
		UserID:       g.userID,
	}
}

func (p *LocalProvider) dropLocked(g *grant) {
	delete(p.byAccess, g.accessToken)
	delete(p.byRefresh, g.refreshToken)
}

var (
	_ Provider = (*LocalProvider)(nil)
	_ Verifier = (*LocalProvider)(nil)
)
