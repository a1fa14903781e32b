package provider

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/user/llmeter/internal/auth"
	"github.com/user/llmeter/internal/logging"
)

// DefaultRefreshThreshold is how long before expiry an access token is
// refreshed.
const DefaultRefreshThreshold = 5 * time.Minute

const defaultExpiresIn = time.Hour

// Token is what a token endpoint hands back. Empty fields keep the stored
// value.
type Token struct {
	Access    string
	Refresh   string
	ExpiresIn time.Duration
	Extra     map[string]string
}

type TokenRefresher interface {
	RefreshToken(ctx context.Context, cred *auth.OAuth) (*Token, error)
}

type RefreshFunc func(ctx context.Context, cred *auth.OAuth) (*Token, error)

func (f RefreshFunc) RefreshToken(ctx context.Context, cred *auth.OAuth) (*Token, error) {
	return f(ctx, cred)
}

type TokenState string

const (
	TokenValid      TokenState = "valid"
	TokenNearExpiry TokenState = "near_expiry"
	TokenExpired    TokenState = "expired"
)

// RefreshCoordinator refreshes OAuth credentials lazily, at the start of a
// fetch. For a given store key at most one refresh runs at a time and the
// read-expiry/refresh/write sequence happens under that key's lock.
type RefreshCoordinator struct {
	Threshold time.Duration
	Now       func() time.Time

	store auth.Store
	log   log.FieldLogger
	group singleflight.Group

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRefreshCoordinator(store auth.Store, logger log.FieldLogger) *RefreshCoordinator {
	return &RefreshCoordinator{
		Threshold: DefaultRefreshThreshold,
		Now:       time.Now,
		store:     store,
		log:       logging.OrDiscard(logger),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (c *RefreshCoordinator) State(cred *auth.OAuth) TokenState {
	now := c.Now()
	switch {
	case cred.ExpiresAtMs <= now.UnixMilli():
		return TokenExpired
	case cred.ExpiresWithin(now, c.Threshold):
		return TokenNearExpiry
	}
	return TokenValid
}

// Ensure returns a credential that is valid beyond the threshold,
// refreshing and persisting it when needed. A failed refresh leaves the
// stored credential untouched.
func (c *RefreshCoordinator) Ensure(ctx context.Context, key string, cred *auth.OAuth, r TokenRefresher) (*auth.OAuth, error) {
	if c.State(cred) == TokenValid {
		return cred, nil
	}
	if r == nil {
		return nil, NewError(KindRefresh, "access token expired; run `llmeter login` again")
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.refreshLocked(ctx, key, r)
	})
	if err != nil {
		return nil, err
	}
	return v.(*auth.OAuth).Clone(), nil
}

func (c *RefreshCoordinator) refreshLocked(ctx context.Context, key string, r TokenRefresher) (*auth.OAuth, error) {
	l := c.lock(key)
	l.Lock()
	defer l.Unlock()

	current, ok, err := c.store.Load(key)
	if err != nil {
		return nil, WrapError(KindStore, err, "read credentials")
	}
	if !ok {
		return nil, NewError(KindCredential, "not logged in")
	}
	cred, ok := current.(*auth.OAuth)
	if !ok {
		return nil, NewError(KindCredential, "stored credential is not an OAuth token")
	}

	state := c.State(cred)
	if state == TokenValid {
		return cred, nil
	}
	if cred.Refresh == "" {
		return nil, NewError(KindRefresh, "access token expired and no refresh token is stored")
	}

	entry := c.log.WithFields(log.Fields{"key": key, "state": state})
	entry.Debug("refreshing access token")

	tok, err := r.RefreshToken(ctx, cred)
	if err != nil {
		entry.Warnf("token refresh failed: %v", err)
		return nil, WrapError(KindRefresh, err, "token refresh failed")
	}
	if tok == nil || tok.Access == "" {
		return nil, NewError(KindRefresh, "token refresh returned no access token")
	}

	merged := mergeToken(cred, tok, c.Now())
	if err := c.store.Save(key, merged); err != nil {
		return nil, WrapError(KindStore, err, "save refreshed credentials")
	}
	entry.WithField("expires", merged.ExpiresAt().Format(time.RFC3339)).Info("access token refreshed")
	return merged, nil
}

func (c *RefreshCoordinator) lock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

func mergeToken(old *auth.OAuth, tok *Token, now time.Time) *auth.OAuth {
	out := old.Clone()
	out.Access = tok.Access
	if tok.Refresh != "" {
		out.Refresh = tok.Refresh
	}
	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	out.ExpiresAtMs = now.Add(expiresIn).UnixMilli()
	if len(tok.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]string, len(tok.Extra))
		}
		for k, v := range tok.Extra {
			if v != "" {
				out.Extra[k] = v
			}
		}
	}
	return out
}
