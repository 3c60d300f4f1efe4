package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// AccessTokenProvider gives the transport a valid token regardless of the
// credential kind.
type AccessTokenProvider interface {
	// AccessToken returns the currently held token without refreshing.
	AccessToken() string

	Credential() Credential

	// RefreshIfNecessary refreshes the token when it is expired or close to
	// expiry. scopes may narrow the grant to a subset of the granted scopes.
	RefreshIfNecessary(ctx context.Context, scopes []string) (Credential, error)
}

type ProviderOptions struct {
	RefreshMargin  time.Duration
	RefreshTimeout time.Duration
	Store          *CredentialStore // Refreshed credentials are persisted here when set
	Logger         zerolog.Logger
	Now            func() time.Time
}

// NewAccessTokenProvider selects the provider variant matching the credential.
func NewAccessTokenProvider(cred Credential, refresher TokenRefresher, opts ProviderOptions) AccessTokenProvider {
	if !cred.IsShortLived() {
		return &LongLivedProvider{cred: cred}
	}
	return NewShortLivedProvider(cred, refresher, opts)
}

// LongLivedProvider wraps a legacy token that never expires.
type LongLivedProvider struct {
	cred Credential
}

func (p *LongLivedProvider) AccessToken() string    { return p.cred.AccessToken }
func (p *LongLivedProvider) Credential() Credential { return p.cred }

func (p *LongLivedProvider) RefreshIfNecessary(ctx context.Context, scopes []string) (Credential, error) {
	return p.cred, nil
}

// ShortLivedProvider refreshes its credential on demand. Token exchanges for
// the credential run one at a time, and callers that need the same token share
// one exchange. The held credential always carries the full grant; tokens
// narrowed to a scope subset are kept apart and handed only to the callers
// that asked for them.
type ShortLivedProvider struct {
	refresher TokenRefresher
	store     *CredentialStore
	margin    time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	group      singleflight.Group
	exchangeMu sync.Mutex // held for the duration of every exchange

	mu       sync.RWMutex
	cred     Credential
	scoped   map[string]Credential // down-scoped tokens by sorted scope set
	terminal error                 // set once the refresh token is known to be revoked
}

func NewShortLivedProvider(cred Credential, refresher TokenRefresher, opts ProviderOptions) *ShortLivedProvider {
	if opts.RefreshMargin == 0 {
		opts.RefreshMargin = DefaultRefreshMargin
	}
	if opts.RefreshTimeout == 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ShortLivedProvider{
		refresher: refresher,
		store:     opts.Store,
		margin:    opts.RefreshMargin,
		timeout:   opts.RefreshTimeout,
		logger:    opts.Logger,
		now:       opts.Now,
		cred:      cred,
		scoped:    make(map[string]Credential),
	}
}

func (p *ShortLivedProvider) AccessToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cred.AccessToken
}

func (p *ShortLivedProvider) Credential() Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cred
}

func (p *ShortLivedProvider) needsRefresh(cred Credential) bool {
	return !p.now().Add(p.margin).Before(cred.ExpiresAt)
}

// RefreshIfNecessary returns a valid credential. With no scopes, or with the
// whole grant, it is the held credential, refreshed when close to expiry. A
// strict subset of the grant gets its own down-scoped token.
func (p *ShortLivedProvider) RefreshIfNecessary(ctx context.Context, scopes []string) (Credential, error) {
	p.mu.RLock()
	cred, terminal := p.cred, p.terminal
	key, narrowed := scopeKey(scopes, cred.Scopes)
	cached, haveCached := p.scoped[key]
	p.mu.RUnlock()

	if terminal != nil {
		return Credential{}, terminal
	}
	if err := checkScopeSubset(scopes, cred.Scopes); err != nil {
		return Credential{}, err
	}

	if !narrowed {
		if !p.needsRefresh(cred) {
			return cred, nil
		}
	} else if haveCached && !p.needsRefresh(cached) {
		return cached, nil
	}

	result, err, _ := p.group.Do(key, func() (any, error) {
		if narrowed {
			return p.refreshScoped(ctx, key, scopes)
		}
		return p.refresh(ctx)
	})
	if err != nil {
		return Credential{}, err
	}
	return result.(Credential), nil
}

func (p *ShortLivedProvider) refresh(ctx context.Context) (Credential, error) {
	p.exchangeMu.Lock()
	defer p.exchangeMu.Unlock()

	p.mu.RLock()
	cred, terminal := p.cred, p.terminal
	p.mu.RUnlock()

	// Another exchange may have finished while this one waited.
	if terminal != nil {
		return Credential{}, terminal
	}
	if !p.needsRefresh(cred) {
		return cred, nil
	}

	refreshed, err := p.exchange(ctx, cred, nil)
	if err != nil {
		return Credential{}, err
	}

	next := mergeRefreshed(cred, *refreshed)
	if err := next.Validate(); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrProviderRefreshToken, err)
	}

	p.mu.Lock()
	p.cred = next
	p.mu.Unlock()

	p.persist(next)
	return next, nil
}

func (p *ShortLivedProvider) refreshScoped(ctx context.Context, key string, scopes []string) (Credential, error) {
	p.exchangeMu.Lock()
	defer p.exchangeMu.Unlock()

	p.mu.RLock()
	cred, terminal := p.cred, p.terminal
	cached, ok := p.scoped[key]
	p.mu.RUnlock()

	if terminal != nil {
		return Credential{}, terminal
	}
	if ok && !p.needsRefresh(cached) {
		return cached, nil
	}

	refreshed, err := p.exchange(ctx, cred, scopes)
	if err != nil {
		return Credential{}, err
	}

	narrow := mergeRefreshed(cred, *refreshed)
	if len(refreshed.Scopes) == 0 {
		narrow.Scopes = append([]string(nil), scopes...)
	}
	if err := narrow.Validate(); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrProviderRefreshToken, err)
	}

	p.mu.Lock()
	p.scoped[key] = narrow
	rotated := narrow.RefreshToken != p.cred.RefreshToken
	if rotated {
		p.cred.RefreshToken = narrow.RefreshToken
	}
	held := p.cred
	p.mu.Unlock()

	if rotated {
		p.persist(held)
	}
	return narrow, nil
}

// exchange runs one refresh grant. Its result is shared by every waiting
// caller, so it must not die with the context of the caller that started it.
func (p *ShortLivedProvider) exchange(ctx context.Context, cred Credential, scopes []string) (*Credential, error) {
	exchangeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	p.logger.Debug().Str("uid", cred.UserID).Strs("scopes", scopes).Msg("refreshing access token")

	refreshed, err := p.refresher.RefreshToken(exchangeCtx, cred, scopes)
	if err == nil {
		return refreshed, nil
	}

	switch {
	case errors.Is(err, ErrRefreshTokenInvalid):
		p.mu.Lock()
		p.terminal = err
		p.scoped = make(map[string]Credential)
		p.mu.Unlock()
		p.logger.Warn().Str("uid", cred.UserID).Msg("refresh token rejected, re-authorization required")
	case errors.Is(exchangeCtx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %v", ErrRefreshTimeout, err)
	}
	return nil, err
}

func (p *ShortLivedProvider) persist(cred Credential) {
	if p.store != nil && !p.store.Store(cred) {
		p.logger.Warn().Str("uid", cred.UserID).Msg("refreshed credential was not persisted")
	}
}

// mergeRefreshed keeps fields the provider did not return.
func mergeRefreshed(prev, refreshed Credential) Credential {
	next := refreshed
	next.UserID = prev.UserID
	if next.RefreshToken == "" {
		next.RefreshToken = prev.RefreshToken
	}
	if len(next.Scopes) == 0 {
		next.Scopes = prev.Scopes
	}
	return next
}

// scopeKey names the token a caller needs. Requests for the whole grant map
// to the held credential.
func scopeKey(requested, granted []string) (string, bool) {
	if len(requested) == 0 {
		return "", false
	}
	want := slices.Compact(sortedCopy(requested))
	if slices.Equal(want, slices.Compact(sortedCopy(granted))) {
		return "", false
	}
	return strings.Join(want, " "), true
}

func checkScopeSubset(requested, granted []string) error {
	if len(requested) == 0 || len(granted) == 0 {
		return nil
	}
	for _, s := range requested {
		if !slices.Contains(granted, s) {
			return invalidScopeError("scope %q was not previously granted", s)
		}
	}
	return nil
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	slices.Sort(out)
	return out
}
