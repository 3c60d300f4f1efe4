package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const verificationFailedMessage = "Unable to verify link request"

// State of the manager's single authorization attempt.
type State string

const (
	StateIdle       State = "idle"
	StatePresenting State = "presenting"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
)

type AuthorizeRequest struct {
	Flow        Flow
	Scopes      ScopeRequest // Code flow only
	BrowserAuth bool         // Open the system browser instead of a web surface

	// OnComplete receives the outcome exactly once.
	OnComplete func(*AuthorizationOutcome)
}

type attempt struct {
	req AuthorizeRequest
	app SharedApplication
	// ctx serves work that runs after Authorize returns, when the user acts.
	// It keeps the caller's values but not its cancellation.
	ctx  context.Context
	done bool
}

// Manager drives authorization attempts and owns the credential store.
type Manager struct {
	config       Config
	store        *CredentialStore
	client       TokenClient
	nonces       NonceStore
	signer       *StateSigner
	matcher      *RedirectMatcher
	reachability Reachability
	dispatch     func(func())
	logger       zerolog.Logger
	now          func() time.Time

	mu        sync.Mutex
	state     State
	pending   *attempt
	providers map[string]AccessTokenProvider
}

type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithNonceStore(store NonceStore) Option {
	return func(m *Manager) { m.nonces = store }
}

func WithReachability(r Reachability) Option {
	return func(m *Manager) { m.reachability = r }
}

// WithCallbackExecutor sets where completion callbacks run, e.g. a UI queue.
func WithCallbackExecutor(dispatch func(func())) Option {
	return func(m *Manager) { m.dispatch = dispatch }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(config Config, storage SecureStorage, client TokenClient, opts ...Option) (*Manager, error) {
	if storage == nil || client == nil {
		return nil, errors.New("secure storage and token client are required")
	}

	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	matcher, err := NewRedirectMatcher(DefaultRedirectURLs(config)...)
	if err != nil {
		return nil, err
	}

	signer, err := NewStateSigner(config.NonceTTL)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		config:       config,
		client:       client,
		signer:       signer,
		matcher:      matcher,
		reachability: alwaysReachable{},
		dispatch:     func(f func()) { f() },
		logger:       zerolog.Nop(),
		now:          time.Now,
		state:        StateIdle,
		providers:    make(map[string]AccessTokenProvider),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.nonces == nil {
		m.nonces = NewMemoryNonceStore(config.NonceTTL)
	}
	signer.now = m.now
	m.store = NewCredentialStore(storage, m.logger)

	return m, nil
}

func (m *Manager) Config() Config { return m.config }

func (m *Manager) Store() *CredentialStore { return m.store }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Authorize starts an authorization attempt. The outcome is delivered to
// req.OnComplete once the redirect arrives or the user cancels. A pending
// attempt is resolved as cancelled.
func (m *Manager) Authorize(ctx context.Context, app SharedApplication, req AuthorizeRequest) error {
	if req.Flow == "" {
		req.Flow = FlowCodePKCE
	}
	a := &attempt{req: req, app: app, ctx: context.WithoutCancel(ctx)}

	m.mu.Lock()
	prev := m.pending
	m.pending = a
	m.state = StatePresenting
	m.mu.Unlock()

	if prev != nil {
		m.logger.Warn().Msg("authorization started while another was pending")
		m.resolve(prev, cancelledOutcome())
	}

	return m.present(ctx, a)
}

func (m *Manager) present(ctx context.Context, a *attempt) error {
	app := a.app

	if !m.reachability.Reachable(ctx) {
		m.logger.Info().Msg("authorization host unreachable")
		app.PresentErrorWithRetry(
			"Check your internet connection and try again.",
			"No internet connection",
			RetryHandlers{
				Retry: func() {
					if m.isPending(a) {
						_ = m.present(a.ctx, a)
					}
				},
				Cancel: func() { m.resolve(a, cancelledOutcome()) },
			},
		)
		return nil
	}

	if reg, ok := app.(SchemeRegistry); ok && !reg.IsSchemeRegistered(m.config.Scheme()) {
		msg := fmt.Sprintf("Unable to link: the app is not registered for the %q URL scheme. Add it to the application manifest.", m.config.Scheme())
		app.PresentError(msg, "Misconfigured app")
		m.resolve(a, failedOutcome(ErrorMisconfiguredRedirectScheme, msg, ErrMisconfiguredRedirectScheme))
		return ErrMisconfiguredRedirectScheme
	}

	flow := a.req.Flow
	nonce := newNonce()
	var pkce PKCE
	if flow == FlowCodePKCE {
		pkce = NewPKCE()
	}
	pending := PendingAuth{Flow: flow, CodeVerifier: pkce.Verifier, RedirectURI: m.config.RedirectURI}

	browser := a.req.BrowserAuth || m.config.BrowserAuth

	if !browser {
		dauthURL := CompanionAppURL(m.config, flow, nonce, pkce, a.req.Scopes)
		if app.CanPresentExternalApp(dauthURL) {
			if err := m.stash(ctx, a, nonce, pending); err != nil {
				return err
			}
			m.logger.Debug().Str("flow", string(flow)).Msg("handing off to companion app")
			app.PresentExternalApp(dauthURL)
			return nil
		}
	}

	var authURL *url.URL
	if flow == FlowCodePKCE {
		state, err := m.signer.Issue(nonce, flow)
		if err != nil {
			m.resolve(a, failedOutcome(ErrorUnknown, "failed to sign state", err))
			return err
		}
		if err := m.stash(ctx, a, nonce, pending); err != nil {
			return err
		}
		authURL = CodeAuthorizeURL(m.config, pkce, state, a.req.Scopes)
	} else {
		authURL = LegacyAuthorizeURL(m.config)
	}

	if browser {
		app.PresentExternalApp(authURL)
		return nil
	}
	if app.PresentPlatformSpecificAuth(authURL) {
		return nil
	}

	app.PresentWebAuth(authURL, func(u *url.URL) bool {
		if !m.matcher.Matches(u) {
			return false
		}
		// The code exchange must not block the web surface's navigation.
		go m.HandleRedirect(a.ctx, u.String())
		return true
	}, func() {
		m.resolve(a, cancelledOutcome())
	})
	return nil
}

func (m *Manager) stash(ctx context.Context, a *attempt, nonce string, pending PendingAuth) error {
	if err := m.nonces.Put(ctx, nonce, pending, m.config.NonceTTL); err != nil {
		m.resolve(a, failedOutcome(ErrorUnknown, "failed to store pending authorization", err))
		return fmt.Errorf("failed to store nonce: %w", err)
	}
	return nil
}

// HandleRedirect resolves a callback URL. It returns nil if the URL is not
// one of this manager's redirect URLs.
func (m *Manager) HandleRedirect(ctx context.Context, rawURL string) *AuthorizationOutcome {
	u, err := url.Parse(rawURL)
	if err != nil || !m.matcher.Matches(u) {
		return nil
	}

	outcome := m.outcomeFor(ctx, u)

	if outcome.Kind == OutcomeSuccess {
		cred := *outcome.Credential
		if !m.store.Store(cred) {
			m.logger.Error().Str("uid", cred.UserID).Msg("authorized credential was not persisted")
		}
		m.mu.Lock()
		delete(m.providers, cred.UserID)
		m.mu.Unlock()
	}

	m.logger.Info().Str("outcome", string(outcome.Kind)).Str("error_kind", string(outcome.ErrorKind)).Msg("handled redirect")

	m.mu.Lock()
	a := m.pending
	m.mu.Unlock()
	if a != nil {
		m.resolve(a, outcome)
	}
	return outcome
}

func (m *Manager) outcomeFor(ctx context.Context, u *url.URL) *AuthorizationOutcome {
	r, err := ParseRedirect(u, m.now())
	if err != nil {
		return failedOutcome(ErrorUnknown, err.Error(), err)
	}

	switch r.Kind {
	case RedirectCancel:
		return cancelledOutcome()

	case RedirectError:
		m.discardPending(ctx, r.State)
		if ParseErrorKind(r.ErrorCode) == ErrorAccessDenied {
			return cancelledOutcome()
		}
		msg := r.ErrorDescription
		if msg == "" {
			msg = r.ErrorCode
		}
		return failedOutcome(ParseErrorKind(r.ErrorCode), msg, NewProviderError(r.ErrorCode, r.ErrorDescription))

	case RedirectToken:
		return credentialOutcome(r.Credential)

	case RedirectCode:
		nonce, err := m.signer.Verify(r.State)
		if err != nil {
			return verificationFailed(err)
		}
		pending, ok := m.nonces.Take(ctx, nonce)
		if !ok || pending.Flow != FlowCodePKCE {
			return verificationFailed(nil)
		}
		return m.exchange(ctx, r.Code, pending)

	case RedirectConnect:
		if r.Nonce == "" {
			return verificationFailed(nil)
		}
		pending, ok := m.nonces.Take(ctx, r.Nonce)
		if !ok || pending.Flow != r.ConnectFlow {
			return verificationFailed(nil)
		}
		if r.ConnectFlow == FlowCodePKCE {
			if r.Code == "" {
				return failedOutcome(ErrorUnknown, "missing oauth_code", ErrMalformedRedirect)
			}
			return m.exchange(ctx, r.Code, pending)
		}
		return credentialOutcome(r.Credential)
	}

	return failedOutcome(ErrorUnknown, "unrecognized redirect", ErrMalformedRedirect)
}

// discardPending consumes the pending code-flow attempt named by state, so a
// failed attempt does not leave its verifier behind.
func (m *Manager) discardPending(ctx context.Context, state string) {
	if state == "" {
		return
	}
	nonce, err := m.signer.Verify(state)
	if err != nil {
		return
	}
	m.nonces.Take(ctx, nonce)
}

func (m *Manager) exchange(ctx context.Context, code string, pending *PendingAuth) *AuthorizationOutcome {
	m.mu.Lock()
	var app SharedApplication
	if m.pending != nil {
		app = m.pending.app
	}
	m.mu.Unlock()

	if app != nil {
		app.PresentLoading()
		defer app.DismissLoading()
	}

	cred, err := m.client.ExchangeCode(ctx, code, pending.CodeVerifier, pending.RedirectURI)
	if err != nil {
		err = AsCodeExchangeError(err)
		var oerr *OAuthError
		if errors.As(err, &oerr) {
			if oerr.Kind == ErrorAccessDenied {
				return cancelledOutcome()
			}
			return failedOutcome(oerr.Kind, oerr.Error(), err)
		}
		return failedOutcome(ErrorUnknown, err.Error(), err)
	}
	return credentialOutcome(*cred)
}

func credentialOutcome(cred Credential) *AuthorizationOutcome {
	if err := cred.Validate(); err != nil {
		return failedOutcome(ErrorUnknown, err.Error(), errors.Join(ErrMalformedRedirect, err))
	}
	return successOutcome(cred)
}

func verificationFailed(cause error) *AuthorizationOutcome {
	err := ErrRedirectVerification
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrRedirectVerification, cause)
	}
	return failedOutcome(ErrorUnknown, verificationFailedMessage, err)
}

func (m *Manager) isPending(a *attempt) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending == a && !a.done
}

// resolve completes an attempt once; later calls are ignored.
func (m *Manager) resolve(a *attempt, outcome *AuthorizationOutcome) {
	m.mu.Lock()
	if a.done {
		m.mu.Unlock()
		return
	}
	a.done = true
	if m.pending == a {
		m.pending = nil
		if outcome.Kind == OutcomeCancelled {
			m.state = StateCancelled
		} else {
			m.state = StateCompleted
		}
	}
	m.mu.Unlock()

	if a.req.OnComplete != nil {
		m.dispatch(func() { a.req.OnComplete(outcome) })
	}
}

// AccessTokenProvider returns the token provider for a stored credential.
// Providers are cached so concurrent callers share refreshes.
func (m *Manager) AccessTokenProvider(userID string) (AccessTokenProvider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.providers[userID]; ok {
		return p, nil
	}

	cred := m.store.Get(userID)
	if cred == nil {
		return nil, ErrNotFound
	}

	p := NewAccessTokenProvider(*cred, m.client, ProviderOptions{
		RefreshMargin:  m.config.RefreshMargin,
		RefreshTimeout: m.config.RefreshTimeout,
		Store:          m.store,
		Logger:         m.logger,
		Now:            m.now,
	})
	m.providers[userID] = p
	return p, nil
}

// AuthorizedUsers returns every stored credential keyed by user id.
func (m *Manager) AuthorizedUsers() map[string]Credential {
	return m.store.GetAll()
}

func (m *Manager) Unlink(userID string) bool {
	m.mu.Lock()
	delete(m.providers, userID)
	m.mu.Unlock()
	return m.store.Delete(userID)
}

func (m *Manager) UnlinkAll() bool {
	m.mu.Lock()
	m.providers = make(map[string]AccessTokenProvider)
	m.mu.Unlock()
	return m.store.DeleteAll()
}
