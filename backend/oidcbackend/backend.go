package oidcbackend

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-auth-session/backend"
	"github.com/jrsteele09/go-auth-session/credstore"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Config describes the OIDC client.
type Config struct {
	Issuer        string
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	Scopes        []string
	RevocationURL string // optional, discovered when empty
}

// Backend is an auth backend backed by an OpenID Connect provider. The signed
// in session is persisted in a credential store and renewed with the refresh
// token grant.
type Backend struct {
	oauth         *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	revocationURL string
	store         credstore.Store
	notifier      *backend.Notifier
	httpClient    *http.Client
	nowFunc       func() time.Time
	log           zerolog.Logger

	// serialises token grants so two refreshes never spend the same refresh token
	mu sync.Mutex
}

// Option configures a Backend.
type Option func(*Backend)

// WithHTTPClient sets the client used for token, discovery and revocation calls.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		b.httpClient = c
	}
}

func WithRevocationURL(u string) Option {
	return func(b *Backend) {
		b.revocationURL = u
	}
}

func WithNowFunc(nowFunc func() time.Time) Option {
	return func(b *Backend) {
		b.nowFunc = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Backend) {
		b.log = logger
	}
}

// New discovers the provider at cfg.Issuer and returns a ready backend.
func New(ctx context.Context, cfg Config, store credstore.Store, options ...Option) (*Backend, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" {
		return nil, errors.New("[oidcbackend.New] issuer and client id are required")
	}

	probe := &Backend{httpClient: http.DefaultClient}
	for _, option := range options {
		option(probe)
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, probe.httpClient), cfg.Issuer)
	if err != nil {
		return nil, errors.Wrap(err, "[oidcbackend.New] failed to create OIDC provider")
	}

	var discovered struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&discovered); err != nil {
		return nil, errors.Wrap(err, "[oidcbackend.New] failed to read provider metadata")
	}

	revocationURL := cfg.RevocationURL
	if revocationURL == "" {
		revocationURL = discovered.RevocationEndpoint
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	options = append([]Option{WithRevocationURL(revocationURL)}, options...)
	return NewWithVerifier(oauthCfg, verifier, store, options...), nil
}

// NewWithVerifier builds a backend from an already configured OAuth2 client and ID token verifier.
func NewWithVerifier(oauthCfg *oauth2.Config, verifier *oidc.IDTokenVerifier, store credstore.Store, options ...Option) *Backend {
	b := &Backend{
		oauth:      oauthCfg,
		verifier:   verifier,
		store:      store,
		notifier:   backend.NewNotifier(),
		httpClient: http.DefaultClient,
		nowFunc:    time.Now,
		log:        log.With().Str("component", "oidc-backend").Logger(),
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// GetCurrentSession returns the persisted session. An expired session is
// renewed when it carries a refresh token, otherwise nil is returned.
func (b *Backend) GetCurrentSession(ctx context.Context) (*sessions.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.load(ctx)
	if err != nil || current == nil {
		return nil, err
	}
	if !current.IsExpired(b.nowFunc()) {
		return current, nil
	}
	if current.RefreshToken == "" {
		b.log.Debug().Msg("persisted session expired without refresh token")
		return nil, nil
	}
	return b.refreshLocked(ctx, current)
}

// RefreshSession runs the refresh token grant for the persisted session.
func (b *Backend) RefreshSession(ctx context.Context) (*sessions.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, autherrors.ErrNoSession
	}
	if current.RefreshToken == "" {
		return nil, autherrors.ErrNoRefreshToken
	}
	return b.refreshLocked(ctx, current)
}

func (b *Backend) OnSessionChanged(listener sessions.Listener) (sessions.Subscription, error) {
	return b.notifier.Subscribe(listener)
}

// SignOut revokes the persisted tokens at the provider and deletes them
// locally. The credential is deleted even when revocation fails.
func (b *Backend) SignOut(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, loadErr := b.load(ctx)

	var revokeErr error
	if current != nil {
		revokeErr = b.revokeSession(ctx, current)
	}

	if err := b.store.Delete(ctx); err != nil {
		return errors.Wrap(err, "[Backend.SignOut] failed to delete credential")
	}
	b.notifier.Publish(sessions.Event{Type: sessions.EventSignedOut, At: b.nowFunc()})

	if loadErr != nil {
		return loadErr
	}
	return revokeErr
}

func (b *Backend) load(ctx context.Context) (*sessions.Session, error) {
	current, err := b.store.Load(ctx)
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to load credential")
	}
	return current, nil
}

func (b *Backend) refreshLocked(ctx context.Context, current *sessions.Session) (*sessions.Session, error) {
	ctx = oidc.ClientContext(ctx, b.httpClient)
	tok, err := b.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.RefreshSession] refresh token grant failed")
	}

	next, err := b.sessionFromToken(ctx, tok, "", current)
	if err != nil {
		return nil, err
	}
	if err := b.store.Save(ctx, next); err != nil {
		return nil, errors.Wrap(err, "[Backend.RefreshSession] failed to persist session")
	}

	b.notifier.Publish(sessions.Event{Type: sessions.EventTokenRefreshed, Session: next, At: b.nowFunc()})
	return next, nil
}
