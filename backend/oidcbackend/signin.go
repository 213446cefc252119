package oidcbackend

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const randomStateLength = 32

// AuthRequest is one pending authorization code flow. State, Nonce and
// CodeVerifier must be kept until the callback arrives.
type AuthRequest struct {
	URL          string
	State        string
	Nonce        string
	CodeVerifier string
}

// StartSignIn builds the provider authorization URL for a PKCE code flow.
func (b *Backend) StartSignIn() (AuthRequest, error) {
	state, err := generateRandomString(randomStateLength)
	if err != nil {
		return AuthRequest{}, err
	}
	nonce, err := generateRandomString(randomStateLength)
	if err != nil {
		return AuthRequest{}, err
	}
	verifier := oauth2.GenerateVerifier()

	return AuthRequest{
		URL: b.oauth.AuthCodeURL(state,
			oauth2.S256ChallengeOption(verifier),
			oidc.Nonce(nonce),
		),
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
	}, nil
}

// CompleteSignIn exchanges the authorization code, verifies the ID token
// against nonce, persists the session and announces SIGNED_IN.
func (b *Backend) CompleteSignIn(ctx context.Context, code, codeVerifier, nonce string) (*sessions.Session, error) {
	if code == "" {
		return nil, errors.New("[Backend.CompleteSignIn] authorization code is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ctx = oidc.ClientContext(ctx, b.httpClient)
	tok, err := b.oauth.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.CompleteSignIn] failed to exchange code")
	}

	sess, err := b.sessionFromToken(ctx, tok, nonce, nil)
	if err != nil {
		return nil, err
	}
	if err := b.store.Save(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "[Backend.CompleteSignIn] failed to persist session")
	}

	b.log.Info().Str("user_id", sess.User.ID).Msg("signed in")
	b.notifier.Publish(sessions.Event{Type: sessions.EventSignedIn, Session: sess, At: b.nowFunc()})
	return sess, nil
}

// generateRandomString creates a random base64url string
func generateRandomString(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to generate random string")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
