package oidcbackend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/pkg/errors"
)

// revokeSession revokes the refresh token then the access token (RFC 7009).
// Both are attempted; the first failure is returned.
func (b *Backend) revokeSession(ctx context.Context, s *sessions.Session) error {
	if b.revocationURL == "" {
		b.log.Debug().Msg("provider has no revocation endpoint, skipping token revocation")
		return nil
	}

	var firstErr error
	revoke := func(token, tokenTypeHint string) {
		if token == "" {
			return
		}
		if err := b.revokeToken(ctx, token, tokenTypeHint); err != nil {
			b.log.Warn().Err(err).Str("token_type", tokenTypeHint).Msg("Failed to revoke token")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	revoke(s.RefreshToken, "refresh_token")
	revoke(s.AccessToken, "access_token")
	return firstErr
}

func (b *Backend) revokeToken(ctx context.Context, token, tokenTypeHint string) error {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", tokenTypeHint)
	form.Set("client_id", b.oauth.ClientID)
	if b.oauth.ClientSecret != "" {
		form.Set("client_secret", b.oauth.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "failed to build revocation request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "revocation request failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation endpoint returned %s", resp.Status)
	}
	return nil
}
