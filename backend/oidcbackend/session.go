package oidcbackend

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
	"golang.org/x/oauth2"
)

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// sessionFromToken converts a token response into a Session. prev supplies
// the refresh token and identity when the response omits them, as refresh
// responses often do.
func (b *Backend) sessionFromToken(ctx context.Context, tok *oauth2.Token, nonce string, prev *sessions.Session) (*sessions.Session, error) {
	s := &sessions.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    tok.Expiry,
	}
	if s.RefreshToken == "" && prev != nil {
		s.RefreshToken = prev.RefreshToken
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	switch {
	case rawIDToken != "":
		user, err := b.verifyIDToken(ctx, rawIDToken, nonce)
		if err != nil {
			return nil, err
		}
		s.User = user
		s.IDToken = rawIDToken
	case prev != nil:
		s.User = prev.User
		s.IDToken = prev.IDToken
	case nonce != "":
		return nil, autherrors.Wrapf(autherrors.ErrInvalidIDToken, "no id_token in token response")
	}

	claims, ok := accessTokenClaims(s.AccessToken)
	if s.ExpiresAt.IsZero() && ok {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.ExpiresAt = exp.Time
		}
	}
	if s.User.ID == "" && ok {
		if sub, err := claims.GetSubject(); err == nil {
			s.User.ID = sub
		}
	}
	return s, nil
}

func (b *Backend) verifyIDToken(ctx context.Context, raw, nonce string) (sessions.User, error) {
	idToken, err := b.verifier.Verify(ctx, raw)
	if err != nil {
		return sessions.User{}, autherrors.Wrapf(autherrors.ErrInvalidIDToken, "verify: %v", err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return sessions.User{}, autherrors.Wrapf(autherrors.ErrInvalidIDToken, "nonce mismatch")
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return sessions.User{}, autherrors.Wrapf(autherrors.ErrInvalidIDToken, "claims: %v", err)
	}

	user := sessions.User{
		ID:    idToken.Subject,
		Email: claims.Email,
		Name:  claims.Name,
	}
	if claims.Picture != "" || claims.EmailVerified {
		user.Metadata = map[string]any{
			"email_verified": claims.EmailVerified,
		}
		if claims.Picture != "" {
			user.Metadata["picture"] = claims.Picture
		}
	}
	return user, nil
}

// accessTokenClaims reads a JWT access token without verifying it. Access
// tokens are addressed to resource servers; the claims only fill in what the
// token response left out.
func accessTokenClaims(raw string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, false
	}
	return claims, true
}
