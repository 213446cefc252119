package config

import "github.com/spf13/viper"

const (
	oidcIssuerVar        = "OIDC_ISSUER"
	oidcClientIDVar      = "OIDC_CLIENT_ID"
	oidcClientSecretVar  = "OIDC_CLIENT_SECRET"
	oidcRedirectURLVar   = "OIDC_REDIRECT_URL"
	oidcScopesVar        = "OIDC_SCOPES"
	oidcRevocationURLVar = "OIDC_REVOCATION_URL"
)

type OIDCConfig interface {
	GetIssuer() string
	GetClientID() string
	GetClientSecret() string
	GetRedirectURL() string
	GetScopes() []string
	// GetRevocationURL overrides the revocation endpoint from discovery.
	GetRevocationURL() string
}

type OIDC struct {
	v *viper.Viper
}

var _ OIDCConfig = OIDC{}

func (o OIDC) GetIssuer() string {
	return o.v.GetString(oidcIssuerVar)
}

func (o OIDC) GetClientID() string {
	return o.v.GetString(oidcClientIDVar)
}

func (o OIDC) GetClientSecret() string {
	return o.v.GetString(oidcClientSecretVar)
}

func (o OIDC) GetRedirectURL() string {
	return o.v.GetString(oidcRedirectURLVar)
}

func (o OIDC) GetScopes() []string {
	return splitList(o.v.GetString(oidcScopesVar))
}

func (o OIDC) GetRevocationURL() string {
	return o.v.GetString(oidcRevocationURLVar)
}
