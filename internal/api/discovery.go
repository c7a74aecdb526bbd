package api

import (
	"net/http"
	"strings"
)

type discoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

// JWKS publishes the signing keys.
func (a *API) JWKS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=300")
		returnJson(a.keys.KeySet(), w)
	}
}

// Discovery serves the OpenID provider configuration.
func (a *API) Discovery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issuer := strings.TrimSuffix(a.keys.Issuer(), "/")
		doc := discoveryDocument{
			Issuer:                            a.keys.Issuer(),
			AuthorizationEndpoint:             issuer + "/authorize",
			TokenEndpoint:                     issuer + "/token",
			JWKSURI:                           issuer + "/.well-known/jwks.json",
			ResponseTypesSupported:            []string{"code"},
			GrantTypesSupported:               []string{"authorization_code"},
			SubjectTypesSupported:             []string{"public"},
			IDTokenSigningAlgValuesSupported:  []string{"ES256"},
			CodeChallengeMethodsSupported:     []string{"S256"},
			TokenEndpointAuthMethodsSupported: []string{"none"},
			ScopesSupported:                   []string{"openid", "profile", "email"},
			ClaimsSupported:                   []string{"sub", "name", "email", "email_verified", "role", "nonce"},
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		returnJson(doc, w)
	}
}
