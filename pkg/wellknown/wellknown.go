// Package wellknown serves the OIDC discovery document and the JWKS
// endpoint.
package wellknown

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/classlane/idp/pkg/jwks"
)

// Metadata is the OIDC discovery document
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JwksURI                           string   `json:"jwks_uri"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
	BackchannelLogoutSupported        bool     `json:"backchannel_logout_supported"`
	BackchannelLogoutSessionSupported bool     `json:"backchannel_logout_session_supported"`
}

// Handle serves the discovery and JWKS endpoints
type Handle struct {
	metadata Metadata
	keys     *jwks.JWKSService
}

// NewHandle builds the discovery document for the issuer
func NewHandle(issuer string, keys *jwks.JWKSService) Handle {
	base := strings.TrimRight(issuer, "/")
	return Handle{
		keys: keys,
		metadata: Metadata{
			Issuer:                            base,
			AuthorizationEndpoint:             base + "/oauth2/authorize",
			TokenEndpoint:                     base + "/oauth2/token",
			UserinfoEndpoint:                  base + "/oauth2/userinfo",
			JwksURI:                           base + "/.well-known/jwks.json",
			RevocationEndpoint:                base + "/oauth2/revoke",
			EndSessionEndpoint:                base + "/oauth2/logout",
			ScopesSupported:                   []string{"openid", "profile", "email", "offline_access"},
			ResponseTypesSupported:            []string{"code"},
			GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
			SubjectTypesSupported:             []string{"public"},
			IDTokenSigningAlgValuesSupported:  []string{"RS256"},
			TokenEndpointAuthMethodsSupported: []string{"none", "client_secret_post", "client_secret_basic"},
			CodeChallengeMethodsSupported:     []string{"S256"},
			ClaimsSupported:                   []string{"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce", "sid", "at_hash", "email", "email_verified", "preferred_username"},
			BackchannelLogoutSupported:        true,
			BackchannelLogoutSessionSupported: true,
		},
	}
}

// Routes mounts the well-known endpoints
func (h Handle) Routes(r chi.Router) {
	r.Get("/openid-configuration", h.GetOpenIDConfiguration)
	r.Get("/jwks.json", h.GetJWKS)
}

// GetOpenIDConfiguration serves the discovery document
// (GET /.well-known/openid-configuration)
func (h Handle) GetOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.metadata)
}

// GetJWKS serves the published signing keys: the active key plus any
// rotated keys still inside the retention window.
// (GET /.well-known/jwks.json)
func (h Handle) GetJWKS(w http.ResponseWriter, r *http.Request) {
	keySet, err := h.keys.PublishableKeys(r.Context())
	if err != nil {
		http.Error(w, "failed to load keys", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	render.JSON(w, r, keySet)
}
