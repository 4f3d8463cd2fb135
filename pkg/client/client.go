package client

import (
	"time"
)

// ClientType distinguishes browser/native apps from server-side apps
type ClientType string

const (
	ClientTypePublic       ClientType = "public"
	ClientTypeConfidential ClientType = "confidential"
)

// TokenAuthMethod is the client authentication method at the token endpoint
type TokenAuthMethod string

const (
	TokenAuthNone        TokenAuthMethod = "none"
	TokenAuthSecretPost  TokenAuthMethod = "client_secret_post"
	TokenAuthSecretBasic TokenAuthMethod = "client_secret_basic"
)

// Client represents a registered relying party. Codes and tokens
// reference clients by ClientID but never own them; updates happen only
// through explicit admin operations.
type Client struct {
	ClientID               string
	ClientName             string
	ClientType             ClientType
	TokenAuthMethod        TokenAuthMethod
	RequirePKCE            bool
	RedirectURIs           []string
	PostLogoutRedirectURIs []string
	BackchannelLogoutURI   string
	FrontchannelLogoutURI  string
	Scopes                 []string
	// SecretHash is a bcrypt hash of the client secret; empty for
	// public clients.
	SecretHash string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ValidateRedirectURI checks if the provided redirect URI is allowed for this client
func (c *Client) ValidateRedirectURI(redirectURI string) bool {
	for _, allowed := range c.RedirectURIs {
		if allowed == redirectURI {
			return true
		}
	}
	return false
}

// ValidatePostLogoutRedirectURI checks the post-logout redirect allowlist
func (c *Client) ValidatePostLogoutRedirectURI(redirectURI string) bool {
	for _, allowed := range c.PostLogoutRedirectURIs {
		if allowed == redirectURI {
			return true
		}
	}
	return false
}

// ValidateScope checks if every requested scope is allowed for this client
func (c *Client) ValidateScope(requestedScopes []string) bool {
	for _, requested := range requestedScopes {
		found := false
		for _, allowed := range c.Scopes {
			if allowed == requested {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
