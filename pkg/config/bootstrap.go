package config

// BootstrapConfig seeds the first admin account and OAuth2 client on a
// fresh deployment. Leaving the username or client id empty disables
// the respective seed.
type BootstrapConfig struct {
	AdminUsername string `env:"IDP_BOOTSTRAP_ADMIN_USERNAME"`
	AdminEmail    string `env:"IDP_BOOTSTRAP_ADMIN_EMAIL"`
	AdminPassword string `env:"IDP_BOOTSTRAP_ADMIN_PASSWORD"`

	ClientID                     string   `env:"IDP_BOOTSTRAP_CLIENT_ID"`
	ClientName                   string   `env:"IDP_BOOTSTRAP_CLIENT_NAME"`
	ClientSecret                 string   `env:"IDP_BOOTSTRAP_CLIENT_SECRET"`
	ClientRedirectURIs           []string `env:"IDP_BOOTSTRAP_CLIENT_REDIRECT_URIS"`
	ClientPostLogoutRedirectURIs []string `env:"IDP_BOOTSTRAP_CLIENT_POST_LOGOUT_REDIRECT_URIS"`
	ClientBackchannelLogoutURI   string   `env:"IDP_BOOTSTRAP_CLIENT_BACKCHANNEL_LOGOUT_URI"`
	ClientScopes                 []string `env:"IDP_BOOTSTRAP_CLIENT_SCOPES"`
	ClientRequirePKCE            bool     `env:"IDP_BOOTSTRAP_CLIENT_REQUIRE_PKCE" env-default:"true"`
}
