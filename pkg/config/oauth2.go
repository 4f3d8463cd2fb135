package config

import "time"

// OAuth2Config holds token and authorization-code lifetimes plus the
// issuer identity published in discovery metadata and token claims.
type OAuth2Config struct {
	Issuer             string `env:"IDP_ISSUER" env-default:"http://localhost:4000"`
	LoginURL           string `env:"IDP_LOGIN_URL" env-default:"http://localhost:4000/login"`
	AccessTokenExpiry  string `env:"IDP_ACCESS_TOKEN_EXPIRY" env-default:"10m"`
	RefreshTokenExpiry string `env:"IDP_REFRESH_TOKEN_EXPIRY" env-default:"720h"`
	AuthCodeExpiry     string `env:"IDP_AUTH_CODE_EXPIRY" env-default:"10m"`
}

// ParseAccessTokenExpiry parses the access token lifetime
func (c OAuth2Config) ParseAccessTokenExpiry() (time.Duration, error) {
	return time.ParseDuration(c.AccessTokenExpiry)
}

// ParseRefreshTokenExpiry parses the refresh token lifetime
func (c OAuth2Config) ParseRefreshTokenExpiry() (time.Duration, error) {
	return time.ParseDuration(c.RefreshTokenExpiry)
}

// ParseAuthCodeExpiry parses the authorization code lifetime
func (c OAuth2Config) ParseAuthCodeExpiry() (time.Duration, error) {
	return time.ParseDuration(c.AuthCodeExpiry)
}
