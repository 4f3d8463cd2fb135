package config

import "time"

// SessionConfig holds SSO session lifetimes and cookie settings.
// IdleExpiry slides forward on every authenticated request; MaxExpiry
// never moves. RememberMeExpiry replaces MaxExpiry when the user asks
// to stay signed in.
type SessionConfig struct {
	IdleExpiry       string `env:"IDP_SESSION_IDLE_EXPIRY" env-default:"30m"`
	MaxExpiry        string `env:"IDP_SESSION_MAX_EXPIRY" env-default:"12h"`
	RememberMeExpiry string `env:"IDP_SESSION_REMEMBER_ME_EXPIRY" env-default:"720h"`
	CookieName       string `env:"IDP_SESSION_COOKIE_NAME" env-default:"idp_session"`
	CookieHttpOnly   bool   `env:"IDP_SESSION_COOKIE_HTTP_ONLY" env-default:"true"`
	CookieSecure     bool   `env:"IDP_SESSION_COOKIE_SECURE" env-default:"true"`
}

// ParseIdleExpiry parses the idle expiry duration
func (c SessionConfig) ParseIdleExpiry() (time.Duration, error) {
	return time.ParseDuration(c.IdleExpiry)
}

// ParseMaxExpiry parses the absolute expiry duration
func (c SessionConfig) ParseMaxExpiry() (time.Duration, error) {
	return time.ParseDuration(c.MaxExpiry)
}

// ParseRememberMeExpiry parses the remember-me absolute expiry duration
func (c SessionConfig) ParseRememberMeExpiry() (time.Duration, error) {
	return time.ParseDuration(c.RememberMeExpiry)
}
