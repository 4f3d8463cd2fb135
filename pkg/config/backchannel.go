package config

import "time"

// BackchannelConfig holds back-channel logout delivery settings.
// Delivery is fire-and-forget with no retry queue; the timeout bounds
// each relying-party POST independently.
type BackchannelConfig struct {
	RequestTimeout    string `env:"IDP_BACKCHANNEL_REQUEST_TIMEOUT" env-default:"5s"`
	LogoutTokenExpiry string `env:"IDP_BACKCHANNEL_LOGOUT_TOKEN_EXPIRY" env-default:"2m"`
}

// ParseRequestTimeout parses the per-client request timeout
func (c BackchannelConfig) ParseRequestTimeout() (time.Duration, error) {
	return time.ParseDuration(c.RequestTimeout)
}

// ParseLogoutTokenExpiry parses the logout token lifetime
func (c BackchannelConfig) ParseLogoutTokenExpiry() (time.Duration, error) {
	return time.ParseDuration(c.LogoutTokenExpiry)
}
