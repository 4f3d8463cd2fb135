package config

import "time"

// JWKSConfig holds signing key settings. EncryptionSecret keys the
// AES-GCM cipher that protects private key PEMs at rest; RetentionWindow
// controls how long rotated keys stay in the published JWKS so tokens
// they signed remain verifiable.
type JWKSConfig struct {
	Algorithm        string `env:"IDP_JWKS_ALGORITHM" env-default:"RS256"`
	KeySize          int    `env:"IDP_JWKS_KEY_SIZE" env-default:"2048"`
	EncryptionSecret string `env:"IDP_JWKS_ENCRYPTION_SECRET" env-default:"dev-only-key-encryption-secret"`
	RetentionWindow  string `env:"IDP_JWKS_RETENTION_WINDOW" env-default:"10m"`
}

// ParseRetentionWindow parses the rotated-key retention window
func (c JWKSConfig) ParseRetentionWindow() (time.Duration, error) {
	return time.ParseDuration(c.RetentionWindow)
}
