package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseConfigToDbConfig(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		Database: "idp_db",
		User:     "idp",
		Password: "secret",
	}

	dbConfig := cfg.ToDbConfig()
	assert.Equal(t, "db.internal", dbConfig.Host)
	assert.Equal(t, uint16(5433), dbConfig.Port)
	assert.Equal(t, "idp_db", dbConfig.Database)
	assert.Equal(t, "idp", dbConfig.User)
	assert.Equal(t, "secret", dbConfig.Password)
}

func TestDurationParsing(t *testing.T) {
	oauth2 := OAuth2Config{
		AccessTokenExpiry:  "10m",
		RefreshTokenExpiry: "720h",
		AuthCodeExpiry:     "30s",
	}

	access, err := oauth2.ParseAccessTokenExpiry()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, access)

	refresh, err := oauth2.ParseRefreshTokenExpiry()
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, refresh)

	code, err := oauth2.ParseAuthCodeExpiry()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, code)

	session := SessionConfig{IdleExpiry: "30m", MaxExpiry: "12h", RememberMeExpiry: "720h"}
	idle, err := session.ParseIdleExpiry()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, idle)
	max, err := session.ParseMaxExpiry()
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, max)
	remember, err := session.ParseRememberMeExpiry()
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, remember)

	jwks := JWKSConfig{RetentionWindow: "10m"}
	retention, err := jwks.ParseRetentionWindow()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, retention)

	backchannel := BackchannelConfig{RequestTimeout: "5s", LogoutTokenExpiry: "2m"}
	timeout, err := backchannel.ParseRequestTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, timeout)
	logoutTTL, err := backchannel.ParseLogoutTokenExpiry()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, logoutTTL)

	t.Run("malformed duration reported", func(t *testing.T) {
		_, err := OAuth2Config{AccessTokenExpiry: "ten minutes"}.ParseAccessTokenExpiry()
		assert.Error(t, err)
	})
}
