package pkce

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeVerifier(t *testing.T) {
	verifier, err := GenerateCodeVerifier()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(verifier), 43)
	assert.LessOrEqual(t, len(verifier), 128)
	assert.True(t, isValidCodeVerifier(verifier))
}

func TestValidateCodeVerifier(t *testing.T) {
	verifier, err := GenerateCodeVerifier()
	require.NoError(t, err)
	challenge := ComputeChallenge(verifier)

	t.Run("Match", func(t *testing.T) {
		assert.NoError(t, ValidateCodeVerifier(verifier, challenge))
	})

	t.Run("Mismatch", func(t *testing.T) {
		other, err := GenerateCodeVerifier()
		require.NoError(t, err)
		assert.Error(t, ValidateCodeVerifier(other, challenge))
	})

	t.Run("EmptyVerifier", func(t *testing.T) {
		assert.Error(t, ValidateCodeVerifier("", challenge))
	})

	t.Run("EmptyChallenge", func(t *testing.T) {
		assert.Error(t, ValidateCodeVerifier(verifier, ""))
	})

	t.Run("TooShort", func(t *testing.T) {
		short := "abc123"
		assert.Error(t, ValidateCodeVerifier(short, ComputeChallenge(short)))
	})

	t.Run("TooLong", func(t *testing.T) {
		long := strings.Repeat("a", 129)
		assert.Error(t, ValidateCodeVerifier(long, ComputeChallenge(long)))
	})

	t.Run("InvalidCharacters", func(t *testing.T) {
		bad := strings.Repeat("a", 42) + "!"
		assert.Error(t, ValidateCodeVerifier(bad, ComputeChallenge(bad)))
	})
}

func TestIsValidChallengeMethod(t *testing.T) {
	assert.True(t, IsValidChallengeMethod("S256"))
	assert.False(t, IsValidChallengeMethod("plain"))
	assert.False(t, IsValidChallengeMethod(""))
}
