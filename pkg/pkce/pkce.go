package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// ChallengeMethodS256 is the only supported PKCE challenge method
const ChallengeMethodS256 = "S256"

// GenerateCodeVerifier generates a cryptographically random code verifier.
// The verifier uses the unreserved charset [A-Z] / [a-z] / [0-9] / "-" /
// "." / "_" / "~" with a length between 43 and 128 characters.
func GenerateCodeVerifier() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// ComputeChallenge derives the S256 challenge from a verifier
func ComputeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// ValidateCodeVerifier checks that the verifier is well-formed and that
// base64url(sha256(verifier)) matches the stored challenge.
func ValidateCodeVerifier(verifier, challenge string) error {
	if verifier == "" {
		return fmt.Errorf("code verifier cannot be empty")
	}
	if challenge == "" {
		return fmt.Errorf("code challenge cannot be empty")
	}

	if len(verifier) < 43 || len(verifier) > 128 {
		return fmt.Errorf("code verifier must be between 43 and 128 characters")
	}
	if !isValidCodeVerifier(verifier) {
		return fmt.Errorf("code verifier contains invalid characters")
	}

	computed := ComputeChallenge(verifier)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code verifier does not match challenge")
	}
	return nil
}

// IsValidChallengeMethod reports whether the method is supported
func IsValidChallengeMethod(method string) bool {
	return method == ChallengeMethodS256
}

// isValidCodeVerifier checks if the code verifier contains only allowed characters
func isValidCodeVerifier(verifier string) bool {
	const allowedChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
	for _, char := range verifier {
		if !strings.ContainsRune(allowedChars, char) {
			return false
		}
	}
	return true
}
