package jwks

import (
	"time"
)

// JWKS represents a JSON Web Key Set as defined in RFC 7517
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key as defined in RFC 7517
type JWK struct {
	// Key Type - "RSA" for RSA keys
	Kty string `json:"kty"`

	// Public Key Use - "sig" for signature
	Use string `json:"use"`

	// Key ID - unique identifier for this key
	Kid string `json:"kid"`

	// Algorithm - "RS256" for RSA with SHA-256
	Alg string `json:"alg,omitempty"`

	// RSA public key modulus (base64url encoded)
	N string `json:"n"`

	// RSA public key exponent (base64url encoded)
	E string `json:"e"`
}

// SigningKey is the stored form of an asymmetric signing key. The
// private key PEM is encrypted at rest; only the public PEM is ever
// published. Exactly one key has Active=true at any time.
type SigningKey struct {
	Kid                 string     `json:"kid"`
	Alg                 string     `json:"alg"`
	PublicPEM           string     `json:"public_key_pem"`
	PrivatePEMEncrypted string     `json:"private_key_pem_encrypted"`
	Active              bool       `json:"active"`
	CreatedAt           time.Time  `json:"created_at"`
	RotatedAt           *time.Time `json:"rotated_at,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
}

// ToJWK converts the key's public material to a JWK entry
func (k *SigningKey) ToJWK() (*JWK, error) {
	publicKey, err := DecodePublicKeyFromPEM(k.PublicPEM)
	if err != nil {
		return nil, err
	}
	return &JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: k.Kid,
		Alg: k.Alg,
		N:   EncodeRSAPublicKeyModulus(publicKey),
		E:   EncodeRSAPublicKeyExponent(publicKey),
	}, nil
}
