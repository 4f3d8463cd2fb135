package jwks

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWKSService owns the signing key lifecycle: startup key provisioning,
// rotation, JWKS publication, and token signing/verification key lookup.
type JWKSService struct {
	repository Repository
	encryptor  *KeyEncryptor
	alg        string
	keySize    int
	// retention keeps rotated keys in the published JWKS long enough
	// for tokens they signed to expire; must be >= the access token TTL.
	retention time.Duration
	// pruneWindow keeps rotated key rows resolvable by kid after they
	// leave the published JWKS; must be >= the refresh token TTL so
	// refresh JWT signatures stay verifiable for their whole life.
	pruneWindow time.Duration

	// decrypted private keys by kid
	keyCache sync.Map
}

// Option configures a JWKSService
type Option func(*JWKSService)

// WithKeySize sets the RSA key size in bits (2048 minimum)
func WithKeySize(bits int) Option {
	return func(s *JWKSService) {
		s.keySize = bits
	}
}

// WithRetentionWindow sets how long rotated keys remain publishable
func WithRetentionWindow(d time.Duration) Option {
	return func(s *JWKSService) {
		s.retention = d
	}
}

// WithPruneWindow sets how long rotated key rows survive before
// PruneRetiredKeys deletes them
func WithPruneWindow(d time.Duration) Option {
	return func(s *JWKSService) {
		s.pruneWindow = d
	}
}

// NewJWKSService creates a new signing key service
func NewJWKSService(repository Repository, encryptor *KeyEncryptor, opts ...Option) *JWKSService {
	service := &JWKSService{
		repository:  repository,
		encryptor:   encryptor,
		alg:         "RS256",
		keySize:     2048,
		retention:   10 * time.Minute,
		pruneWindow: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// EnsureActiveKey provisions an active signing key if none exists.
// Runs once at startup; idempotent. A provider without an active key
// cannot issue tokens, so callers treat an error here as fatal.
func (s *JWKSService) EnsureActiveKey(ctx context.Context) error {
	if _, err := s.repository.GetActiveKey(ctx); err == nil {
		return nil
	}

	key, err := s.generateKey()
	if err != nil {
		return err
	}
	key.Active = true

	if err := s.repository.AddKey(ctx, key); err != nil {
		return fmt.Errorf("failed to store initial key: %w", err)
	}

	slog.Info("Provisioned initial signing key", "kid", key.Kid, "alg", key.Alg)
	return nil
}

// Rotate generates a fresh key pair and atomically replaces the active
// key. Single-writer: concurrent callers serialize on the repository's
// rotation transaction.
func (s *JWKSService) Rotate(ctx context.Context) (*SigningKey, error) {
	key, err := s.generateKey()
	if err != nil {
		return nil, err
	}

	if err := s.repository.Rotate(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to rotate keys: %w", err)
	}

	slog.Info("Rotated signing keys", "new_active_kid", key.Kid)
	return key, nil
}

// PublishableKeys returns the JWKS document: the active key plus any
// key rotated within the retention window, public material only.
func (s *JWKSService) PublishableKeys(ctx context.Context) (*JWKS, error) {
	cutoff := time.Now().UTC().Add(-s.retention)
	keys, err := s.repository.ListPublishable(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list publishable keys: %w", err)
	}

	jwks := &JWKS{Keys: make([]JWK, 0, len(keys))}
	for _, key := range keys {
		entry, err := key.ToJWK()
		if err != nil {
			slog.Error("Skipping unparseable signing key", "kid", key.Kid, "error", err)
			continue
		}
		jwks.Keys = append(jwks.Keys, *entry)
	}
	return jwks, nil
}

// Sign signs the claims with the active key, naming it in the kid header
func (s *JWKSService) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	key, err := s.repository.GetActiveKey(ctx)
	if err != nil {
		return "", fmt.Errorf("no active signing key: %w", err)
	}

	privateKey, err := s.privateKey(key)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.Kid

	signed, err := token.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// PublicKey returns the public key for the given kid. An unknown kid is
// an invalid-token signal for verifiers, not a fatal condition.
func (s *JWKSService) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	key, err := s.repository.GetKeyByKid(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("unknown kid %q: %w", kid, err)
	}
	return DecodePublicKeyFromPEM(key.PublicPEM)
}

// Keyfunc returns a golang-jwt key resolution function that looks up
// the verification key by the token header's kid.
func (s *JWKSService) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token header missing kid")
		}
		return s.PublicKey(ctx, kid)
	}
}

// PruneRetiredKeys removes rotated keys whose prune window has
// elapsed. Keys stay resolvable by kid well past JWKS publication so
// long-lived refresh JWTs keep verifying.
func (s *JWKSService) PruneRetiredKeys(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.pruneWindow)
	return s.repository.DeleteRotatedBefore(ctx, cutoff)
}

func (s *JWKSService) generateKey() (*SigningKey, error) {
	if s.keySize < 2048 {
		return nil, fmt.Errorf("key size %d below 2048-bit minimum", s.keySize)
	}

	privateKey, err := GenerateRSAKeyPair(s.keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key pair: %w", err)
	}

	encryptedPEM, err := s.encryptor.Encrypt(EncodePrivateKeyToPEM(privateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}

	return &SigningKey{
		Kid:                 uuid.New().String(),
		Alg:                 s.alg,
		PublicPEM:           EncodePublicKeyToPEM(&privateKey.PublicKey),
		PrivatePEMEncrypted: encryptedPEM,
		CreatedAt:           time.Now().UTC(),
	}, nil
}

func (s *JWKSService) privateKey(key *SigningKey) (*rsa.PrivateKey, error) {
	if cached, ok := s.keyCache.Load(key.Kid); ok {
		return cached.(*rsa.PrivateKey), nil
	}

	pemData, err := s.encryptor.Decrypt(key.PrivatePEMEncrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key %s: %w", key.Kid, err)
	}

	privateKey, err := DecodePrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", key.Kid, err)
	}

	s.keyCache.Store(key.Kid, privateKey)
	return privateKey, nil
}
