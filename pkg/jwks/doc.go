// Package jwks manages the RSA signing keys behind the issuer's JWKS
// endpoint. One key is active for signing at a time; rotated keys stay
// publishable for a retention window so tokens signed with them keep
// verifying. Private keys are encrypted at rest with AES-GCM.
package jwks
