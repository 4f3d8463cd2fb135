// Package token mints OAuth2/OIDC token sets and drives the refresh
// token rotation state machine. Access and ID tokens are stateless
// JWTs; refresh tokens are JWT carriers for a jti whose database row is
// the source of truth. Presenting a rotated or revoked refresh token
// trips reuse detection: the whole rotation chain is revoked, the
// user's SSO sessions are terminated, and the affected client receives
// a back-channel logout.
package token
