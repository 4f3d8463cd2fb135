// Package oidc orchestrates the protocol surface of the identity
// provider: the authorization endpoint with its login hand-off, the
// token endpoint grants, userinfo, and RP-initiated logout with
// back-channel fan-out.
package oidc
