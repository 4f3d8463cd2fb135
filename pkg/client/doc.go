// Package client stores OAuth2 client registrations and enforces their
// redirect URI allow-lists, scope grants, PKCE requirements, and token
// endpoint authentication methods.
package client
