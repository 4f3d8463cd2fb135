// Package authcode issues and exchanges single-use OAuth2 authorization
// codes. Codes are stored by SHA-256 hash only and consumed under a row
// lock so concurrent exchanges of the same code serialize. A failed
// PKCE verification leaves the code unconsumed.
package authcode
