// Package login implements the authentication flows around accounts:
// login, registration with email verification, password reset and
// change, and email change. Credential changes revoke every session
// and refresh token of the user.
package login
