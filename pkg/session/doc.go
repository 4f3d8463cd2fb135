// Package session manages browser SSO sessions with a sliding idle
// expiry and a fixed absolute expiry. Sessions are stored server-side;
// the browser only carries an opaque session id cookie.
package session
