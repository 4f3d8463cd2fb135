package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// CookieWriter issues and clears the browser session cookie
type CookieWriter struct {
	name     string
	path     string
	httpOnly bool
	secure   bool
	sameSite http.SameSite
}

// NewCookieWriter creates a cookie writer for the session cookie
func NewCookieWriter(name string, httpOnly, secure bool) *CookieWriter {
	return &CookieWriter{
		name:     name,
		path:     "/",
		httpOnly: httpOnly,
		secure:   secure,
		sameSite: http.SameSiteLaxMode,
	}
}

// SetCookie writes the session cookie. The cookie Max-Age follows the
// absolute expiry; validation against idle expiry happens server-side.
func (c *CookieWriter) SetCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    session.ID.String(),
		Path:     c.path,
		Expires:  session.AbsoluteExpiry,
		HttpOnly: c.httpOnly,
		Secure:   c.secure,
		SameSite: c.sameSite,
	})
}

// ClearCookie expires the session cookie
func (c *CookieWriter) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     c.path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: c.httpOnly,
		Secure:   c.secure,
		SameSite: c.sameSite,
	})
}

// ReadSessionID extracts the session id from the request cookie
func (c *CookieWriter) ReadSessionID(r *http.Request) (uuid.UUID, bool) {
	cookie, err := r.Cookie(c.name)
	if err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
