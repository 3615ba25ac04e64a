// internal/session/cookie.go
//
// Cookie transport for session tokens.
//
// One site-wide cookie carries the token. Attributes never change between
// issue, re-issue and clear: HttpOnly, SameSite=Lax, Path=/, Secure outside
// local development. Expiry is the session's absolute end (createdAt + TTL).

package session

import (
	"net/http"
	"time"
)

// CookieName is the session cookie name.
const CookieName = "almadle_game"

// Transport reads and writes session cookies.
type Transport struct {
	Codec  *Codec
	Secure bool
}

// Read returns the valid session on r, if any.
func (t Transport) Read(r *http.Request) (Session, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return Session{}, false
	}
	return t.Codec.Decode(c.Value)
}

// Write signs s and sets it on w, replacing any previous token.
func (t Transport) Write(w http.ResponseWriter, s Session) error {
	token, err := t.Codec.Encode(s)
	if err != nil {
		return err
	}
	expires := t.Codec.Expires(s)
	maxAge := int(expires.Sub(t.Codec.Now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, t.cookie(token, expires, maxAge))
	return nil
}

// Clear expires the cookie immediately.
func (t Transport) Clear(w http.ResponseWriter) {
	http.SetCookie(w, t.cookie("", time.Unix(0, 0), -1))
}

func (t Transport) cookie(value string, expires time.Time, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   t.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
