package session

import (
	"net/http"
)

// Cookie names for the persisted session keys.
const (
	cookieToken  = "auth_token"
	cookieUserID = "user_id"
	cookieRole   = "user_role"
	cookieAPIURL = "api_url"
)

// maxCookieBytes is the storage budget for the session cookies combined.
// Browsers cap individual cookies at 4KiB; staying under one cookie's worth
// across all session keys keeps the Cookie header small.
const maxCookieBytes = 4096

const sessionMaxAge = 86400 * 7 // 7 days

// CookieStore is a Store backed by HTTP cookies, the only client-resident
// state this application keeps.
type CookieStore struct {
	secure bool
}

// NewCookieStore creates a cookie-backed session store. secure controls the
// Secure flag on every cookie written.
func NewCookieStore(secure bool) *CookieStore {
	return &CookieStore{secure: secure}
}

// Establish persists token, user id and role. If the combined session keys
// exceed the storage budget, the non-essential api_url override is dropped
// and the write is retried once; the retry failure is silent, matching the
// best-effort nature of the cache.
func (cs *CookieStore) Establish(w http.ResponseWriter, r *http.Request, s Session) {
	s.Token = trimToken(s.Token)

	size := len(s.Token) + len(s.UserID) + len(s.Role)
	if c, err := r.Cookie(cookieAPIURL); err == nil {
		size += len(c.Value)
	}
	if size > maxCookieBytes {
		cs.clear(w, cookieAPIURL)
	}

	cs.set(w, cookieToken, s.Token)
	cs.set(w, cookieUserID, s.UserID)
	cs.set(w, cookieRole, string(s.Role))
}

// Read returns the persisted session. A missing token means unauthenticated,
// regardless of any leftover user id or role cookies.
func (cs *CookieStore) Read(r *http.Request) (Session, bool) {
	token := cookieValue(r, cookieToken)
	if token == "" {
		return Session{}, false
	}
	return Session{
		Token:  token,
		UserID: cookieValue(r, cookieUserID),
		Role:   ParseRole(cookieValue(r, cookieRole)),
	}, true
}

// Invalidate clears every session key, including the api_url override.
func (cs *CookieStore) Invalidate(w http.ResponseWriter) {
	cs.clear(w, cookieToken)
	cs.clear(w, cookieUserID)
	cs.clear(w, cookieRole)
	cs.clear(w, cookieAPIURL)
}

// APIURL returns the persisted remote base URL override, or "".
func (cs *CookieStore) APIURL(r *http.Request) string {
	return cookieValue(r, cookieAPIURL)
}

// SetAPIURL persists the remote base URL override.
func (cs *CookieStore) SetAPIURL(w http.ResponseWriter, apiURL string) {
	cs.set(w, cookieAPIURL, apiURL)
}

func (cs *CookieStore) set(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   cs.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   sessionMaxAge,
	})
}

func (cs *CookieStore) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   cs.secure,
		MaxAge:   -1,
	})
}

func cookieValue(r *http.Request, name string) string {
	if c, err := r.Cookie(name); err == nil {
		return c.Value
	}
	return ""
}
