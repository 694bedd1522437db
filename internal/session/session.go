// Package session holds the client-resident session: the bearer token, the
// current principal id and its role. The store is injected into every
// component that needs it; nothing reads session state ambiently.
package session

import (
	"net/http"
	"strings"
)

// Role is the role of the current principal.
type Role string

// Roles known to the marketplace.
const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// ParseRole normalizes a raw role string. Unknown values map to RoleBuyer,
// the least privileged role.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleSeller:
		return RoleSeller
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleBuyer
	}
}

// LoginPath returns the login page for the role, used when a protected view
// is reached without a valid session.
func (r Role) LoginPath() string {
	switch r {
	case RoleSeller:
		return "/login/seller"
	case RoleAdmin:
		return "/login/admin"
	default:
		return "/login/buyer"
	}
}

// HomePath returns the default landing view for the role.
func (r Role) HomePath() string {
	switch r {
	case RoleSeller, RoleAdmin:
		return "/seller/deals"
	default:
		return "/buyer/deals"
	}
}

// Session is the authenticated identity of the current principal.
type Session struct {
	Token  string
	UserID string
	Role   Role
}

// Authenticated reports whether the session carries a token.
func (s Session) Authenticated() bool {
	return s.Token != ""
}

// Store persists and recalls the session. Implementations must not perform
// network calls or navigation; callers own redirects.
type Store interface {
	// Establish persists the session. The token is trimmed before storage.
	Establish(w http.ResponseWriter, r *http.Request, s Session)
	// Read returns the current session, or ok=false when unauthenticated.
	Read(r *http.Request) (Session, bool)
	// Invalidate clears the session. It does not navigate.
	Invalidate(w http.ResponseWriter)
	// APIURL returns the persisted remote base URL override, if any.
	APIURL(r *http.Request) string
	// SetAPIURL persists a remote base URL override. The key is non-essential
	// and may be dropped under storage pressure.
	SetAPIURL(w http.ResponseWriter, apiURL string)
}
