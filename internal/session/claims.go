package session

import (
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

func trimToken(token string) string {
	return strings.TrimSpace(token)
}

// FromLink builds a session from incoming-link query parameters. The remote
// service redirects authenticated users here with at least a token; when the
// link omits userId or role, they are recovered from the token's claims.
// The token signature belongs to the remote service and is not verified
// locally; the claims are identity hints only, never an authorization source.
func FromLink(query url.Values) (Session, bool) {
	token := trimToken(query.Get("token"))
	if token == "" {
		return Session{}, false
	}

	s := Session{
		Token:  token,
		UserID: strings.TrimSpace(query.Get("userId")),
	}
	role := query.Get("role")

	if s.UserID == "" || role == "" {
		claimUser, claimRole := claimsFromToken(token)
		if s.UserID == "" {
			s.UserID = claimUser
		}
		if role == "" {
			role = claimRole
		}
	}

	s.Role = ParseRole(role)
	return s, true
}

// claimsFromToken extracts userId and role hints from an unverified JWT.
// Malformed tokens yield empty hints.
func claimsFromToken(token string) (userID, role string) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", ""
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		userID = sub
	}
	if userID == "" {
		if v, ok := claims["userId"].(string); ok {
			userID = v
		}
	}
	if v, ok := claims["role"].(string); ok {
		role = v
	}
	return userID, role
}
