package marketplace

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoToken is returned when an operation is attempted without a session
// token. It is a local precondition failure, not a retryable remote error.
var ErrNoToken = errors.New("marketplace: no session token")

// ErrAuthRequired is returned when the remote service answers 401. The
// session has already been invalidated by the time callers see it; the only
// recovery is re-authentication.
var ErrAuthRequired = errors.New("marketplace: reauthentication required")

// RemoteError is a non-2xx response other than 401. It carries the message
// from the response body, or a synthesized one when the body has none.
type RemoteError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote service error (%d): %s", e.StatusCode, e.Message)
}

// remoteMessage extracts a user-facing message from a response body. The
// remote service returns JSON with an "error" or "message" field; anything
// else falls back to the raw body or a synthesized status line.
func remoteMessage(status int, body []byte) string {
	raw := strings.TrimSpace(string(body))
	if strings.HasPrefix(raw, "{") {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(raw), &payload); err == nil {
			if payload.Error != "" {
				return payload.Error
			}
			if payload.Message != "" {
				return payload.Message
			}
		}
	}
	if raw != "" {
		return raw
	}
	return fmt.Sprintf("request failed with status %d %s", status, http.StatusText(status))
}
