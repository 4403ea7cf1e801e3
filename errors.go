package pawchat

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoToken is returned when the token source has no credential.
	ErrNoToken = errors.New("pawchat: no auth token")
	// ErrUnauthorized is matched by handshake and REST errors caused by a
	// rejected token.
	ErrUnauthorized = errors.New("pawchat: unauthorized")
	// ErrNotConnected is returned by publish and subscribe calls made while
	// the bus is down.
	ErrNotConnected = errors.New("pawchat: not connected")
	// ErrConnecting tells the caller that a connection attempt was started
	// and the send should be retried shortly.
	ErrConnecting = errors.New("pawchat: connecting, retry shortly")
	// ErrEmptyMessage rejects sends whose trimmed text is empty.
	ErrEmptyMessage = errors.New("pawchat: message is empty")
	// ErrMessageTooLong rejects sends above the content limit.
	ErrMessageTooLong = errors.New("pawchat: message is too long")
	// ErrInvalidRoom rejects room ids that are not positive integers.
	ErrInvalidRoom = errors.New("pawchat: invalid room id")
	// ErrPublish wraps transport failures while publishing.
	ErrPublish = errors.New("pawchat: publish failed")
	// ErrReconnectExhausted is reported once the reconnect policy gives up.
	ErrReconnectExhausted = errors.New("pawchat: reconnect attempts exhausted")
)

// APIError is a non-2xx response from the REST API.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 and 403 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized &&
		(e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}
