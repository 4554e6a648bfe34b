package connection

import (
	"fmt"
	"net/http"

	"github.com/programshouse/medicaldash/pkg/constants"
)

// NetworkError is returned when no HTTP response was received.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx response. Message comes from the response body when
// the server supplied one.
type APIError struct {
	Status  int
	Message string
	// Errors holds field validation details when the server sent them.
	Errors map[string]any
}

func (e *APIError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, constants.ErrAuthExpired) hold for 401 responses.
func (e *APIError) Is(target error) bool {
	if target == constants.ErrAuthExpired {
		return e.Status == http.StatusUnauthorized
	}
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Status == 0 || t.Status == e.Status
}

func fallbackMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("request failed with status %d %s", status, text)
	}
	return fmt.Sprintf("request failed with status %d", status)
}
