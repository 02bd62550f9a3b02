package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoImage              = errors.New("no image selected")
	ErrSubmitInFlight       = errors.New("a submit is already in flight")
	ErrConvertNotConfigured = errors.New("convert endpoint or token is not configured")
)

// APIError is a non-2xx response from one of the collaborator APIs. Message
// is the user-visible text derived from the response body.
type APIError struct {
	API        string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api status %d: %s", e.API, e.StatusCode, e.Message)
}
