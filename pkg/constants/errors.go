package constants

import "errors"

// Errors
var (
	ErrNoBaseURL       = errors.New("base url not set")
	ErrAuthExpired     = errors.New("authorization expired")
	ErrNotFoundLocal   = errors.New("record not found locally")
	ErrMissingID       = errors.New("record id is required")
	ErrInvalidResponse = errors.New("invalid API response")
	ErrNoSession       = errors.New("no active session")
	ErrBlobReleased    = errors.New("media source already released")
)
