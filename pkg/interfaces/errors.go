package interfaces

import "errors"

// Store errors shared across components.
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionEnded         = errors.New("session has ended")
	ErrPresentationNotFound = errors.New("presentation not found")
	ErrCodeInUse            = errors.New("session code already in use by a live session")
)
