package types

import "errors"

// Envelope decoding errors.
var (
	ErrEmptyPayload     = errors.New("event payload is empty")
	ErrMalformedPayload = errors.New("event payload is not valid JSON")
)

// Definition validation errors.
var (
	ErrActivityMissingID         = errors.New("activity id is required")
	ErrActivityMissingQuestion   = errors.New("activity question is required")
	ErrActivityMissingOptions    = errors.New("choice activity requires at least one option")
	ErrInvalidActivityKind       = errors.New("activity kind must be 'choice' or 'open-ended'")
	ErrActivitySlideOutOfRange   = errors.New("activity slide index outside presentation deck")
	ErrPresentationMissingTitle  = errors.New("presentation title is required")
	ErrPresentationMissingSlides = errors.New("presentation requires at least one slide")
)
