package api

import "errors"

var (
	ErrInvalidRequestBody = errors.New("invalid request body")
	ErrCodeAllocation     = errors.New("could not allocate a unique session code")
)
