package lifecycle

import "errors"

// State-conflict errors. The router treats these as expected races and
// rejects the triggering event silently.
var (
	ErrActivityInProgress = errors.New("an activity is already running")
	ErrNoActiveActivity   = errors.New("no activity is running")
	ErrNotRunning         = errors.New("activity is not in the running state")
	ErrActivityMismatch   = errors.New("activity id does not match the active activity")
	ErrSlideOutOfRange    = errors.New("slide index out of range")
)
