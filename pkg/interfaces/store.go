package interfaces

import (
	"context"

	"slidecast/pkg/types"
)

// SessionStore is the durable record of sessions. Implementations must
// provide read-after-write consistency for a single session code.
type SessionStore interface {
	// CreateSession persists a new session. Returns ErrCodeInUse if another
	// live session already holds the same code.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSessionByCode returns the most recent session with the given code,
	// live or ended.
	GetSessionByCode(ctx context.Context, code string) (*types.Session, error)

	// GetLiveSession returns the live session with the given code, or
	// ErrSessionNotFound if none is live.
	GetLiveSession(ctx context.Context, code string) (*types.Session, error)

	// UpdateSlide persists the current slide index of a live session.
	UpdateSlide(ctx context.Context, code string, slideIndex int) error

	// SetActiveActivity persists the frozen active-activity snapshot; nil
	// clears it.
	SetActiveActivity(ctx context.Context, code string, activity *types.Activity) error

	// AppendViewer appends a roster entry to a live session.
	AppendViewer(ctx context.Context, code string, viewer types.Viewer) error

	// AppendAnswer appends an answer record to a live session. Answers are
	// never mutated or deleted once recorded.
	AppendAnswer(ctx context.Context, code string, answer types.Answer) error

	// EndSession marks the session as no longer live and clears its active
	// activity. The code becomes reusable afterwards.
	EndSession(ctx context.Context, code string) error

	// ListLiveSessions returns all sessions with the live flag set.
	ListLiveSessions(ctx context.Context) ([]*types.Session, error)
}

// PresentationStore owns presentation definitions. The engine only ever
// reads them; creation happens at the REST boundary.
type PresentationStore interface {
	CreatePresentation(ctx context.Context, presentation *types.Presentation) error
	GetPresentation(ctx context.Context, id string) (*types.Presentation, error)
	ListPresentations(ctx context.Context) ([]*types.Presentation, error)
}
