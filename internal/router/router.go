package router

import (
	"context"
	"errors"
	"log"
	"time"

	"slidecast/internal/aggregate"
	"slidecast/internal/lifecycle"
	"slidecast/internal/room"
	"slidecast/pkg/interfaces"
	"slidecast/pkg/types"
)

// Router is the dispatch layer between the transport and the engine. It
// decodes the closed event set, checks that the sender's joined role may
// issue the event and that the claimed session is live in the store, then
// hands off to the lifecycle controller or the aggregator. It owns no state.
type Router struct {
	store        interfaces.SessionStore
	rooms        *room.Registry
	lifecycle    *lifecycle.Controller
	aggregator   *aggregate.Aggregator
	storeTimeout time.Duration
}

// NewRouter creates an event router.
func NewRouter(store interfaces.SessionStore, rooms *room.Registry, controller *lifecycle.Controller, aggregator *aggregate.Aggregator, storeTimeout time.Duration) *Router {
	return &Router{
		store:        store,
		rooms:        rooms,
		lifecycle:    controller,
		aggregator:   aggregator,
		storeTimeout: storeTimeout,
	}
}

// HandleEvent processes one inbound event to completion. Rejections follow
// the error taxonomy: state conflicts and authorization failures are
// silent, not-found and store failures are reported to the sender only. No
// rejection ever produces a broadcast.
func (r *Router) HandleEvent(ctx context.Context, conn interfaces.Connection, event types.Event) {
	var err error

	switch event.Type {
	case types.EventJoinSession:
		err = r.handleJoin(conn, event)
	case types.EventChangeSlide:
		err = r.handleChangeSlide(ctx, conn, event)
	case types.EventStartActivity:
		err = r.handleStartActivity(ctx, conn, event)
	case types.EventSubmitAnswer:
		err = r.handleSubmitAnswer(ctx, conn, event)
	case types.EventShowResults:
		err = r.handleShowResults(ctx, conn, event)
	case types.EventEndActivity:
		err = r.handleEndActivity(ctx, conn, event)
	case types.EventEndSession:
		err = r.handleEndSession(ctx, conn, event)
	default:
		err = ErrUnknownEventType
	}

	r.report(conn, event.Type, err)
}

// HandleDisconnect reacts to a transport-level disconnect. A viewer's
// departure is announced by the registry.
func (r *Router) HandleDisconnect(conn interfaces.Connection) {
	r.rooms.Leave(conn)
}

func (r *Router) handleJoin(conn interfaces.Connection, event types.Event) error {
	var payload types.JoinSessionPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}

	code := types.NormalizeSessionCode(payload.SessionCode)
	if !types.IsValidSessionCode(code) {
		return ErrInvalidSessionCode
	}
	if !types.IsValidRole(payload.Role) {
		return ErrInvalidRole
	}

	viewerID := payload.ViewerID
	if payload.Role == types.RoleViewer && viewerID == "" {
		viewerID = types.NewViewerID()
	}

	// Deliberately not validated against the store: the room is created
	// lazily so joining never blocks on storage.
	r.rooms.Join(code, conn, payload.Role, viewerID, payload.ViewerName)
	return nil
}

func (r *Router) handleChangeSlide(ctx context.Context, conn interfaces.Connection, event types.Event) error {
	var payload types.ChangeSlidePayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	if err := r.authorize(ctx, conn, payload.SessionCode, types.RolePresenter); err != nil {
		return err
	}
	return r.lifecycle.ChangeSlide(ctx, payload.SessionCode, payload.SlideIndex)
}

func (r *Router) handleStartActivity(ctx context.Context, conn interfaces.Connection, event types.Event) error {
	var payload types.StartActivityPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	if err := r.authorize(ctx, conn, payload.SessionCode, types.RolePresenter); err != nil {
		return err
	}
	return r.lifecycle.StartActivity(ctx, payload.SessionCode, payload.Activity)
}

func (r *Router) handleSubmitAnswer(ctx context.Context, conn interfaces.Connection, event types.Event) error {
	var payload types.SubmitAnswerPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	if err := r.authorize(ctx, conn, payload.SessionCode, types.RoleViewer); err != nil {
		return err
	}
	_, err := r.aggregator.Submit(ctx, payload.SessionCode, payload.ViewerID, payload.ViewerName, payload.ActivityID, payload.Answer)
	return err
}

func (r *Router) handleShowResults(ctx context.Context, conn interfaces.Connection, event types.Event) error {
	var payload types.ShowResultsPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	if err := r.authorize(ctx, conn, payload.SessionCode, types.RolePresenter); err != nil {
		return err
	}
	return r.lifecycle.ShowResults(ctx, payload.SessionCode, payload.ActivityID)
}

func (r *Router) handleEndActivity(ctx context.Context, conn interfaces.Connection, event types.Event) error {
	var payload types.EndActivityPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	if err := r.authorize(ctx, conn, payload.SessionCode, types.RolePresenter); err != nil {
		return err
	}
	return r.lifecycle.EndActivity(ctx, payload.SessionCode)
}

func (r *Router) handleEndSession(ctx context.Context, conn interfaces.Connection, event types.Event) error {
	var payload types.EndSessionPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	if err := r.authorize(ctx, conn, payload.SessionCode, types.RolePresenter); err != nil {
		return err
	}
	return r.lifecycle.EndSession(ctx, payload.SessionCode)
}

// authorize checks that the connection joined the claimed session with the
// required role and that the session is live in the store. Mutating events
// always consult the store, not just in-memory membership.
func (r *Router) authorize(ctx context.Context, conn interfaces.Connection, code string, required types.Role) error {
	joinedCode, role, ok := r.rooms.Membership(conn)
	if !ok {
		return ErrNotJoined
	}
	if role != required {
		return ErrUnauthorizedRole
	}
	if joinedCode != code {
		return ErrSessionMismatch
	}

	liveCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	if _, err := r.store.GetLiveSession(liveCtx, code); err != nil {
		return err
	}

	return nil
}

// silentRejections are expected races and bad actors: the event is dropped
// with no feedback.
var silentRejections = []error{
	ErrUnknownEventType,
	ErrNotJoined,
	ErrUnauthorizedRole,
	ErrSessionMismatch,
	ErrInvalidSessionCode,
	ErrInvalidRole,
	lifecycle.ErrActivityInProgress,
	lifecycle.ErrNoActiveActivity,
	lifecycle.ErrNotRunning,
	lifecycle.ErrActivityMismatch,
	lifecycle.ErrSlideOutOfRange,
	interfaces.ErrSessionEnded,
	types.ErrEmptyPayload,
	types.ErrMalformedPayload,
	types.ErrActivityMissingID,
	types.ErrActivityMissingQuestion,
	types.ErrActivityMissingOptions,
	types.ErrInvalidActivityKind,
}

// report closes out one event's handling. State conflicts are logged and
// dropped; a missing session or a store failure is reported to the sender
// only, never broadcast.
func (r *Router) report(conn interfaces.Connection, eventType string, err error) {
	if err == nil {
		return
	}

	for _, silent := range silentRejections {
		if errors.Is(err, silent) {
			log.Printf("router: rejected %s from %s: %v", eventType, conn.ID(), err)
			return
		}
	}

	if errors.Is(err, interfaces.ErrSessionNotFound) {
		log.Printf("router: rejected %s from %s: %v", eventType, conn.ID(), err)
		r.reply(conn, types.NewErrorEvent("session not found or has ended"))
		return
	}

	log.Printf("router: %s from %s failed: %v", eventType, conn.ID(), err)
	r.reply(conn, types.NewErrorEvent("temporary failure, please retry"))
}

func (r *Router) reply(conn interfaces.Connection, event types.Event) {
	if err := conn.WriteEvent(event); err != nil {
		log.Printf("router: failed to send error to %s: %v", conn.ID(), err)
	}
}
