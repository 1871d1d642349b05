package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"slidecast/internal/lifecycle"
	"slidecast/internal/room"
	"slidecast/internal/store"
	ws "slidecast/internal/websocket"
	"slidecast/pkg/interfaces"
	"slidecast/pkg/types"
)

// code allocation retries before giving up on session creation
const maxCodeAttempts = 5

// Server exposes the REST surface and the websocket upgrade endpoint.
type Server struct {
	store        *store.Manager
	rooms        *room.Registry
	lifecycle    *lifecycle.Controller
	wsHandler    *ws.Handler
	validate     *validator.Validate
	storeTimeout time.Duration
	router       *mux.Router
}

// NewServer wires the HTTP routes. The websocket handler is mounted at /ws;
// everything else is JSON over /api.
func NewServer(st *store.Manager, rooms *room.Registry, lc *lifecycle.Controller, wsHandler *ws.Handler, storeTimeout time.Duration) *Server {
	s := &Server{
		store:        st,
		rooms:        rooms,
		lifecycle:    lc,
		wsHandler:    wsHandler,
		validate:     validator.New(),
		storeTimeout: storeTimeout,
		router:       mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.wsHandler.HandleWebSocket)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonMiddleware)
	api.HandleFunc("/presentations", s.handleCreatePresentation).Methods(http.MethodPost)
	api.HandleFunc("/presentations", s.handleListPresentations).Methods(http.MethodGet)
	api.HandleFunc("/presentations/{id}", s.handleGetPresentation).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/join", s.handleJoinSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{code}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{code}/end", s.handleEndSession).Methods(http.MethodPost)
}

// ServeHTTP makes the server mountable and testable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type createPresentationRequest struct {
	Title      string           `json:"title" validate:"required"`
	Slides     []types.Slide    `json:"slides" validate:"required,min=1"`
	Activities []types.Activity `json:"activities"`
}

type createSessionRequest struct {
	PresentationID string `json:"presentation_id" validate:"required"`
	PresenterName  string `json:"presenter_name" validate:"required"`
}

type joinSessionRequest struct {
	Code       string `json:"code" validate:"required"`
	ViewerName string `json:"viewer_name" validate:"required"`
}

type joinSessionResponse struct {
	ViewerID string      `json:"viewer_id"`
	Session  sessionView `json:"session"`
}

// sessionView is the session as returned over REST. Raw answers are never
// exposed here; results flow through the websocket reveal only.
type sessionView struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	PresentationID string          `json:"presentation_id"`
	PresenterName  string          `json:"presenter_name"`
	CurrentSlide   int             `json:"current_slide"`
	Live           bool            `json:"live"`
	ActiveActivity *types.Activity `json:"active_activity,omitempty"`
	ViewerCount    int             `json:"viewer_count"`
	CreatedAt      time.Time       `json:"created_at"`
}

func viewOf(sess *types.Session) sessionView {
	return sessionView{
		ID:             sess.ID,
		Code:           sess.Code,
		PresentationID: sess.PresentationID,
		PresenterName:  sess.PresenterName,
		CurrentSlide:   sess.CurrentSlide,
		Live:           sess.Live,
		ActiveActivity: sess.ActiveActivity,
		ViewerCount:    len(sess.Viewers),
		CreatedAt:      sess.CreatedAt,
	}
}

func (s *Server) handleCreatePresentation(w http.ResponseWriter, r *http.Request) {
	var req createPresentationRequest
	if !s.decode(w, r, &req) {
		return
	}

	pres := &types.Presentation{
		ID:         uuid.New().String(),
		Title:      req.Title,
		Slides:     req.Slides,
		Activities: req.Activities,
		CreatedAt:  time.Now().UTC(),
	}
	if err := pres.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.storeContext(r)
	defer cancel()

	if err := s.store.CreatePresentation(ctx, pres); err != nil {
		log.Printf("api: create presentation failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create presentation")
		return
	}

	s.writeJSON(w, http.StatusCreated, pres)
}

func (s *Server) handleListPresentations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeContext(r)
	defer cancel()

	list, err := s.store.ListPresentations(ctx)
	if err != nil {
		log.Printf("api: list presentations failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list presentations")
		return
	}

	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetPresentation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ctx, cancel := s.storeContext(r)
	defer cancel()

	pres, err := s.store.GetPresentation(ctx, id)
	if err != nil {
		if errors.Is(err, interfaces.ErrPresentationNotFound) {
			s.writeError(w, http.StatusNotFound, "presentation not found")
			return
		}
		log.Printf("api: get presentation %s failed: %v", id, err)
		s.writeError(w, http.StatusInternalServerError, "failed to load presentation")
		return
	}

	s.writeJSON(w, http.StatusOK, pres)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, cancel := s.storeContext(r)
	defer cancel()

	if _, err := s.store.GetPresentation(ctx, req.PresentationID); err != nil {
		if errors.Is(err, interfaces.ErrPresentationNotFound) {
			s.writeError(w, http.StatusNotFound, "presentation not found")
			return
		}
		log.Printf("api: create session lookup failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	sess, err := s.allocateSession(ctx, req)
	if err != nil {
		log.Printf("api: create session failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	s.writeJSON(w, http.StatusCreated, viewOf(sess))
}

// allocateSession retries code generation when the random code collides
// with another live session. Collisions are rare at 32^6 codes, so a
// handful of attempts is plenty.
func (s *Server) allocateSession(ctx context.Context, req createSessionRequest) (*types.Session, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		sess := &types.Session{
			ID:             uuid.New().String(),
			Code:           types.GenerateSessionCode(),
			PresentationID: req.PresentationID,
			PresenterName:  req.PresenterName,
			Live:           true,
			Viewers:        []types.Viewer{},
			Answers:        []types.Answer{},
			CreatedAt:      time.Now().UTC(),
		}
		err := s.store.CreateSession(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, interfaces.ErrCodeInUse) {
			return nil, err
		}
	}
	return nil, ErrCodeAllocation
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	var req joinSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	code := types.NormalizeSessionCode(req.Code)
	if !types.IsValidSessionCode(code) {
		s.writeError(w, http.StatusBadRequest, "invalid session code")
		return
	}

	ctx, cancel := s.storeContext(r)
	defer cancel()

	viewer := types.Viewer{
		ID:       types.NewViewerID(),
		Name:     req.ViewerName,
		JoinedAt: time.Now().UTC(),
	}
	if err := s.store.AppendViewer(ctx, code, viewer); err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found or has ended")
			return
		}
		log.Printf("api: join session %s failed: %v", code, err)
		s.writeError(w, http.StatusInternalServerError, "failed to join session")
		return
	}

	sess, err := s.store.GetLiveSession(ctx, code)
	if err != nil {
		log.Printf("api: join session %s readback failed: %v", code, err)
		s.writeError(w, http.StatusInternalServerError, "failed to join session")
		return
	}

	s.writeJSON(w, http.StatusOK, joinSessionResponse{
		ViewerID: viewer.ID,
		Session:  viewOf(sess),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	code := types.NormalizeSessionCode(mux.Vars(r)["code"])

	ctx, cancel := s.storeContext(r)
	defer cancel()

	sess, err := s.store.GetLiveSession(ctx, code)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found or has ended")
			return
		}
		log.Printf("api: get session %s failed: %v", code, err)
		s.writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	s.writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	code := types.NormalizeSessionCode(mux.Vars(r)["code"])

	ctx, cancel := s.storeContext(r)
	defer cancel()

	// Routed through the lifecycle controller so connected clients get
	// the session-ended broadcast and the room is torn down.
	if err := s.lifecycle.EndSession(ctx, code); err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found or has ended")
			return
		}
		log.Printf("api: end session %s failed: %v", code, err)
		s.writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := s.storeContext(r)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		log.Printf("api: health check failed: %v", err)
		s.writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"registry": s.rooms.Stats(),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, ErrInvalidRequestBody.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return false
	}
	return true
}

func (s *Server) storeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.storeTimeout)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response failed: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
