package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"slidecast/pkg/interfaces"
	"slidecast/pkg/types"
)

// State is a session's activity lifecycle phase.
type State int

const (
	// StateIdle: no activity running, slide navigation unrestricted.
	StateIdle State = iota
	// StateRunning: an activity is active and accepting submissions.
	StateRunning
	// StateRevealed: results shown; new submissions no longer accepted.
	StateRevealed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateRevealed:
		return "revealed"
	default:
		return "unknown"
	}
}

// Answers is the aggregator surface the controller drives. Clear resets the
// accumulator when an activity starts, Snapshot feeds the results-revealed
// broadcast, Seed rehydrates the accumulator from the durable answer list
// when a running session is resumed, Discard drops everything when a session
// ends.
type Answers interface {
	Clear(sessionCode, activityID string)
	Snapshot(sessionCode string, activity *types.Activity) types.ResultsSnapshot
	Seed(sessionCode, activityID string, answers []types.Answer)
	Discard(sessionCode string)
}

// sessionState is the in-memory lifecycle record for one live session. The
// mutex serializes every transition for the session, including the durable
// store round trip, so state checks and persistence cannot interleave.
type sessionState struct {
	mu       sync.Mutex
	phase    State
	activity *types.Activity
	slide    int
	deck     *types.Presentation
	ended    bool
}

// Controller is the per-session activity lifecycle state machine. It gates
// which events are valid, persists transitions before broadcasting them
// (fail-closed: viewers never see a change that was not durably recorded),
// and owns the invariant that a session has a non-nil activity snapshot
// exactly when its phase is Running or Revealed.
type Controller struct {
	store         interfaces.SessionStore
	presentations interfaces.PresentationStore
	rooms         interfaces.Broadcaster
	answers       Answers

	autoStartDelay time.Duration
	storeTimeout   time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewController creates a lifecycle controller. The answer sink is attached
// separately with SetAnswers because the aggregator is constructed on top of
// the controller.
func NewController(store interfaces.SessionStore, presentations interfaces.PresentationStore, rooms interfaces.Broadcaster, autoStartDelay, storeTimeout time.Duration) *Controller {
	return &Controller{
		store:          store,
		presentations:  presentations,
		rooms:          rooms,
		autoStartDelay: autoStartDelay,
		storeTimeout:   storeTimeout,
		sessions:       make(map[string]*sessionState),
	}
}

// SetAnswers attaches the answer aggregator.
func (c *Controller) SetAnswers(answers Answers) {
	c.answers = answers
}

// StartActivity transitions Idle -> Running. The provided definition becomes
// the session's frozen activity snapshot; later edits to the presentation do
// not reach it. Prior accumulated answers for the activity id are cleared.
func (c *Controller) StartActivity(ctx context.Context, code string, activity types.Activity) error {
	st, err := c.session(ctx, code)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	return c.startLocked(ctx, code, st, activity)
}

// startLocked performs the Idle -> Running transition with st.mu held.
func (c *Controller) startLocked(ctx context.Context, code string, st *sessionState, activity types.Activity) error {
	if st.ended {
		return interfaces.ErrSessionEnded
	}
	if st.phase != StateIdle {
		return ErrActivityInProgress
	}
	if err := activity.Validate(); err != nil {
		return err
	}

	if err := c.persist(ctx, func(ctx context.Context) error {
		return c.store.SetActiveActivity(ctx, code, &activity)
	}); err != nil {
		return fmt.Errorf("failed to persist activity start: %w", err)
	}

	st.phase = StateRunning
	st.activity = &activity
	c.answers.Clear(code, activity.ID)

	log.Printf("lifecycle: activity started session=%s activity=%s kind=%s", code, activity.ID, activity.Kind)
	c.rooms.BroadcastToViewers(code, types.NewActivityStartedEvent(activity))

	return nil
}

// EndActivity transitions Running|Revealed -> Idle.
func (c *Controller) EndActivity(ctx context.Context, code string) error {
	st, err := c.session(ctx, code)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.ended {
		return interfaces.ErrSessionEnded
	}
	if st.phase == StateIdle {
		return ErrNoActiveActivity
	}

	return c.endActivityLocked(ctx, code, st)
}

// endActivityLocked performs the -> Idle transition with st.mu held.
func (c *Controller) endActivityLocked(ctx context.Context, code string, st *sessionState) error {
	if err := c.persist(ctx, func(ctx context.Context) error {
		return c.store.SetActiveActivity(ctx, code, nil)
	}); err != nil {
		return fmt.Errorf("failed to persist activity end: %w", err)
	}

	st.phase = StateIdle
	st.activity = nil

	log.Printf("lifecycle: activity ended session=%s", code)
	c.rooms.BroadcastToViewers(code, types.NewActivityEndedEvent())

	return nil
}

// ChangeSlide navigates to a slide. Valid from any state: any running
// activity is force-ended first, then the index is persisted and announced.
// If the destination slide has an anchored activity, it auto-starts after a
// short delay so clients can finish clearing their view. Out-of-range
// indexes are rejected with no state change and no broadcast.
func (c *Controller) ChangeSlide(ctx context.Context, code string, index int) error {
	st, err := c.session(ctx, code)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.ended {
		return interfaces.ErrSessionEnded
	}
	if index < 0 || index >= st.deck.SlideCount() {
		return ErrSlideOutOfRange
	}

	if st.phase != StateIdle {
		if err := c.endActivityLocked(ctx, code, st); err != nil {
			return err
		}
	}

	if err := c.persist(ctx, func(ctx context.Context) error {
		return c.store.UpdateSlide(ctx, code, index)
	}); err != nil {
		return fmt.Errorf("failed to persist slide change: %w", err)
	}

	st.slide = index

	log.Printf("lifecycle: slide changed session=%s slide=%d", code, index)
	c.rooms.BroadcastToViewers(code, types.NewSlideChangedEvent(index))

	if next := st.deck.ActivityForSlide(index); next != nil {
		activity := *next
		time.AfterFunc(c.autoStartDelay, func() {
			c.autoStart(code, activity, index)
		})
	}

	return nil
}

// autoStart fires after the post-navigation delay. The session may have
// moved on in the meantime, so it only starts the activity if the session is
// still on the anchoring slide with nothing running.
func (c *Controller) autoStart(code string, activity types.Activity, slide int) {
	c.mu.Lock()
	st := c.sessions[code]
	c.mu.Unlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.ended || st.phase != StateIdle || st.slide != slide {
		return
	}

	if err := c.startLocked(context.Background(), code, st, activity); err != nil {
		log.Printf("lifecycle: auto-start failed session=%s activity=%s: %v", code, activity.ID, err)
	}
}

// ShowResults transitions Running -> Revealed. The aggregator computes a
// snapshot which is broadcast to viewers. The store's active-activity field
// is left untouched.
func (c *Controller) ShowResults(ctx context.Context, code, activityID string) error {
	st, err := c.session(ctx, code)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.ended {
		return interfaces.ErrSessionEnded
	}
	if st.phase != StateRunning {
		return ErrNotRunning
	}
	if st.activity.ID != activityID {
		return ErrActivityMismatch
	}

	snapshot := c.answers.Snapshot(code, st.activity)
	st.phase = StateRevealed

	log.Printf("lifecycle: results revealed session=%s activity=%s responses=%d", code, activityID, snapshot.TotalResponses)
	c.rooms.BroadcastToViewers(code, types.NewResultsRevealedEvent(activityID, snapshot))

	return nil
}

// EndSession terminates the session from any state: liveness is cleared in
// the store, session-ended goes to all members, and every trace of the code
// is discarded in memory. Later events for the code are rejected.
func (c *Controller) EndSession(ctx context.Context, code string) error {
	st, err := c.session(ctx, code)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.ended {
		return interfaces.ErrSessionEnded
	}

	if err := c.persist(ctx, func(ctx context.Context) error {
		return c.store.EndSession(ctx, code)
	}); err != nil {
		return fmt.Errorf("failed to persist session end: %w", err)
	}

	st.ended = true
	st.phase = StateIdle
	st.activity = nil

	log.Printf("lifecycle: session ended session=%s", code)
	c.rooms.BroadcastToRoom(code, types.NewSessionEndedEvent())
	c.rooms.CloseRoom(code)
	c.answers.Discard(code)

	c.mu.Lock()
	delete(c.sessions, code)
	c.mu.Unlock()

	return nil
}

// RunningActivity validates that the session is Running with the given
// activity and returns a copy of the frozen snapshot. The aggregator's
// submission gate.
func (c *Controller) RunningActivity(ctx context.Context, code, activityID string) (types.Activity, error) {
	st, err := c.session(ctx, code)
	if err != nil {
		return types.Activity{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.ended {
		return types.Activity{}, interfaces.ErrSessionEnded
	}
	if st.phase != StateRunning {
		return types.Activity{}, ErrNotRunning
	}
	if st.activity.ID != activityID {
		return types.Activity{}, ErrActivityMismatch
	}

	return *st.activity, nil
}

// Phase reports the lifecycle state of a session the controller has in
// memory.
func (c *Controller) Phase(code string) (State, bool) {
	c.mu.Lock()
	st := c.sessions[code]
	c.mu.Unlock()
	if st == nil {
		return StateIdle, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.phase, true
}

// session returns the in-memory state for a live session, loading it from
// the store on first contact. A session resuming with a persisted active
// activity comes back as Running.
func (c *Controller) session(ctx context.Context, code string) (*sessionState, error) {
	c.mu.Lock()
	if st, ok := c.sessions[code]; ok {
		c.mu.Unlock()
		return st, nil
	}
	c.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	session, err := c.store.GetLiveSession(loadCtx, code)
	if err != nil {
		return nil, err
	}

	deck, err := c.presentations.GetPresentation(loadCtx, session.PresentationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load presentation for session %s: %w", code, err)
	}

	st := &sessionState{
		phase: StateIdle,
		slide: session.CurrentSlide,
		deck:  deck,
	}
	if session.ActiveActivity != nil {
		st.phase = StateRunning
		st.activity = session.ActiveActivity
	}

	c.mu.Lock()
	if existing, ok := c.sessions[code]; ok {
		// Lost the load race; use the state the winner installed.
		c.mu.Unlock()
		return existing, nil
	}
	c.sessions[code] = st
	c.mu.Unlock()

	if st.phase == StateRunning {
		// Rehydrate the tally so the next snapshot matches the durable list.
		c.answers.Seed(code, st.activity.ID, session.Answers)
	}
	return st, nil
}

// persist runs a store mutation under the configured deadline. A timeout is
// treated as a store failure and the surrounding transition is aborted
// before any broadcast.
func (c *Controller) persist(ctx context.Context, op func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	return op(opCtx)
}
