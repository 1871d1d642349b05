package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidecast/pkg/interfaces"
	"slidecast/pkg/types"
)

// mockStore is an in-memory SessionStore and PresentationStore with
// injectable failures.
type mockStore struct {
	mu            sync.Mutex
	sessions      map[string]*types.Session
	presentations map[string]*types.Presentation

	failSetActivity bool
}

func newMockStore() *mockStore {
	return &mockStore{
		sessions:      make(map[string]*types.Session),
		presentations: make(map[string]*types.Presentation),
	}
}

func (s *mockStore) CreateSession(_ context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Code] = session
	return nil
}

func (s *mockStore) GetSessionByCode(_ context.Context, code string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[code]; ok {
		copied := *sess
		return &copied, nil
	}
	return nil, interfaces.ErrSessionNotFound
}

func (s *mockStore) GetLiveSession(_ context.Context, code string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[code]; ok && sess.Live {
		copied := *sess
		return &copied, nil
	}
	return nil, interfaces.ErrSessionNotFound
}

func (s *mockStore) UpdateSlide(_ context.Context, code string, slideIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[code]
	if !ok || !sess.Live {
		return interfaces.ErrSessionNotFound
	}
	sess.CurrentSlide = slideIndex
	return nil
}

func (s *mockStore) SetActiveActivity(_ context.Context, code string, activity *types.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSetActivity {
		return errors.New("disk full")
	}
	sess, ok := s.sessions[code]
	if !ok || !sess.Live {
		return interfaces.ErrSessionNotFound
	}
	sess.ActiveActivity = activity
	return nil
}

func (s *mockStore) AppendViewer(_ context.Context, code string, viewer types.Viewer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[code]
	if !ok || !sess.Live {
		return interfaces.ErrSessionNotFound
	}
	sess.Viewers = append(sess.Viewers, viewer)
	return nil
}

func (s *mockStore) AppendAnswer(_ context.Context, code string, answer types.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[code]
	if !ok || !sess.Live {
		return interfaces.ErrSessionNotFound
	}
	sess.Answers = append(sess.Answers, answer)
	return nil
}

func (s *mockStore) EndSession(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[code]
	if !ok || !sess.Live {
		return interfaces.ErrSessionNotFound
	}
	sess.Live = false
	sess.ActiveActivity = nil
	return nil
}

func (s *mockStore) ListLiveSessions(_ context.Context) ([]*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var live []*types.Session
	for _, sess := range s.sessions {
		if sess.Live {
			copied := *sess
			live = append(live, &copied)
		}
	}
	return live, nil
}

func (s *mockStore) CreatePresentation(_ context.Context, presentation *types.Presentation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presentations[presentation.ID] = presentation
	return nil
}

func (s *mockStore) GetPresentation(_ context.Context, id string) (*types.Presentation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.presentations[id]; ok {
		return p, nil
	}
	return nil, interfaces.ErrPresentationNotFound
}

func (s *mockStore) ListPresentations(_ context.Context) ([]*types.Presentation, error) {
	return nil, nil
}

func (s *mockStore) persistedActivity(code string) *types.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[code]; ok {
		return sess.ActiveActivity
	}
	return nil
}

// mockBroadcaster records every broadcast in a single ordered log.
type mockBroadcaster struct {
	mu     sync.Mutex
	log    []string // "audience:event-type"
	closed []string
}

func (b *mockBroadcaster) record(audience string, event types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = append(b.log, audience+":"+event.Type)
}

func (b *mockBroadcaster) BroadcastToRoom(code string, event types.Event) { b.record("room", event) }
func (b *mockBroadcaster) BroadcastToViewers(code string, event types.Event) {
	b.record("viewers", event)
}
func (b *mockBroadcaster) BroadcastToPresenters(code string, event types.Event) {
	b.record("presenters", event)
}
func (b *mockBroadcaster) BroadcastToOthers(conn interfaces.Connection, event types.Event) {
	b.record("others", event)
}
func (b *mockBroadcaster) CloseRoom(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, code)
}

func (b *mockBroadcaster) entries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.log...)
}

// mockAnswers records aggregator calls.
type mockAnswers struct {
	mu        sync.Mutex
	cleared   []string
	discarded []string
	seeded    map[string][]types.Answer // activity id -> seeded answers
	snapshot  types.ResultsSnapshot
}

func (a *mockAnswers) Clear(code, activityID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleared = append(a.cleared, activityID)
}

func (a *mockAnswers) Snapshot(code string, activity *types.Activity) types.ResultsSnapshot {
	return a.snapshot
}

func (a *mockAnswers) Seed(code, activityID string, answers []types.Answer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seeded == nil {
		a.seeded = make(map[string][]types.Answer)
	}
	a.seeded[activityID] = append([]types.Answer(nil), answers...)
}

func (a *mockAnswers) Discard(code string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discarded = append(a.discarded, code)
}

func testDeck() *types.Presentation {
	return &types.Presentation{
		ID:    "pres-1",
		Title: "Deck",
		Slides: []types.Slide{
			{Index: 0}, {Index: 1}, {Index: 2},
		},
		Activities: []types.Activity{
			{
				ID:         "act-1",
				SlideIndex: 1,
				Kind:       types.ActivityChoice,
				Question:   "Pick one",
				Options:    []types.Option{{Text: "A"}, {Text: "B", Correct: true}},
			},
		},
	}
}

func newTestController(t *testing.T, autoStartDelay time.Duration) (*Controller, *mockStore, *mockBroadcaster, *mockAnswers) {
	t.Helper()

	store := newMockStore()
	require.NoError(t, store.CreatePresentation(context.Background(), testDeck()))
	require.NoError(t, store.CreateSession(context.Background(), &types.Session{
		ID:             "sess-1",
		Code:           "ABC234",
		PresentationID: "pres-1",
		Live:           true,
	}))

	rooms := &mockBroadcaster{}
	answers := &mockAnswers{}
	ctrl := NewController(store, store, rooms, autoStartDelay, time.Second)
	ctrl.SetAnswers(answers)
	return ctrl, store, rooms, answers
}

func activity() types.Activity {
	return types.Activity{
		ID:         "act-1",
		SlideIndex: 1,
		Kind:       types.ActivityChoice,
		Question:   "Pick one",
		Options:    []types.Option{{Text: "A"}, {Text: "B", Correct: true}},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStartActivityTransitionsToRunning(t *testing.T) {
	ctrl, store, rooms, answers := newTestController(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, ctrl.StartActivity(ctx, "ABC234", activity()))

	phase, ok := ctrl.Phase("ABC234")
	require.True(t, ok)
	assert.Equal(t, StateRunning, phase)
	assert.NotNil(t, store.persistedActivity("ABC234"), "snapshot must be persisted")
	assert.Equal(t, []string{"viewers:activity-started"}, rooms.entries())
	assert.Equal(t, []string{"act-1"}, answers.cleared)
}

func TestStartActivityRejectedWhileRunning(t *testing.T) {
	ctrl, _, rooms, _ := newTestController(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, ctrl.StartActivity(ctx, "ABC234", activity()))
	err := ctrl.StartActivity(ctx, "ABC234", activity())
	assert.ErrorIs(t, err, ErrActivityInProgress)
	assert.Len(t, rooms.entries(), 1, "the rejection must not broadcast")
}

func TestStartActivityFailClosed(t *testing.T) {
	ctrl, store, rooms, _ := newTestController(t, time.Hour)
	store.failSetActivity = true

	err := ctrl.StartActivity(context.Background(), "ABC234", activity())
	require.Error(t, err)

	phase, ok := ctrl.Phase("ABC234")
	require.True(t, ok)
	assert.Equal(t, StateIdle, phase, "failed persistence must leave the state unchanged")
	assert.Empty(t, rooms.entries(), "nothing may be broadcast when persistence fails")
}

func TestStartActivityRejectsInvalidDefinition(t *testing.T) {
	ctrl, _, rooms, _ := newTestController(t, time.Hour)

	bad := activity()
	bad.Options = nil
	err := ctrl.StartActivity(context.Background(), "ABC234", bad)
	assert.ErrorIs(t, err, types.ErrActivityMissingOptions)
	assert.Empty(t, rooms.entries())
}

func TestEndActivityTransitionsToIdle(t *testing.T) {
	ctrl, store, rooms, _ := newTestController(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, ctrl.StartActivity(ctx, "ABC234", activity()))
	require.NoError(t, ctrl.EndActivity(ctx, "ABC234"))

	phase, _ := ctrl.Phase("ABC234")
	assert.Equal(t, StateIdle, phase)
	assert.Nil(t, store.persistedActivity("ABC234"), "the persisted snapshot must be cleared")
	assert.Equal(t, []string{"viewers:activity-started", "viewers:activity-ended"}, rooms.entries())
}

func TestEndActivityWithoutOneIsRejected(t *testing.T) {
	ctrl, _, _, _ := newTestController(t, time.Hour)
	err := ctrl.EndActivity(context.Background(), "ABC234")
	assert.ErrorIs(t, err, ErrNoActiveActivity)
}

func TestChangeSlideBroadcastsAndPersists(t *testing.T) {
	ctrl, store, rooms, _ := newTestController(t, time.Hour)

	require.NoError(t, ctrl.ChangeSlide(context.Background(), "ABC234", 2))

	sess, err := store.GetLiveSession(context.Background(), "ABC234")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.CurrentSlide)
	assert.Equal(t, []string{"viewers:slide-changed"}, rooms.entries())
}

func TestChangeSlideOutOfRange(t *testing.T) {
	ctrl, store, rooms, _ := newTestController(t, time.Hour)

	for _, index := range []int{-1, 3, 99} {
		err := ctrl.ChangeSlide(context.Background(), "ABC234", index)
		assert.ErrorIs(t, err, ErrSlideOutOfRange)
	}

	sess, err := store.GetLiveSession(context.Background(), "ABC234")
	require.NoError(t, err)
	assert.Equal(t, 0, sess.CurrentSlide, "rejected navigation must not move the slide")
	assert.Empty(t, rooms.entries())
}

func TestChangeSlideForceEndsRunningActivity(t *testing.T) {
	ctrl, _, rooms, _ := newTestController(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, ctrl.StartActivity(ctx, "ABC234", activity()))
	require.NoError(t, ctrl.ChangeSlide(ctx, "ABC234", 2))

	phase, _ := ctrl.Phase("ABC234")
	assert.Equal(t, StateIdle, phase)
	assert.Equal(t, []string{
		"viewers:activity-started",
		"viewers:activity-ended",
		"viewers:slide-changed",
	}, rooms.entries(), "the forced end must be announced before the navigation")
}

func TestChangeSlideAutoStartsAnchoredActivity(t *testing.T) {
	ctrl, _, rooms, _ := newTestController(t, 5*time.Millisecond)

	// Slide 1 carries act-1; navigation should announce the slide first,
	// then start the activity after the delay.
	require.NoError(t, ctrl.ChangeSlide(context.Background(), "ABC234", 1))

	waitFor(t, func() bool {
		phase, _ := ctrl.Phase("ABC234")
		return phase == StateRunning
	})
	assert.Equal(t, []string{"viewers:slide-changed", "viewers:activity-started"}, rooms.entries())
}

func TestAutoStartAbortsWhenSlideMovesOn(t *testing.T) {
	ctrl, _, rooms, _ := newTestController(t, 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, ctrl.ChangeSlide(ctx, "ABC234", 1))
	require.NoError(t, ctrl.ChangeSlide(ctx, "ABC234", 2))

	time.Sleep(100 * time.Millisecond)

	phase, _ := ctrl.Phase("ABC234")
	assert.Equal(t, StateIdle, phase, "a stale timer must not start the activity")
	assert.Equal(t, []string{"viewers:slide-changed", "viewers:slide-changed"}, rooms.entries())
}

func TestShowResultsTransitionsToRevealed(t *testing.T) {
	ctrl, _, rooms, answers := newTestController(t, time.Hour)
	ctx := context.Background()
	answers.snapshot = types.ResultsSnapshot{ActivityID: "act-1", TotalResponses: 3}

	require.NoError(t, ctrl.StartActivity(ctx, "ABC234", activity()))
	require.NoError(t, ctrl.ShowResults(ctx, "ABC234", "act-1"))

	phase, _ := ctrl.Phase("ABC234")
	assert.Equal(t, StateRevealed, phase)
	assert.Equal(t, []string{"viewers:activity-started", "viewers:results-revealed"}, rooms.entries())

	// Submissions are closed once revealed.
	_, err := ctrl.RunningActivity(ctx, "ABC234", "act-1")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestShowResultsRequiresRunning(t *testing.T) {
	ctrl, _, _, _ := newTestController(t, time.Hour)
	err := ctrl.ShowResults(context.Background(), "ABC234", "act-1")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestShowResultsActivityMismatch(t *testing.T) {
	ctrl, _, _, _ := newTestController(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, ctrl.StartActivity(ctx, "ABC234", activity()))
	err := ctrl.ShowResults(ctx, "ABC234", "act-other")
	assert.ErrorIs(t, err, ErrActivityMismatch)
}

func TestEndSessionTearsEverythingDown(t *testing.T) {
	ctrl, store, rooms, answers := newTestController(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, ctrl.StartActivity(ctx, "ABC234", activity()))
	require.NoError(t, ctrl.EndSession(ctx, "ABC234"))

	_, err := store.GetLiveSession(ctx, "ABC234")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
	assert.Contains(t, rooms.entries(), "room:session-ended")
	assert.Equal(t, []string{"ABC234"}, rooms.closed)
	assert.Equal(t, []string{"ABC234"}, answers.discarded)

	// The code is gone from memory; later events fail the store lookup.
	err = ctrl.StartActivity(ctx, "ABC234", activity())
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestRunningActivityGate(t *testing.T) {
	ctrl, _, _, _ := newTestController(t, time.Hour)
	ctx := context.Background()

	_, err := ctrl.RunningActivity(ctx, "ABC234", "act-1")
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, ctrl.StartActivity(ctx, "ABC234", activity()))

	got, err := ctrl.RunningActivity(ctx, "ABC234", "act-1")
	require.NoError(t, err)
	assert.Equal(t, "act-1", got.ID)

	_, err = ctrl.RunningActivity(ctx, "ABC234", "act-other")
	assert.ErrorIs(t, err, ErrActivityMismatch)
}

func TestSessionResumesRunningFromStore(t *testing.T) {
	store := newMockStore()
	require.NoError(t, store.CreatePresentation(context.Background(), testDeck()))
	act := activity()
	recorded := []types.Answer{
		{ViewerID: "viewer_1", ViewerName: "Bob", ActivityID: "act-1", Value: "1", Correct: true},
		{ViewerID: "viewer_2", ViewerName: "Carol", ActivityID: "act-0", Value: "0"},
	}
	require.NoError(t, store.CreateSession(context.Background(), &types.Session{
		ID:             "sess-1",
		Code:           "ABC234",
		PresentationID: "pres-1",
		CurrentSlide:   1,
		Live:           true,
		ActiveActivity: &act,
		Answers:        recorded,
	}))

	ctrl := NewController(store, store, &mockBroadcaster{}, time.Hour, time.Second)
	answers := &mockAnswers{}
	ctrl.SetAnswers(answers)

	got, err := ctrl.RunningActivity(context.Background(), "ABC234", "act-1")
	require.NoError(t, err)
	assert.Equal(t, "act-1", got.ID, "a persisted active activity must resume as running")

	// The durable answer list is handed to the aggregator so the next
	// snapshot counts answers recorded before the restart.
	answers.mu.Lock()
	defer answers.mu.Unlock()
	require.Len(t, answers.seeded["act-1"], 2)
	assert.Equal(t, "viewer_1", answers.seeded["act-1"][0].ViewerID)
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	ctrl, _, _, _ := newTestController(t, time.Hour)
	err := ctrl.ChangeSlide(context.Background(), "ZZZZZZ", 1)
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}
