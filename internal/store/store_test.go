package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidecast/pkg/database"
	"slidecast/pkg/interfaces"
	"slidecast/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	db, err := database.Open(database.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)

	m := NewManager(db)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func testSession(id, code string) *types.Session {
	return &types.Session{
		ID:             id,
		Code:           code,
		PresentationID: "pres-1",
		PresenterName:  "Alice",
		Live:           true,
		Viewers:        []types.Viewer{},
		Answers:        []types.Answer{},
		CreatedAt:      time.Now().UTC(),
	}
}

func TestCreateAndGetSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, testSession("sess-1", "ABC234")))

	got, err := m.GetLiveSession(ctx, "ABC234")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ID)
	assert.Equal(t, "Alice", got.PresenterName)
	assert.True(t, got.Live)
	assert.Equal(t, 0, got.CurrentSlide)
	assert.Nil(t, got.ActiveActivity)
}

func TestGetLiveSessionNotFound(t *testing.T) {
	m := newTestManager(t)

	_, err := m.GetLiveSession(context.Background(), "ZZZZ22")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestLiveCodeUniqueness(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, testSession("sess-1", "ABC234")))

	err := m.CreateSession(ctx, testSession("sess-2", "ABC234"))
	assert.ErrorIs(t, err, interfaces.ErrCodeInUse)
}

func TestAbandonedWriteDoesNotCommit(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, testSession("sess-1", "ABC234")))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, m.UpdateSlide(cancelled, "ABC234", 3))

	got, err := m.GetLiveSession(ctx, "ABC234")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentSlide, "a write whose caller gave up must not land")
}

func TestCodeReusableAfterEnd(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, testSession("sess-1", "ABC234")))
	require.NoError(t, m.EndSession(ctx, "ABC234"))

	// The ended session released its code.
	require.NoError(t, m.CreateSession(ctx, testSession("sess-2", "ABC234")))

	got, err := m.GetLiveSession(ctx, "ABC234")
	require.NoError(t, err)
	assert.Equal(t, "sess-2", got.ID)
}

func TestEndSessionClearsStateAndLiveness(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, testSession("sess-1", "ABC234")))
	require.NoError(t, m.SetActiveActivity(ctx, "ABC234", &types.Activity{
		ID:       "act-1",
		Kind:     types.ActivityOpenEnded,
		Question: "Q",
	}))
	require.NoError(t, m.EndSession(ctx, "ABC234"))

	_, err := m.GetLiveSession(ctx, "ABC234")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)

	// The historical record survives with activity cleared.
	got, err := m.GetSessionByCode(ctx, "ABC234")
	require.NoError(t, err)
	assert.False(t, got.Live)
	assert.Nil(t, got.ActiveActivity)
}

func TestEndSessionNotFound(t *testing.T) {
	m := newTestManager(t)
	err := m.EndSession(context.Background(), "ZZZZ22")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestUpdateSlide(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, testSession("sess-1", "ABC234")))
	require.NoError(t, m.UpdateSlide(ctx, "ABC234", 7))

	got, err := m.GetLiveSession(ctx, "ABC234")
	require.NoError(t, err)
	assert.Equal(t, 7, got.CurrentSlide)

	err = m.UpdateSlide(ctx, "ZZZZ22", 1)
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestSetAndClearActiveActivity(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, testSession("sess-1", "ABC234")))

	activity := &types.Activity{
		ID:       "act-1",
		Kind:     types.ActivityChoice,
		Question: "Pick one",
		Options:  []types.Option{{Text: "A"}, {Text: "B", Correct: true}},
	}
	require.NoError(t, m.SetActiveActivity(ctx, "ABC234", activity))

	got, err := m.GetLiveSession(ctx, "ABC234")
	require.NoError(t, err)
	require.NotNil(t, got.ActiveActivity)
	assert.Equal(t, "act-1", got.ActiveActivity.ID)
	require.Len(t, got.ActiveActivity.Options, 2)
	assert.True(t, got.ActiveActivity.Options[1].Correct)

	require.NoError(t, m.SetActiveActivity(ctx, "ABC234", nil))
	got, err = m.GetLiveSession(ctx, "ABC234")
	require.NoError(t, err)
	assert.Nil(t, got.ActiveActivity)
}

func TestAppendViewer(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, testSession("sess-1", "ABC234")))

	for _, name := range []string{"Bob", "Carol"} {
		require.NoError(t, m.AppendViewer(ctx, "ABC234", types.Viewer{
			ID:       "viewer_" + name,
			Name:     name,
			JoinedAt: time.Now().UTC(),
		}))
	}

	got, err := m.GetLiveSession(ctx, "ABC234")
	require.NoError(t, err)
	require.Len(t, got.Viewers, 2)
	assert.Equal(t, "Bob", got.Viewers[0].Name)
	assert.Equal(t, "Carol", got.Viewers[1].Name)
}

func TestAppendAnswerIsAppendOnly(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, testSession("sess-1", "ABC234")))

	// The same viewer twice: both records are kept.
	for _, value := range []string{"1", "0"} {
		require.NoError(t, m.AppendAnswer(ctx, "ABC234", types.Answer{
			ViewerID:    "viewer_1",
			ViewerName:  "Bob",
			ActivityID:  "act-1",
			Value:       value,
			SubmittedAt: time.Now().UTC(),
		}))
	}

	got, err := m.GetLiveSession(ctx, "ABC234")
	require.NoError(t, err)
	require.Len(t, got.Answers, 2)
	assert.Equal(t, "1", got.Answers[0].Value)
	assert.Equal(t, "0", got.Answers[1].Value)
}

func TestAppendToEndedSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, testSession("sess-1", "ABC234")))
	require.NoError(t, m.EndSession(ctx, "ABC234"))

	err := m.AppendAnswer(ctx, "ABC234", types.Answer{ViewerID: "viewer_1", ActivityID: "act-1", Value: "1"})
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestListLiveSessions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, testSession("sess-1", "ABC234")))
	require.NoError(t, m.CreateSession(ctx, testSession("sess-2", "DEF567")))
	require.NoError(t, m.EndSession(ctx, "DEF567"))

	live, err := m.ListLiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "ABC234", live[0].Code)
}

func TestPresentationRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	pres := &types.Presentation{
		ID:    "pres-1",
		Title: "Deck",
		Slides: []types.Slide{
			{Index: 0, ImagePath: "slides/0.png"},
			{Index: 1, ImagePath: "slides/1.png"},
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
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, m.CreatePresentation(ctx, pres))

	got, err := m.GetPresentation(ctx, "pres-1")
	require.NoError(t, err)
	assert.Equal(t, "Deck", got.Title)
	require.Len(t, got.Slides, 2)
	assert.Equal(t, "slides/1.png", got.Slides[1].ImagePath)
	require.Len(t, got.Activities, 1)
	assert.Equal(t, 1, got.Activities[0].SlideIndex)

	list, err := m.ListPresentations(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGetPresentationNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetPresentation(context.Background(), "nope")
	assert.ErrorIs(t, err, interfaces.ErrPresentationNotFound)
}

func TestHealthCheck(t *testing.T) {
	m := newTestManager(t)
	assert.NoError(t, m.HealthCheck(context.Background()))
}

func TestCloseIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	err := m.CreateSession(context.Background(), testSession("sess-1", "ABC234"))
	assert.Error(t, err, "writes after close must fail")
}
