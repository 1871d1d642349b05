package aggregate

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"slidecast/pkg/interfaces"
	"slidecast/pkg/types"
)

// ActivityGate is the lifecycle controller's submission check: it is the
// sole arbiter of whether a session is Running with the given activity.
type ActivityGate interface {
	RunningActivity(ctx context.Context, code, activityID string) (types.Activity, error)
}

// Aggregator accumulates submissions for the currently running activity and
// computes result snapshots on demand. Tallies are always recomputed from
// the raw answer list rather than kept as running counters, so a snapshot
// cannot drift from the recorded answers.
type Aggregator struct {
	store        interfaces.SessionStore
	rooms        interfaces.Broadcaster
	gate         ActivityGate
	storeTimeout time.Duration

	mu    sync.Mutex
	accum map[string]map[string][]types.Answer // session code -> activity id -> answers
}

// New creates an answer aggregator.
func New(store interfaces.SessionStore, rooms interfaces.Broadcaster, gate ActivityGate, storeTimeout time.Duration) *Aggregator {
	return &Aggregator{
		store:        store,
		rooms:        rooms,
		gate:         gate,
		storeTimeout: storeTimeout,
		accum:        make(map[string]map[string][]types.Answer),
	}
}

// Submit records one answer for the running activity. Correctness for choice
// activities is resolved against the frozen option list; nothing the
// submitter sends can influence it. The answer is durably appended before it
// is accumulated or announced, and announcement goes to presenters only.
//
// No de-duplication: a viewer submitting twice produces two records.
func (a *Aggregator) Submit(ctx context.Context, code, viewerID, viewerName, activityID, rawAnswer string) (*types.Answer, error) {
	activity, err := a.gate.RunningActivity(ctx, code, activityID)
	if err != nil {
		return nil, err
	}

	answer := types.Answer{
		ViewerID:    viewerID,
		ViewerName:  viewerName,
		ActivityID:  activityID,
		Value:       rawAnswer,
		Correct:     resolveCorrect(&activity, rawAnswer),
		SubmittedAt: time.Now(),
	}

	appendCtx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	if err := a.store.AppendAnswer(appendCtx, code, answer); err != nil {
		return nil, fmt.Errorf("failed to persist answer: %w", err)
	}

	a.mu.Lock()
	if a.accum[code] == nil {
		a.accum[code] = make(map[string][]types.Answer)
	}
	a.accum[code][activityID] = append(a.accum[code][activityID], answer)
	a.mu.Unlock()

	log.Printf("aggregate: answer recorded session=%s activity=%s viewer=%s correct=%t", code, activityID, viewerID, answer.Correct)
	a.rooms.BroadcastToPresenters(code, types.NewAnswerReceivedEvent(answer))

	return &answer, nil
}

// Snapshot aggregates every recorded answer for the activity. For choice
// activities: per-option counts, correctness flags and percentages rounded
// to the nearest whole percent (zero answers yields 0% everywhere). For
// open-ended activities: (viewer name, text) pairs in submission order.
func (a *Aggregator) Snapshot(code string, activity *types.Activity) types.ResultsSnapshot {
	a.mu.Lock()
	answers := append([]types.Answer(nil), a.accum[code][activity.ID]...)
	a.mu.Unlock()

	snapshot := types.ResultsSnapshot{
		ActivityID:     activity.ID,
		Kind:           activity.Kind,
		Question:       activity.Question,
		TotalResponses: len(answers),
	}

	if activity.Kind == types.ActivityChoice {
		counts := make([]int, len(activity.Options))
		for _, answer := range answers {
			if index, ok := optionIndex(activity, answer.Value); ok {
				counts[index]++
			}
		}
		snapshot.Options = lo.Map(activity.Options, func(option types.Option, i int) types.OptionResult {
			return types.OptionResult{
				Text:    option.Text,
				Correct: option.Correct,
				Count:   counts[i],
				Percent: percentOf(counts[i], len(answers)),
			}
		})
		return snapshot
	}

	snapshot.Answers = lo.Map(answers, func(answer types.Answer, _ int) types.OpenAnswer {
		return types.OpenAnswer{ViewerName: answer.ViewerName, Answer: answer.Value}
	})
	return snapshot
}

// Seed replaces the accumulated answers for one activity with the durable
// answer list, filtered to that activity. Called when a session resumes with
// an activity already running, so the next snapshot reflects answers recorded
// before the restart.
func (a *Aggregator) Seed(code, activityID string, answers []types.Answer) {
	relevant := lo.Filter(answers, func(answer types.Answer, _ int) bool {
		return answer.ActivityID == activityID
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accum[code] == nil {
		a.accum[code] = make(map[string][]types.Answer)
	}
	a.accum[code][activityID] = relevant
}

// Clear drops accumulated answers for one activity. Called when the
// activity (re)starts.
func (a *Aggregator) Clear(code, activityID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if activities, ok := a.accum[code]; ok {
		delete(activities, activityID)
	}
}

// Discard drops all accumulated state for a session. Called on session end.
func (a *Aggregator) Discard(code string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.accum, code)
}

// resolveCorrect computes the server-side correctness flag. Open-ended
// answers and unparseable or out-of-range option indexes are never correct.
func resolveCorrect(activity *types.Activity, rawAnswer string) bool {
	if activity.Kind != types.ActivityChoice {
		return false
	}
	if index, ok := optionIndex(activity, rawAnswer); ok {
		return activity.Options[index].Correct
	}
	return false
}

// optionIndex parses a raw choice answer into a valid option index.
func optionIndex(activity *types.Activity, rawAnswer string) (int, bool) {
	index, err := strconv.Atoi(strings.TrimSpace(rawAnswer))
	if err != nil || index < 0 || index >= len(activity.Options) {
		return 0, false
	}
	return index, true
}

// percentOf rounds count/total to the nearest whole percent; a zero total
// yields 0, never a division fault.
func percentOf(count, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(count) / float64(total) * 100))
}
