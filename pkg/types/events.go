package types

import (
	"encoding/json"
)

// Inbound event names. Each name has exactly one payload struct below;
// unknown names are rejected at the router boundary.
const (
	EventJoinSession   = "join-session"
	EventChangeSlide   = "change-slide"
	EventStartActivity = "start-activity"
	EventSubmitAnswer  = "submit-answer"
	EventShowResults   = "show-results"
	EventEndActivity   = "end-activity"
	EventEndSession    = "end-session"
)

// Outbound event names delivered to room members. Delivery is best-effort
// and at-most-once; callers must not assume receipt.
const (
	EventViewerJoined    = "viewer-joined"
	EventViewerLeft      = "viewer-left"
	EventSlideChanged    = "slide-changed"
	EventActivityStarted = "activity-started"
	EventActivityEnded   = "activity-ended"
	EventResultsRevealed = "results-revealed"
	EventSessionEnded    = "session-ended"
	EventAnswerReceived  = "answer-received"
	EventError           = "error"
)

// Event is the wire envelope for every room-scoped message, inbound and
// outbound.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodePayload unmarshals the envelope payload into v.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return ErrMalformedPayload
	}
	return nil
}

// Inbound payloads.

type JoinSessionPayload struct {
	SessionCode string `json:"session_code"`
	Role        Role   `json:"role"`
	ViewerID    string `json:"viewer_id,omitempty"`
	ViewerName  string `json:"viewer_name,omitempty"`
}

type ChangeSlidePayload struct {
	SessionCode string `json:"session_code"`
	SlideIndex  int    `json:"slide_index"`
}

type StartActivityPayload struct {
	SessionCode string   `json:"session_code"`
	Activity    Activity `json:"activity"`
}

// SubmitAnswerPayload intentionally has no correctness field; the aggregator
// computes it from the frozen activity definition.
type SubmitAnswerPayload struct {
	SessionCode string `json:"session_code"`
	ViewerID    string `json:"viewer_id"`
	ViewerName  string `json:"viewer_name"`
	ActivityID  string `json:"activity_id"`
	Answer      string `json:"answer"`
}

type ShowResultsPayload struct {
	SessionCode string `json:"session_code"`
	ActivityID  string `json:"activity_id"`
}

type EndActivityPayload struct {
	SessionCode string `json:"session_code"`
}

type EndSessionPayload struct {
	SessionCode string `json:"session_code"`
}

// Outbound payloads.

type ViewerJoinedPayload struct {
	ViewerID    string `json:"viewer_id"`
	ViewerName  string `json:"viewer_name"`
	MemberCount int    `json:"member_count"`
}

type ViewerLeftPayload struct {
	ViewerID string `json:"viewer_id"`
}

type SlideChangedPayload struct {
	SlideIndex int `json:"slide_index"`
}

type ActivityStartedPayload struct {
	Activity Activity `json:"activity"`
}

type ResultsRevealedPayload struct {
	ActivityID string          `json:"activity_id"`
	Results    ResultsSnapshot `json:"results"`
}

type AnswerReceivedPayload struct {
	ViewerID   string `json:"viewer_id"`
	ViewerName string `json:"viewer_name"`
	ActivityID string `json:"activity_id"`
	Answer     string `json:"answer"`
	Correct    bool   `json:"correct"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// OptionResult is one option's tally within a choice snapshot. Percent is
// derived at snapshot time, rounded to the nearest whole percent.
type OptionResult struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
	Count   int    `json:"count"`
	Percent int    `json:"percent"`
}

// OpenAnswer is one open-ended response, in submission order.
type OpenAnswer struct {
	ViewerName string `json:"viewer_name"`
	Answer     string `json:"answer"`
}

// ResultsSnapshot is a point-in-time aggregation of one activity's answers,
// recomputed from the raw answer list on every request.
type ResultsSnapshot struct {
	ActivityID     string         `json:"activity_id"`
	Kind           ActivityKind   `json:"kind"`
	Question       string         `json:"question"`
	Options        []OptionResult `json:"options,omitempty"`
	Answers        []OpenAnswer   `json:"answers,omitempty"`
	TotalResponses int            `json:"total_responses"`
}

// newEvent marshals payload into an envelope. Payload structs are plain data
// and cannot fail to marshal, so errors are swallowed here.
func newEvent(eventType string, payload any) Event {
	raw, _ := json.Marshal(payload)
	return Event{Type: eventType, Payload: raw}
}

func NewViewerJoinedEvent(viewerID, viewerName string, memberCount int) Event {
	return newEvent(EventViewerJoined, ViewerJoinedPayload{
		ViewerID:    viewerID,
		ViewerName:  viewerName,
		MemberCount: memberCount,
	})
}

func NewViewerLeftEvent(viewerID string) Event {
	return newEvent(EventViewerLeft, ViewerLeftPayload{ViewerID: viewerID})
}

func NewSlideChangedEvent(slideIndex int) Event {
	return newEvent(EventSlideChanged, SlideChangedPayload{SlideIndex: slideIndex})
}

func NewActivityStartedEvent(activity Activity) Event {
	return newEvent(EventActivityStarted, ActivityStartedPayload{Activity: activity})
}

func NewActivityEndedEvent() Event {
	return Event{Type: EventActivityEnded}
}

func NewResultsRevealedEvent(activityID string, results ResultsSnapshot) Event {
	return newEvent(EventResultsRevealed, ResultsRevealedPayload{
		ActivityID: activityID,
		Results:    results,
	})
}

func NewSessionEndedEvent() Event {
	return Event{Type: EventSessionEnded}
}

func NewAnswerReceivedEvent(answer Answer) Event {
	return newEvent(EventAnswerReceived, AnswerReceivedPayload{
		ViewerID:   answer.ViewerID,
		ViewerName: answer.ViewerName,
		ActivityID: answer.ActivityID,
		Answer:     answer.Value,
		Correct:    answer.Correct,
	})
}

func NewErrorEvent(message string) Event {
	return newEvent(EventError, ErrorPayload{Message: message})
}
