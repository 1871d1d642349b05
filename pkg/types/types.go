package types

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Role identifies what a connection is allowed to do within a room.
type Role string

const (
	RolePresenter Role = "presenter"
	RoleViewer    Role = "viewer"
)

// ActivityKind distinguishes the two interactive activity shapes.
type ActivityKind string

const (
	ActivityChoice    ActivityKind = "choice"
	ActivityOpenEnded ActivityKind = "open-ended"
)

// SessionCodeAlphabet deliberately excludes I, O, 0 and 1 so codes read
// unambiguously off a projector.
const SessionCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// SessionCodeLength is the fixed length of a shareable session code.
const SessionCodeLength = 6

// Option is one selectable answer of a choice activity.
type Option struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Activity is an interactive question anchored to a slide. SlideIndex is
// 0-based, matching Session.CurrentSlide. Options is empty for open-ended
// activities.
type Activity struct {
	ID         string       `json:"id"`
	SlideIndex int          `json:"slide_index"`
	Kind       ActivityKind `json:"kind"`
	Question   string       `json:"question"`
	Options    []Option     `json:"options,omitempty"`
}

// Slide references one rendered slide image of a presentation.
type Slide struct {
	Index     int    `json:"index"`
	ImagePath string `json:"image_path"`
}

// Presentation is an ordered slide deck with activity definitions. It is
// owned independently of any session and may be referenced by many sessions.
type Presentation struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Slides     []Slide    `json:"slides"`
	Activities []Activity `json:"activities"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SlideCount returns the number of slides in the deck.
func (p *Presentation) SlideCount() int {
	return len(p.Slides)
}

// ActivityForSlide returns the activity anchored to the given slide index,
// or nil if the slide has none.
func (p *Presentation) ActivityForSlide(index int) *Activity {
	for i := range p.Activities {
		if p.Activities[i].SlideIndex == index {
			return &p.Activities[i]
		}
	}
	return nil
}

// ActivityByID returns the activity with the given id, or nil.
func (p *Presentation) ActivityByID(id string) *Activity {
	for i := range p.Activities {
		if p.Activities[i].ID == id {
			return &p.Activities[i]
		}
	}
	return nil
}

// Viewer is one roster entry. The identity is generated per join, so the
// same person rejoining produces a new entry.
type Viewer struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// Answer is one recorded submission. Value holds the option index as a
// decimal string for choice activities and free text for open-ended ones.
// Correct is computed server-side at submission time, never taken from the
// submitter. Answers are append-only.
type Answer struct {
	ViewerID    string    `json:"viewer_id"`
	ViewerName  string    `json:"viewer_name"`
	ActivityID  string    `json:"activity_id"`
	Value       string    `json:"value"`
	Correct     bool      `json:"correct"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Session is the durable record of one live presentation run. ActiveActivity
// holds a frozen copy of the running activity's definition; edits to the
// source presentation after start-activity do not reach it.
type Session struct {
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	PresentationID string    `json:"presentation_id"`
	PresenterName  string    `json:"presenter_name"`
	CurrentSlide   int       `json:"current_slide"`
	Live           bool      `json:"live"`
	ActiveActivity *Activity `json:"active_activity,omitempty"`
	Viewers        []Viewer  `json:"viewers"`
	Answers        []Answer  `json:"answers"`
	CreatedAt      time.Time `json:"created_at"`
}

// GenerateSessionCode returns a random 6-character code. Uniqueness among
// live sessions is the caller's responsibility (retry against the store).
func GenerateSessionCode() string {
	code := make([]byte, SessionCodeLength)
	for i := range code {
		code[i] = SessionCodeAlphabet[rand.Intn(len(SessionCodeAlphabet))]
	}
	return string(code)
}

// NewViewerID returns a fresh viewer identity. Unique per join, not stable
// across sessions.
func NewViewerID() string {
	return "viewer_" + uuid.New().String()
}
