package types

import (
	"strings"
)

// NormalizeSessionCode upper-cases a code the way clients are expected to
// display it. Codes are compared in normalized form everywhere.
func NormalizeSessionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidSessionCode reports whether code is 6 characters drawn from the
// session code alphabet. Codes are normalized to upper case before checking.
func IsValidSessionCode(code string) bool {
	if len(code) != SessionCodeLength {
		return false
	}
	for _, c := range strings.ToUpper(code) {
		if !strings.ContainsRune(SessionCodeAlphabet, c) {
			return false
		}
	}
	return true
}

// IsValidRole reports whether role is one of the two connection roles.
func IsValidRole(role Role) bool {
	return role == RolePresenter || role == RoleViewer
}

// Validate checks that an activity definition is usable as a session's
// frozen activity snapshot. Exactly-one-correct-option is intended usage,
// not enforced here.
func (a *Activity) Validate() error {
	if a.ID == "" {
		return ErrActivityMissingID
	}
	if a.Question == "" {
		return ErrActivityMissingQuestion
	}
	switch a.Kind {
	case ActivityChoice:
		if len(a.Options) == 0 {
			return ErrActivityMissingOptions
		}
	case ActivityOpenEnded:
		// Open-ended activities carry no options.
	default:
		return ErrInvalidActivityKind
	}
	return nil
}

// Validate checks a presentation definition at creation time. Slide indexes
// referenced by activities must exist in the deck.
func (p *Presentation) Validate() error {
	if p.Title == "" {
		return ErrPresentationMissingTitle
	}
	if len(p.Slides) == 0 {
		return ErrPresentationMissingSlides
	}
	for i := range p.Activities {
		if err := p.Activities[i].Validate(); err != nil {
			return err
		}
		if p.Activities[i].SlideIndex < 0 || p.Activities[i].SlideIndex >= len(p.Slides) {
			return ErrActivitySlideOutOfRange
		}
	}
	return nil
}
