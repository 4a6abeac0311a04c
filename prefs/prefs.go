// Package prefs models per-user notification delivery preferences as a
// closed record: exactly four known categories, unknown keys rejected.
package prefs

import (
	"bytes"
	"encoding/json"

	"github.com/peergrade/pushsync/errors"
)

// Category names a notification category.
type Category string

const (
	ReviewReceived   Category = "review-received"
	DeadlineReminder Category = "deadline-reminder"
	FeedbackReceived Category = "feedback-received"
	MetaReview       Category = "meta-review"
)

// Categories lists every known category.
var Categories = []Category{ReviewReceived, DeadlineReminder, FeedbackReceived, MetaReview}

// Record is a user's full preference record. The wire shape matches the
// preferences endpoints.
type Record struct {
	ReviewReceived   bool `json:"push_review_received"`
	DeadlineReminder bool `json:"push_deadline_reminder"`
	FeedbackReceived bool `json:"push_feedback_received"`
	MetaReview       bool `json:"push_meta_review"`
}

// Default returns the record created implicitly by a first subscribe: every
// category on.
func Default() Record {
	return Record{
		ReviewReceived:   true,
		DeadlineReminder: true,
		FeedbackReceived: true,
		MetaReview:       true,
	}
}

// Enabled reports whether delivery for the given category is on. Unknown
// categories are off.
func (r Record) Enabled(c Category) bool {
	switch c {
	case ReviewReceived:
		return r.ReviewReceived
	case DeadlineReminder:
		return r.DeadlineReminder
	case FeedbackReceived:
		return r.FeedbackReceived
	case MetaReview:
		return r.MetaReview
	}
	return false
}

// ValidCategory reports whether c names a known category.
func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Patch is a partial preference update. Nil fields are left untouched.
type Patch struct {
	ReviewReceived   *bool `json:"push_review_received,omitempty"`
	DeadlineReminder *bool `json:"push_deadline_reminder,omitempty"`
	FeedbackReceived *bool `json:"push_feedback_received,omitempty"`
	MetaReview       *bool `json:"push_meta_review,omitempty"`
}

// Set updates the patch field for category c. Unknown categories fail
// with errors.ErrValidation.
func (p *Patch) Set(c Category, on bool) error {
	switch c {
	case ReviewReceived:
		p.ReviewReceived = &on
	case DeadlineReminder:
		p.DeadlineReminder = &on
	case FeedbackReceived:
		p.FeedbackReceived = &on
	case MetaReview:
		p.MetaReview = &on
	default:
		return errors.Wrapf(errors.ErrValidation, "unknown category %q", c)
	}
	return nil
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.ReviewReceived == nil && p.DeadlineReminder == nil &&
		p.FeedbackReceived == nil && p.MetaReview == nil
}

// Apply returns a copy of r with the patch applied.
func (p Patch) Apply(r Record) Record {
	if p.ReviewReceived != nil {
		r.ReviewReceived = *p.ReviewReceived
	}
	if p.DeadlineReminder != nil {
		r.DeadlineReminder = *p.DeadlineReminder
	}
	if p.FeedbackReceived != nil {
		r.FeedbackReceived = *p.FeedbackReceived
	}
	if p.MetaReview != nil {
		r.MetaReview = *p.MetaReview
	}
	return r
}

// DecodePatch parses a partial preference payload strictly: unknown keys
// and non-boolean values fail with errors.ErrValidation rather than being
// passed through.
func DecodePatch(data []byte) (Patch, error) {
	var patch Patch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		return Patch{}, errors.Wrapf(errors.ErrValidation, "invalid preference payload: %v", err)
	}
	if dec.More() {
		return Patch{}, errors.Wrap(errors.ErrValidation, "trailing data in preference payload")
	}
	return patch, nil
}
