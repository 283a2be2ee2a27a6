package registry

import (
	"encoding/json"
	"time"
)

// LocalizedString holds per-locale values of a translatable field,
// keyed by locale code (e.g. "en_US"). It is persisted as a JSON column.
type LocalizedString map[string]string

// Get returns the value for the given locale, or the empty string.
func (l LocalizedString) Get(locale string) string {
	if l == nil {
		return ""
	}
	return l[locale]
}

// HasLocale reports whether a non-empty value exists for the locale.
func (l LocalizedString) HasLocale(locale string) bool {
	return l.Get(locale) != ""
}

func (l LocalizedString) clone() LocalizedString {
	if l == nil {
		return nil
	}
	out := make(LocalizedString, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// ElementType identifies the kind of input a review form element renders.
type ElementType string

const (
	ElementSmallText    ElementType = "small_text"
	ElementText         ElementType = "text"
	ElementTextarea     ElementType = "textarea"
	ElementCheckboxes   ElementType = "checkboxes"
	ElementRadioButtons ElementType = "radio_buttons"
	ElementDropdown     ElementType = "dropdown"
)

// ValidElementType reports whether t is one of the known element types.
func ValidElementType(t ElementType) bool {
	switch t {
	case ElementSmallText, ElementText, ElementTextarea,
		ElementCheckboxes, ElementRadioButtons, ElementDropdown:
		return true
	}
	return false
}

// ReviewForm is an ordered, activatable template of elements presented
// to peer reviewers, scoped to a publishing context.
type ReviewForm struct {
	ID          int64           `json:"id"`
	ContextID   int64           `json:"contextId"`
	Title       LocalizedString `json:"title"`
	Description LocalizedString `json:"description"`
	Sequence    int64           `json:"sequence"`
	Active      bool            `json:"active"`

	// Usage aggregates computed by storage; read-only.
	CompleteCount   int `json:"completeCount"`
	IncompleteCount int `json:"incompleteCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InUse reports whether any reviewer submission references the form.
func (f *ReviewForm) InUse() bool {
	return f.CompleteCount > 0 || f.IncompleteCount > 0
}

// ReviewFormElement belongs to exactly one review form. The element's
// definition (question text, response options) is opaque to the
// registry and stored as JSON; it is rendered elsewhere.
type ReviewFormElement struct {
	ID       int64           `json:"id"`
	FormID   int64           `json:"reviewFormId"`
	Sequence int64           `json:"sequence"`
	Type     ElementType     `json:"elementType"`
	Required bool            `json:"required"`
	Settings json.RawMessage `json:"settings"`
}

// FormFields carries the mutable attributes of a review form for
// create and partial-update operations. Nil pointer fields are left
// untouched on update.
type FormFields struct {
	Title       LocalizedString
	Description LocalizedString
	Active      *bool
}

// ElementFields carries the mutable attributes of a form element.
type ElementFields struct {
	Type     ElementType
	Required *bool
	Settings json.RawMessage
}
