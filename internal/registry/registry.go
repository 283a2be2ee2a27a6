// Package registry owns the ordered collection of review forms scoped
// to a publishing context: creation, editing, deep copy, activation
// toggling, conditional deletion and drag-reorder persistence, with a
// dense sequence invariant maintained across every mutation.
package registry

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Notifier delivers a trivial notification to the acting user after a
// successful mutation. Delivery is fire-and-forget and never part of
// an operation's error contract.
type Notifier interface {
	Notify(ctx context.Context, userID, contextID int64, kind string)
}

// Registry exposes the review form lifecycle operations. Callers are
// expected to be authorized with a management-level role already; the
// authorization policy lives in the API layer.
type Registry struct {
	store    *Store
	notifier Notifier
}

// New creates a registry over the given store. notifier may be nil.
func New(store *Store, notifier Notifier) *Registry {
	return &Registry{store: store, notifier: notifier}
}

// Store exposes the underlying store for collaborators that need
// read-only access (context resolution in the API layer).
func (r *Registry) Store() *Store {
	return r.store
}

func (r *Registry) notify(contextID, actorID int64, kind string) {
	if r.notifier == nil {
		return
	}
	// Detached from the request context: the mutation has already
	// committed and the notification must not be cancelled with it.
	go r.notifier.Notify(context.Background(), actorID, contextID, kind)
}

// List returns all review forms for a context in display order.
func (r *Registry) List(ctx context.Context, contextID int64) ([]*ReviewForm, error) {
	return r.store.ListForms(ctx, contextID)
}

// Get fetches a single review form scoped to a context.
func (r *Registry) Get(ctx context.Context, contextID, id int64) (*ReviewForm, error) {
	return r.store.GetForm(ctx, contextID, id)
}

// Create validates the fields and persists a new review form appended
// at the end of the context's ordering. The title must carry a value
// for the primary locale.
func (r *Registry) Create(ctx context.Context, contextID, actorID int64, primaryLocale string, fields FormFields) (int64, error) {
	if !fields.Title.HasLocale(primaryLocale) {
		return 0, &ValidationError{Field: "title", Reason: "required for locale " + primaryLocale}
	}

	id, err := r.store.CreateForm(ctx, contextID, fields.Title, fields.Description)
	if err != nil {
		return 0, err
	}

	log.Info().Int64("contextId", contextID).Int64("reviewFormId", id).Msg("review form created")
	r.notify(contextID, actorID, "reviewFormCreated")
	return id, nil
}

// Update applies a partial update to a review form's mutable fields.
func (r *Registry) Update(ctx context.Context, contextID, id, actorID int64, primaryLocale string, fields FormFields) error {
	form, err := r.store.GetForm(ctx, contextID, id)
	if err != nil {
		return err
	}

	if fields.Title != nil {
		if !fields.Title.HasLocale(primaryLocale) {
			return &ValidationError{Field: "title", Reason: "required for locale " + primaryLocale}
		}
		form.Title = fields.Title.clone()
	}
	if fields.Description != nil {
		form.Description = fields.Description.clone()
	}
	if fields.Active != nil {
		form.Active = *fields.Active
	}

	if err := r.store.UpdateForm(ctx, form); err != nil {
		return err
	}

	log.Info().Int64("contextId", contextID).Int64("reviewFormId", id).Msg("review form updated")
	r.notify(contextID, actorID, "reviewFormUpdated")
	return nil
}

// Copy clones a review form and all its elements. The clone is
// inactive and appended at the end; cloned elements keep the source's
// relative order.
func (r *Registry) Copy(ctx context.Context, contextID, id, actorID int64) (int64, error) {
	newID, err := r.store.CopyForm(ctx, contextID, id)
	if err != nil {
		return 0, err
	}

	log.Info().
		Int64("contextId", contextID).
		Int64("sourceId", id).
		Int64("reviewFormId", newID).
		Msg("review form copied")
	r.notify(contextID, actorID, "reviewFormCopied")
	return newID, nil
}

// SetActive toggles a form's activation state. The operation is
// idempotent: when the form is already in the requested state nothing
// is persisted and changed is false.
func (r *Registry) SetActive(ctx context.Context, contextID, id, actorID int64, active bool) (changed bool, err error) {
	form, err := r.store.GetForm(ctx, contextID, id)
	if err != nil {
		return false, err
	}
	if form.Active == active {
		return false, nil
	}

	form.Active = active
	if err := r.store.UpdateForm(ctx, form); err != nil {
		return false, err
	}

	kind := "reviewFormDeactivated"
	if active {
		kind = "reviewFormActivated"
	}
	log.Info().Int64("contextId", contextID).Int64("reviewFormId", id).Bool("active", active).Msg("review form activation changed")
	r.notify(contextID, actorID, kind)
	return true, nil
}

// Delete removes an unused review form, first clearing the form
// reference on every review assignment pointing at it. Forms with any
// complete or incomplete use are protected by a ConflictError.
func (r *Registry) Delete(ctx context.Context, contextID, id, actorID int64) error {
	if err := r.store.DeleteForm(ctx, contextID, id); err != nil {
		return err
	}

	log.Info().Int64("contextId", contextID).Int64("reviewFormId", id).Msg("review form deleted")
	r.notify(contextID, actorID, "reviewFormDeleted")
	return nil
}

// Reorder persists a drag-reorder result: the form's sequence is set
// to the given value and the context's ordering is renormalized to a
// dense range.
func (r *Registry) Reorder(ctx context.Context, contextID, id, actorID, newSequence int64) error {
	if err := r.store.UpdateFormSequence(ctx, contextID, id, newSequence); err != nil {
		return err
	}

	r.notify(contextID, actorID, "reviewFormsReordered")
	return nil
}

//
// Element operations
//

// Elements lists a form's elements in display order.
func (r *Registry) Elements(ctx context.Context, contextID, formID int64) ([]*ReviewFormElement, error) {
	if _, err := r.store.GetForm(ctx, contextID, formID); err != nil {
		return nil, err
	}
	return r.store.ListElements(ctx, formID)
}

// CreateElement appends a new element to a form.
func (r *Registry) CreateElement(ctx context.Context, contextID, formID, actorID int64, fields ElementFields) (int64, error) {
	if !ValidElementType(fields.Type) {
		return 0, &ValidationError{Field: "elementType", Reason: "unknown element type"}
	}
	if _, err := r.store.GetForm(ctx, contextID, formID); err != nil {
		return 0, err
	}

	required := false
	if fields.Required != nil {
		required = *fields.Required
	}
	id, err := r.store.CreateElement(ctx, formID, fields.Type, required, fields.Settings)
	if err != nil {
		return 0, err
	}

	r.notify(contextID, actorID, "reviewFormElementCreated")
	return id, nil
}

// UpdateElement applies a partial update to an element.
func (r *Registry) UpdateElement(ctx context.Context, contextID, formID, id, actorID int64, fields ElementFields) error {
	if _, err := r.store.GetForm(ctx, contextID, formID); err != nil {
		return err
	}
	element, err := r.store.GetElement(ctx, formID, id)
	if err != nil {
		return err
	}

	if fields.Type != "" {
		if !ValidElementType(fields.Type) {
			return &ValidationError{Field: "elementType", Reason: "unknown element type"}
		}
		element.Type = fields.Type
	}
	if fields.Required != nil {
		element.Required = *fields.Required
	}
	if fields.Settings != nil {
		element.Settings = json.RawMessage(string(fields.Settings))
	}

	if err := r.store.UpdateElement(ctx, element); err != nil {
		return err
	}

	r.notify(contextID, actorID, "reviewFormElementUpdated")
	return nil
}

// DeleteElement removes an element and renormalizes sibling order.
func (r *Registry) DeleteElement(ctx context.Context, contextID, formID, id, actorID int64) error {
	if _, err := r.store.GetForm(ctx, contextID, formID); err != nil {
		return err
	}
	if err := r.store.DeleteElement(ctx, formID, id); err != nil {
		return err
	}

	r.notify(contextID, actorID, "reviewFormElementDeleted")
	return nil
}
