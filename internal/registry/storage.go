package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// endOfListSequence is the transient "place at end" sentinel assigned
// to newly inserted rows before the dense resequence pass runs. It
// never survives a committed mutation.
const endOfListSequence = 1 << 30

// Store handles database operations for review forms, their elements
// and the review assignments holding weak back-references to them.
type Store struct {
	db *sql.DB
}

// NewStore creates a new review form store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Context is the publishing entity (e.g. a journal) that scopes a
// collection of review forms.
type Context struct {
	ID            int64     `json:"id"`
	Path          string    `json:"path"`
	Name          string    `json:"name"`
	PrimaryLocale string    `json:"primaryLocale"`
	CreatedAt     time.Time `json:"createdAt"`
}

// GetContext fetches a publishing context by id.
func (s *Store) GetContext(ctx context.Context, id int64) (*Context, error) {
	c := &Context{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, name, primary_locale, created_at
		FROM contexts WHERE id = $1
	`, id).Scan(&c.ID, &c.Path, &c.Name, &c.PrimaryLocale, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "context", ID: id}
		}
		return nil, fmt.Errorf("failed to get context: %w", err)
	}
	return c, nil
}

// CreateContext inserts a publishing context and returns its id.
func (s *Store) CreateContext(ctx context.Context, path, name, primaryLocale string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO contexts (path, name, primary_locale, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, path, name, primaryLocale, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert context: %w", err)
	}
	return id, nil
}

func marshalLocalized(l LocalizedString) (string, error) {
	if l == nil {
		l = LocalizedString{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("failed to marshal localized field: %w", err)
	}
	return string(b), nil
}

func unmarshalLocalized(raw string, l *LocalizedString) error {
	if raw == "" {
		*l = LocalizedString{}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), l); err != nil {
		return fmt.Errorf("failed to unmarshal localized field: %w", err)
	}
	return nil
}

// usageCount aggregates reviewer submissions referencing a form.
type usageCount struct {
	complete   int
	incomplete int
}

// usageCounts computes per-form usage aggregates for a context.
// Complete uses are considered assignments with a finished review;
// incomplete uses are considered assignments still in progress.
// Unconsidered assignments hold only a weak back-reference and do not
// count toward usage.
func (s *Store) usageCounts(ctx context.Context, contextID int64) (map[int64]usageCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT review_form_id,
			SUM(CASE WHEN completed THEN 1 ELSE 0 END),
			SUM(CASE WHEN considered AND NOT completed THEN 1 ELSE 0 END)
		FROM review_assignments
		WHERE context_id = $1 AND review_form_id IS NOT NULL AND considered
		GROUP BY review_form_id
	`, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]usageCount)
	for rows.Next() {
		var formID int64
		var c usageCount
		if err := rows.Scan(&formID, &c.complete, &c.incomplete); err != nil {
			return nil, fmt.Errorf("failed to scan usage count: %w", err)
		}
		counts[formID] = c
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage counts: %w", err)
	}
	return counts, nil
}

func scanForm(scanner interface{ Scan(...interface{}) error }) (*ReviewForm, error) {
	form := &ReviewForm{}
	var title, description string
	err := scanner.Scan(
		&form.ID,
		&form.ContextID,
		&form.Sequence,
		&form.Active,
		&title,
		&description,
		&form.CreatedAt,
		&form.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalLocalized(title, &form.Title); err != nil {
		return nil, err
	}
	if err := unmarshalLocalized(description, &form.Description); err != nil {
		return nil, err
	}
	return form, nil
}

// ListForms returns all review forms for a context in ascending
// sequence order, ties broken by id, with usage aggregates attached.
func (s *Store) ListForms(ctx context.Context, contextID int64) ([]*ReviewForm, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, context_id, seq, active, title, description, created_at, updated_at
		FROM review_forms
		WHERE context_id = $1
		ORDER BY seq ASC, id ASC
	`, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to query review forms: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	forms := make([]*ReviewForm, 0)
	for rows.Next() {
		form, err := scanForm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review form: %w", err)
		}
		forms = append(forms, form)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating review forms: %w", err)
	}

	counts, err := s.usageCounts(ctx, contextID)
	if err != nil {
		return nil, err
	}
	for _, form := range forms {
		c := counts[form.ID]
		form.CompleteCount = c.complete
		form.IncompleteCount = c.incomplete
	}

	return forms, nil
}

// GetForm fetches a single review form scoped to a context.
func (s *Store) GetForm(ctx context.Context, contextID, id int64) (*ReviewForm, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, context_id, seq, active, title, description, created_at, updated_at
		FROM review_forms
		WHERE id = $1 AND context_id = $2
	`, id, contextID)

	form, err := scanForm(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "review form", ID: id}
		}
		return nil, fmt.Errorf("failed to get review form: %w", err)
	}

	counts, err := s.usageCounts(ctx, contextID)
	if err != nil {
		return nil, err
	}
	c := counts[form.ID]
	form.CompleteCount = c.complete
	form.IncompleteCount = c.incomplete

	return form, nil
}

// CreateForm inserts a new review form appended at the end of the
// context's ordering and returns its id.
func (s *Store) CreateForm(ctx context.Context, contextID int64, title, description LocalizedString) (int64, error) {
	titleJSON, err := marshalLocalized(title)
	if err != nil {
		return 0, err
	}
	descJSON, err := marshalLocalized(description)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO review_forms (context_id, seq, active, title, description, created_at, updated_at)
		VALUES ($1, $2, FALSE, $3, $4, $5, $5)
		RETURNING id
	`, contextID, endOfListSequence, titleJSON, descJSON, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert review form: %w", err)
	}

	if err := resequenceForms(ctx, tx, contextID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return id, nil
}

// UpdateForm persists the mutable fields of a review form.
func (s *Store) UpdateForm(ctx context.Context, form *ReviewForm) error {
	titleJSON, err := marshalLocalized(form.Title)
	if err != nil {
		return err
	}
	descJSON, err := marshalLocalized(form.Description)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE review_forms
		SET active = $1, title = $2, description = $3, updated_at = $4
		WHERE id = $5 AND context_id = $6
	`, form.Active, titleJSON, descJSON, time.Now().UTC(), form.ID, form.ContextID)
	if err != nil {
		return fmt.Errorf("failed to update review form: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Entity: "review form", ID: form.ID}
	}
	return nil
}

// CopyForm clones a review form and all its elements. The clone is
// inactive regardless of the source's state and is appended at the end
// of the context's ordering; element order follows the source.
func (s *Store) CopyForm(ctx context.Context, contextID, sourceID int64) (int64, error) {
	source, err := s.GetForm(ctx, contextID, sourceID)
	if err != nil {
		return 0, err
	}
	elements, err := s.ListElements(ctx, sourceID)
	if err != nil {
		return 0, err
	}

	titleJSON, err := marshalLocalized(source.Title)
	if err != nil {
		return 0, err
	}
	descJSON, err := marshalLocalized(source.Description)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var newID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO review_forms (context_id, seq, active, title, description, created_at, updated_at)
		VALUES ($1, $2, FALSE, $3, $4, $5, $5)
		RETURNING id
	`, contextID, endOfListSequence, titleJSON, descJSON, now).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert copied review form: %w", err)
	}

	if err := resequenceForms(ctx, tx, contextID); err != nil {
		return 0, err
	}

	for _, element := range elements {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO review_form_elements (review_form_id, seq, element_type, required, settings)
			VALUES ($1, $2, $3, $4, $5)
		`, newID, endOfListSequence, string(element.Type), element.Required, string(element.Settings))
		if err != nil {
			return 0, fmt.Errorf("failed to insert copied element: %w", err)
		}
		if err := resequenceElements(ctx, tx, newID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return newID, nil
}

// DeleteForm removes a review form and its elements. It fails with a
// ConflictError when any reviewer submission still references the
// form; otherwise it first clears the form reference on every review
// assignment pointing at it.
func (s *Store) DeleteForm(ctx context.Context, contextID, id int64) error {
	form, err := s.GetForm(ctx, contextID, id)
	if err != nil {
		return err
	}
	if form.InUse() {
		return &ConflictError{Reason: "review form is in use and cannot be deleted"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	// Reassign in-flight review assignments to "no form" before the
	// form row goes away.
	_, err = tx.ExecContext(ctx, `
		UPDATE review_assignments SET review_form_id = NULL, updated_at = $1
		WHERE review_form_id = $2
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to clear assignment references: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM review_form_elements WHERE review_form_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete review form elements: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM review_forms WHERE id = $1 AND context_id = $2`, id, contextID); err != nil {
		return fmt.Errorf("failed to delete review form: %w", err)
	}

	if err := resequenceForms(ctx, tx, contextID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// UpdateFormSequence sets a form's sequence to the given value and
// runs the dense resequence pass over the context's forms.
func (s *Store) UpdateFormSequence(ctx context.Context, contextID, id, newSequence int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE review_forms SET seq = $1, updated_at = $2
		WHERE id = $3 AND context_id = $4
	`, newSequence, time.Now().UTC(), id, contextID)
	if err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Entity: "review form", ID: id}
	}

	if err := resequenceForms(ctx, tx, contextID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// resequenceForms normalizes the sequence values for a context to a
// dense ascending 1..N, stable by sequence then id.
func resequenceForms(ctx context.Context, tx *sql.Tx, contextID int64) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM review_forms
		WHERE context_id = $1
		ORDER BY seq ASC, id ASC
	`, contextID)
	if err != nil {
		return fmt.Errorf("failed to query forms for resequence: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan form id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating form ids: %w", err)
	}
	rows.Close()

	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE review_forms SET seq = $1 WHERE id = $2`, i+1, id); err != nil {
			return fmt.Errorf("failed to resequence form %d: %w", id, err)
		}
	}
	return nil
}

//
// Review form elements
//

func scanElement(scanner interface{ Scan(...interface{}) error }) (*ReviewFormElement, error) {
	element := &ReviewFormElement{}
	var elementType, settings string
	err := scanner.Scan(
		&element.ID,
		&element.FormID,
		&element.Sequence,
		&elementType,
		&element.Required,
		&settings,
	)
	if err != nil {
		return nil, err
	}
	element.Type = ElementType(elementType)
	element.Settings = json.RawMessage(settings)
	return element, nil
}

// ListElements returns the elements of a form in ascending sequence
// order, ties broken by id.
func (s *Store) ListElements(ctx context.Context, formID int64) ([]*ReviewFormElement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_form_id, seq, element_type, required, settings
		FROM review_form_elements
		WHERE review_form_id = $1
		ORDER BY seq ASC, id ASC
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("failed to query elements: %w", err)
	}
	defer rows.Close()

	elements := make([]*ReviewFormElement, 0)
	for rows.Next() {
		element, err := scanElement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan element: %w", err)
		}
		elements = append(elements, element)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating elements: %w", err)
	}
	return elements, nil
}

// GetElement fetches a single element scoped to its parent form.
func (s *Store) GetElement(ctx context.Context, formID, id int64) (*ReviewFormElement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, review_form_id, seq, element_type, required, settings
		FROM review_form_elements
		WHERE id = $1 AND review_form_id = $2
	`, id, formID)

	element, err := scanElement(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "review form element", ID: id}
		}
		return nil, fmt.Errorf("failed to get element: %w", err)
	}
	return element, nil
}

// CreateElement appends a new element to a form and returns its id.
func (s *Store) CreateElement(ctx context.Context, formID int64, elementType ElementType, required bool, settings json.RawMessage) (int64, error) {
	if len(settings) == 0 {
		settings = json.RawMessage("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO review_form_elements (review_form_id, seq, element_type, required, settings)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, formID, endOfListSequence, string(elementType), required, string(settings)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert element: %w", err)
	}

	if err := resequenceElements(ctx, tx, formID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return id, nil
}

// UpdateElement persists the mutable fields of an element.
func (s *Store) UpdateElement(ctx context.Context, element *ReviewFormElement) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE review_form_elements
		SET element_type = $1, required = $2, settings = $3
		WHERE id = $4 AND review_form_id = $5
	`, string(element.Type), element.Required, string(element.Settings), element.ID, element.FormID)
	if err != nil {
		return fmt.Errorf("failed to update element: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Entity: "review form element", ID: element.ID}
	}
	return nil
}

// DeleteElement removes an element and renormalizes the remaining
// sibling order.
func (s *Store) DeleteElement(ctx context.Context, formID, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM review_form_elements WHERE id = $1 AND review_form_id = $2
	`, id, formID)
	if err != nil {
		return fmt.Errorf("failed to delete element: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Entity: "review form element", ID: id}
	}

	if err := resequenceElements(ctx, tx, formID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// resequenceElements normalizes element order within a form to a
// dense ascending 1..N, stable by sequence then id.
func resequenceElements(ctx context.Context, tx *sql.Tx, formID int64) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM review_form_elements
		WHERE review_form_id = $1
		ORDER BY seq ASC, id ASC
	`, formID)
	if err != nil {
		return fmt.Errorf("failed to query elements for resequence: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan element id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating element ids: %w", err)
	}
	rows.Close()

	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE review_form_elements SET seq = $1 WHERE id = $2`, i+1, id); err != nil {
			return fmt.Errorf("failed to resequence element %d: %w", id, err)
		}
	}
	return nil
}

//
// Review assignments (weak back-references only)
//

// CreateAssignment inserts a review assignment referencing a form.
// Used by tests and by the surrounding editorial pipeline.
func (s *Store) CreateAssignment(ctx context.Context, contextID int64, formID *int64, considered, completed bool) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO review_assignments (context_id, review_form_id, considered, completed, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, contextID, formID, considered, completed, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert assignment: %w", err)
	}
	return id, nil
}

// CountAssignmentsByForm returns how many assignments still reference
// the given form id.
func (s *Store) CountAssignmentsByForm(ctx context.Context, formID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM review_assignments WHERE review_form_id = $1
	`, formID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return n, nil
}
