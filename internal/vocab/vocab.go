// Package vocab implements controlled vocabularies: small ordered
// collections of entries with localized metadata fields, such as the
// submission subject keywords attached to a submission.
package vocab

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Transient "place at end" sequence assigned before renormalization.
const endOfListSequence = 1 << 30

// NotFoundError reports that a referenced entry id is absent.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("vocab entry %d not found", e.ID)
}

// Localized holds per-locale values of an entry metadata field.
type Localized map[string]string

// Entry is a single controlled vocabulary entry. Settings maps a
// metadata field name to its localized values.
type Entry struct {
	ID       int64                `json:"id"`
	Vocab    string               `json:"vocab"`
	AssocID  int64                `json:"assocId"`
	Sequence int64                `json:"sequence"`
	Settings map[string]Localized `json:"settings"`
}

// Setting returns the localized value of a metadata field.
func (e *Entry) Setting(name, locale string) string {
	if e.Settings == nil {
		return ""
	}
	return e.Settings[name][locale]
}

// SetSetting sets the localized value of a metadata field.
func (e *Entry) SetSetting(name, locale, value string) {
	if e.Settings == nil {
		e.Settings = make(map[string]Localized)
	}
	if e.Settings[name] == nil {
		e.Settings[name] = make(Localized)
	}
	e.Settings[name][locale] = value
}

// SubmissionSubjectVocab is the symbolic name of the submission
// subject vocabulary; its entries carry one localized metadata field.
const (
	SubmissionSubjectVocab = "submissionSubject"
	subjectField           = "submissionSubject"
)

// SubmissionSubject is a controlled vocabulary entry describing a
// submission subject.
type SubmissionSubject struct {
	Entry
}

// NewSubmissionSubject creates an empty subject entry bound to the
// given association (typically a submission id).
func NewSubmissionSubject(assocID int64) *SubmissionSubject {
	return &SubmissionSubject{Entry: Entry{Vocab: SubmissionSubjectVocab, AssocID: assocID}}
}

// Subject returns the subject text for the given locale.
func (s *SubmissionSubject) Subject(locale string) string {
	return s.Setting(subjectField, locale)
}

// SetSubject sets the subject text for the given locale.
func (s *SubmissionSubject) SetSubject(subject, locale string) {
	s.SetSetting(subjectField, locale, subject)
}

// LocaleMetadataFieldNames lists the localized metadata fields of a
// subject entry.
func (s *SubmissionSubject) LocaleMetadataFieldNames() []string {
	return []string{subjectField}
}

// Store handles database operations for controlled vocabulary entries.
type Store struct {
	db *sql.DB
}

// NewStore creates a new vocabulary store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// List returns the entries of a vocabulary in ascending sequence
// order, ties broken by id.
func (s *Store) List(ctx context.Context, vocab string, assocID int64) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vocab, assoc_id, seq, settings
		FROM controlled_vocab_entries
		WHERE vocab = $1 AND assoc_id = $2
		ORDER BY seq ASC, id ASC
	`, vocab, assocID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vocab entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry := &Entry{}
		var settings string
		if err := rows.Scan(&entry.ID, &entry.Vocab, &entry.AssocID, &entry.Sequence, &settings); err != nil {
			return nil, fmt.Errorf("failed to scan vocab entry: %w", err)
		}
		if err := json.Unmarshal([]byte(settings), &entry.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry settings: %w", err)
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vocab entries: %w", err)
	}
	return entries, nil
}

// Insert appends an entry at the end of its vocabulary's ordering and
// returns its id.
func (s *Store) Insert(ctx context.Context, entry *Entry) (int64, error) {
	settings, err := marshalSettings(entry.Settings)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO controlled_vocab_entries (vocab, assoc_id, seq, settings)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, entry.Vocab, entry.AssocID, endOfListSequence, settings).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert vocab entry: %w", err)
	}

	if err := resequence(ctx, tx, entry.Vocab, entry.AssocID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	entry.ID = id
	return id, nil
}

// Update persists an entry's settings.
func (s *Store) Update(ctx context.Context, entry *Entry) error {
	settings, err := marshalSettings(entry.Settings)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE controlled_vocab_entries SET settings = $1 WHERE id = $2
	`, settings, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to update vocab entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{ID: entry.ID}
	}
	return nil
}

// Delete removes an entry and renormalizes its vocabulary's ordering.
func (s *Store) Delete(ctx context.Context, entry *Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM controlled_vocab_entries WHERE id = $1`, entry.ID); err != nil {
		return fmt.Errorf("failed to delete vocab entry: %w", err)
	}

	if err := resequence(ctx, tx, entry.Vocab, entry.AssocID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func marshalSettings(settings map[string]Localized) (string, error) {
	if settings == nil {
		settings = map[string]Localized{}
	}
	b, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry settings: %w", err)
	}
	return string(b), nil
}

func resequence(ctx context.Context, tx *sql.Tx, vocab string, assocID int64) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM controlled_vocab_entries
		WHERE vocab = $1 AND assoc_id = $2
		ORDER BY seq ASC, id ASC
	`, vocab, assocID)
	if err != nil {
		return fmt.Errorf("failed to query entries for resequence: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan entry id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating entry ids: %w", err)
	}
	rows.Close()

	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE controlled_vocab_entries SET seq = $1 WHERE id = $2`, i+1, id); err != nil {
			return fmt.Errorf("failed to resequence entry %d: %w", id, err)
		}
	}
	return nil
}
