package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Primary key column definition per dialect. Everything else in the
// schema is written to work unchanged on both postgres and sqlite3.
var idColumn = map[string]string{
	"postgres": "BIGSERIAL PRIMARY KEY",
	"sqlite3":  "INTEGER PRIMARY KEY AUTOINCREMENT",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS contexts (
		id %ID%,
		path TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		primary_locale TEXT NOT NULL DEFAULT 'en_US',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS review_forms (
		id %ID%,
		context_id BIGINT NOT NULL REFERENCES contexts(id),
		seq BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		title TEXT NOT NULL DEFAULT '{}',
		description TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS review_forms_context_seq
		ON review_forms (context_id, seq)`,
	`CREATE TABLE IF NOT EXISTS review_form_elements (
		id %ID%,
		review_form_id BIGINT NOT NULL REFERENCES review_forms(id),
		seq BIGINT NOT NULL DEFAULT 0,
		element_type TEXT NOT NULL,
		required BOOLEAN NOT NULL DEFAULT FALSE,
		settings TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS review_form_elements_form_seq
		ON review_form_elements (review_form_id, seq)`,
	`CREATE TABLE IF NOT EXISTS review_assignments (
		id %ID%,
		context_id BIGINT NOT NULL REFERENCES contexts(id),
		review_form_id BIGINT,
		considered BOOLEAN NOT NULL DEFAULT FALSE,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS review_assignments_form
		ON review_assignments (review_form_id)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id %ID%,
		user_id BIGINT NOT NULL,
		context_id BIGINT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS controlled_vocab_entries (
		id %ID%,
		vocab TEXT NOT NULL,
		assoc_id BIGINT NOT NULL DEFAULT 0,
		seq BIGINT NOT NULL DEFAULT 0,
		settings TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS controlled_vocab_entries_vocab
		ON controlled_vocab_entries (vocab, assoc_id, seq)`,
}

// Migrate creates the schema for the given driver if it does not exist.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	id, ok := idColumn[driver]
	if !ok {
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "%ID%", id)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration: %w", err)
		}
	}

	log.Debug().Int("statements", len(schema)).Msg("schema migration applied")
	return nil
}
