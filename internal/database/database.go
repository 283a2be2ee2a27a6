package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/xo/dburl"
)

// Open parses a database URL (see github.com/xo/dburl for the scheme
// syntax) and opens a connection. Both postgres and sqlite3 URLs are
// supported; the resolved driver name is returned alongside the handle
// so callers can pick dialect-specific migrations.
func Open(rawURL string) (*sql.DB, string, error) {
	u, err := dburl.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse database URL: %w", err)
	}

	db, err := sql.Open(u.Driver, u.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to ping db: %w", err)
	}

	log.Info().Str("driver", u.Driver).Msg("database connection established")
	return db, u.Driver, nil
}
