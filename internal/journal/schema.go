package journal

import (
	"database/sql"

	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS lifecycle_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	connection_id TEXT     NOT NULL,
	kind          TEXT     NOT NULL,
	detail        TEXT     NOT NULL DEFAULT '',
	occurred_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lifecycle_events_connection
	ON lifecycle_events (connection_id, id);
`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA busy_timeout = 5000",
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "execute %q", pragma)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return errors.Wrap(err, "create lifecycle schema")
	}
	return nil
}

// tableExists reports whether name is a table in the journal database.
func tableExists(db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&count)
	if err != nil {
		return false, errors.Wrapf(err, "look up table %s", name)
	}
	return count > 0, nil
}
