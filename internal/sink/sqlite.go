package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite file. Documents live in one
// table keyed by path; merge writes use json_patch so only the supplied
// fields change.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens the database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CommitBatch applies ops in one transaction. Per-batch atomicity is all the
// store guarantees; there is no cross-batch rollback.
func (s *SQLiteStore) CommitBatch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &UnavailableError{Err: eris.Wrap(err, "sqlite: begin batch")}
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, op := range ops {
		fields, err := json.Marshal(op.Fields)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal %s", op.Path)
		}

		switch {
		case op.UpdateOnly:
			res, err := tx.ExecContext(ctx,
				`UPDATE documents SET doc = json_patch(doc, ?), updated_at = ? WHERE path = ?`,
				string(fields), now, op.Path,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: update %s", op.Path)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return eris.Wrap(err, "sqlite: rows affected")
			}
			if n == 0 {
				return eris.Wrapf(ErrNotFound, "sqlite: update %s", op.Path)
			}
		case op.Merge:
			_, err := tx.ExecContext(ctx,
				`INSERT INTO documents (path, doc, updated_at) VALUES (?, ?, ?)
				 ON CONFLICT(path) DO UPDATE SET doc = json_patch(documents.doc, excluded.doc), updated_at = excluded.updated_at`,
				op.Path, string(fields), now,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: merge set %s", op.Path)
			}
		default:
			_, err := tx.ExecContext(ctx,
				`INSERT INTO documents (path, doc, updated_at) VALUES (?, ?, ?)
				 ON CONFLICT(path) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
				op.Path, string(fields), now,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: set %s", op.Path)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit batch")
}

// Get reads one document by path.
func (s *SQLiteStore) Get(ctx context.Context, path string) (Doc, error) {
	var docJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE path = ?`, path,
	).Scan(&docJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s", path)
	}

	var doc Doc
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal %s", path)
	}
	return doc, nil
}
