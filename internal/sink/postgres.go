package sink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// pgPool is the subset of pgxpool.Pool the store uses, kept narrow so the
// tests can substitute a mock.
type pgPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store on postgres with a JSONB documents table.
// Merge writes use the JSONB concatenation operator, so only supplied
// top-level fields change.
type PostgresStore struct {
	pool pgPool
}

// NewPostgres connects to databaseURL and pings it.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &UnavailableError{Err: eris.Wrap(err, "postgres: ping")}
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool, mainly for tests.
func NewPostgresFromPool(pool pgPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &UnavailableError{Err: eris.Wrap(err, "postgres: begin migrate")}
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if _, err := tx.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CommitBatch applies ops in one transaction.
func (s *PostgresStore) CommitBatch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &UnavailableError{Err: eris.Wrap(err, "postgres: begin batch")}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for _, op := range ops {
		fields, err := json.Marshal(op.Fields)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal %s", op.Path)
		}

		switch {
		case op.UpdateOnly:
			tag, err := tx.Exec(ctx,
				`UPDATE documents SET doc = doc || $2::jsonb, updated_at = $3 WHERE path = $1`,
				op.Path, string(fields), now,
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: update %s", op.Path)
			}
			if tag.RowsAffected() == 0 {
				return eris.Wrapf(ErrNotFound, "postgres: update %s", op.Path)
			}
		case op.Merge:
			_, err := tx.Exec(ctx,
				`INSERT INTO documents (path, doc, updated_at) VALUES ($1, $2::jsonb, $3)
				 ON CONFLICT (path) DO UPDATE SET doc = documents.doc || EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
				op.Path, string(fields), now,
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: merge set %s", op.Path)
			}
		default:
			_, err := tx.Exec(ctx,
				`INSERT INTO documents (path, doc, updated_at) VALUES ($1, $2::jsonb, $3)
				 ON CONFLICT (path) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
				op.Path, string(fields), now,
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: set %s", op.Path)
			}
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit batch")
}

// Get reads one document by path.
func (s *PostgresStore) Get(ctx context.Context, path string) (Doc, error) {
	var docJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM documents WHERE path = $1`, path,
	).Scan(&docJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s", path)
	}

	var doc Doc
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal %s", path)
	}
	return doc, nil
}
