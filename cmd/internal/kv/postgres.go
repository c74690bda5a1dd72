package kv

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Backend stored in a single PostgreSQL table.
//
// Ownership model:
// - Postgres does NOT own the pgx pool; the caller must close it.
//
// Table shape (managed externally, no migrations here):
//
//	CREATE TABLE skiff.kv_entries (
//	    key        text PRIMARY KEY,
//	    value      text NOT NULL,
//	    updated_at timestamptz NOT NULL DEFAULT now()
//	);
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures Postgres behavior.
type PostgresOption func(*Postgres) error

// WithSchema sets the DB schema used by the backend (default: "skiff").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(p *Postgres) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("kv: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("kv: invalid schema identifier")
		}
		p.schema = schema
		return nil
	}
}

// NewPostgres constructs a PostgreSQL-backed Backend.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{
		pool:   pool,
		schema: "skiff",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.pool == nil {
		return nil, errors.New("kv: nil pool")
	}
	return p, nil
}

// Get returns the stored value for key, if any.
func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	if p == nil || p.pool == nil {
		return "", false, errors.New("kv: nil backend")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, nil
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	table := pgIdent(p.schema, "kv_entries")

	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM `+table+` WHERE key = $1`,
		key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set upserts value under key.
func (p *Postgres) Set(ctx context.Context, key, value string) error {
	if p == nil || p.pool == nil {
		return errors.New("kv: nil backend")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("kv: empty key")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	table := pgIdent(p.schema, "kv_entries")

	_, err := p.pool.Exec(ctx,
		`INSERT INTO `+table+` (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (p *Postgres) Delete(ctx context.Context, key string) error {
	if p == nil || p.pool == nil {
		return errors.New("kv: nil backend")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	table := pgIdent(p.schema, "kv_entries")

	_, err := p.pool.Exec(ctx, `DELETE FROM `+table+` WHERE key = $1`, key)
	return err
}

var pgIdentRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
