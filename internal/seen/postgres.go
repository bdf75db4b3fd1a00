package seen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresRemote stores the snapshot as a single keyed row in Postgres.
type PostgresRemote struct {
	db  *sql.DB
	key string
}

// OpenPostgres connects to the database identified by dsn and ensures the
// snapshot table exists. The key names this deployment's snapshot row, so
// several feedwatch instances can share one database.
func OpenPostgres(ctx context.Context, dsn, key string) (*PostgresRemote, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS feedwatch_snapshots (
	key TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating snapshot table: %w", err)
	}

	return &PostgresRemote{db: db, key: key}, nil
}

// Close closes the underlying database connection.
func (p *PostgresRemote) Close() error { return p.db.Close() }

// Get implements the [Remote] interface.
func (p *PostgresRemote) Get(ctx context.Context) ([]byte, error) {
	var payload string
	err := p.db.QueryRowContext(ctx,
		"SELECT payload FROM feedwatch_snapshots WHERE key = $1", p.key,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// Put implements the [Remote] interface.
func (p *PostgresRemote) Put(ctx context.Context, payload []byte) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO feedwatch_snapshots (key, payload, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		p.key, string(payload))
	return err
}
