package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    _ "github.com/jackc/pgx/v5/stdlib"
)

const schema = `
CREATE TABLE IF NOT EXISTS matrix_cache (
    cache_key  TEXT PRIMARY KEY,
    entry      JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS matrix_cache_created_idx ON matrix_cache (created_at);
CREATE TABLE IF NOT EXISTS pair_cache (
    cache_key    TEXT PRIMARY KEY,
    distance_km  DOUBLE PRECISION NOT NULL,
    duration_min DOUBLE PRECISION NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS pair_cache_created_idx ON pair_cache (created_at);
`

// Postgres keeps the distance cache in two tables so it survives restarts
// and is shared between replicas.
type Postgres struct {
    db   *sql.DB
    opts Options
}

func NewPostgres(dsn string, opts Options) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        _ = db.Close()
        return nil, err
    }
    return &Postgres{db: db, opts: opts.withDefaults()}, nil
}

// Migrate creates the cache tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
    if _, err := p.db.ExecContext(ctx, schema); err != nil {
        return fmt.Errorf("migrate cache schema: %w", err)
    }
    return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) GetMatrix(ctx context.Context, key string) (MatrixEntry, error) {
    var raw []byte
    var created time.Time
    err := p.db.QueryRowContext(ctx,
        `SELECT entry, created_at FROM matrix_cache WHERE cache_key=$1 AND created_at > $2`,
        key, time.Now().Add(-p.opts.TTL)).Scan(&raw, &created)
    if errors.Is(err, sql.ErrNoRows) { return MatrixEntry{}, ErrNotFound }
    if err != nil { return MatrixEntry{}, fmt.Errorf("get matrix cache: %w", err) }
    var e MatrixEntry
    if err := json.Unmarshal(raw, &e); err != nil {
        return MatrixEntry{}, fmt.Errorf("decode matrix cache: %w", err)
    }
    e.CreatedAt = created
    return e, nil
}

func (p *Postgres) PutMatrix(ctx context.Context, key string, e MatrixEntry) error {
    if e.CreatedAt.IsZero() { e.CreatedAt = time.Now() }
    raw, err := json.Marshal(e)
    if err != nil { return fmt.Errorf("encode matrix cache: %w", err) }

    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return fmt.Errorf("put matrix cache: db begin: %w", err) }
    defer func() { _ = tx.Rollback() }()

    _, err = tx.ExecContext(ctx, `
    INSERT INTO matrix_cache (cache_key, entry, created_at) VALUES ($1, $2, $3)
    ON CONFLICT (cache_key) DO UPDATE SET entry = EXCLUDED.entry, created_at = EXCLUDED.created_at`,
        key, raw, e.CreatedAt)
    if err != nil { return fmt.Errorf("put matrix cache: %w", err) }
    if err := trimOldest(ctx, tx, "matrix_cache", p.opts.MaxEntries); err != nil { return err }
    if err := tx.Commit(); err != nil { return fmt.Errorf("put matrix cache commit: %w", err) }
    return nil
}

func (p *Postgres) GetPair(ctx context.Context, key string) (PairEntry, error) {
    var e PairEntry
    err := p.db.QueryRowContext(ctx,
        `SELECT distance_km, duration_min, created_at FROM pair_cache WHERE cache_key=$1 AND created_at > $2`,
        key, time.Now().Add(-p.opts.TTL)).Scan(&e.DistanceKm, &e.DurationMin, &e.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) { return PairEntry{}, ErrNotFound }
    if err != nil { return PairEntry{}, fmt.Errorf("get pair cache: %w", err) }
    return e, nil
}

func (p *Postgres) PutPair(ctx context.Context, key string, e PairEntry) error {
    if e.CreatedAt.IsZero() { e.CreatedAt = time.Now() }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return fmt.Errorf("put pair cache: db begin: %w", err) }
    defer func() { _ = tx.Rollback() }()

    _, err = tx.ExecContext(ctx, `
    INSERT INTO pair_cache (cache_key, distance_km, duration_min, created_at) VALUES ($1, $2, $3, $4)
    ON CONFLICT (cache_key) DO UPDATE SET distance_km = EXCLUDED.distance_km,
        duration_min = EXCLUDED.duration_min, created_at = EXCLUDED.created_at`,
        key, e.DistanceKm, e.DurationMin, e.CreatedAt)
    if err != nil { return fmt.Errorf("put pair cache: %w", err) }
    if err := trimOldest(ctx, tx, "pair_cache", p.opts.MaxEntries); err != nil { return err }
    if err := tx.Commit(); err != nil { return fmt.Errorf("put pair cache commit: %w", err) }
    return nil
}

func (p *Postgres) Len(ctx context.Context) (int, int, error) {
    var m, n int
    cutoff := time.Now().Add(-p.opts.TTL)
    if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM matrix_cache WHERE created_at > $1`, cutoff).Scan(&m); err != nil {
        return 0, 0, fmt.Errorf("count matrix cache: %w", err)
    }
    if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM pair_cache WHERE created_at > $1`, cutoff).Scan(&n); err != nil {
        return 0, 0, fmt.Errorf("count pair cache: %w", err)
    }
    return m, n, nil
}

// trimOldest deletes ~20% of rows, oldest first, once the table exceeds max.
// table is one of the two constant cache table names.
func trimOldest(ctx context.Context, tx *sql.Tx, table string, max int) error {
    var n int
    if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM `+table).Scan(&n); err != nil {
        return fmt.Errorf("count %s: %w", table, err)
    }
    if n <= max { return nil }
    _, err := tx.ExecContext(ctx, `
    DELETE FROM `+table+` WHERE cache_key IN (
        SELECT cache_key FROM `+table+` ORDER BY created_at ASC, cache_key ASC LIMIT $1
    )`, evictCount(n))
    if err != nil { return fmt.Errorf("trim %s: %w", table, err) }
    return nil
}
