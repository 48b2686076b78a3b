package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang/snappy"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/Molefas/trikhub/internal/manifest"
	"github.com/Molefas/trikhub/pkg/api"
)

// trikStorageDDL creates the single backing table: (trik_id, key) primary
// key, quota size column, and an expiry index for sweeps.
const trikStorageDDL = `
CREATE TABLE IF NOT EXISTS trik_storage (
	trik_id    TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BYTEA NOT NULL,
	value_size BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ,
	PRIMARY KEY (trik_id, key)
);
CREATE INDEX IF NOT EXISTS trik_storage_expires_at_idx ON trik_storage (expires_at) WHERE expires_at IS NOT NULL;
`

// PostgresProviderOptions configures the durable provider.
type PostgresProviderOptions struct {
	// DSN is the Postgres connection string.
	DSN string
	// Compress stores values snappy-compressed. Quota accounting always uses
	// the uncompressed JSON size.
	Compress bool
}

// PostgresProvider is the durable storage provider. A single table holds
// every trik's entries, partitioned by the trik_id key prefix; cross-trik
// isolation reduces to key-space discipline enforced by the per-trik context.
type PostgresProvider struct {
	db       *sql.DB
	compress bool
}

// NewPostgresProvider opens the database and ensures the schema exists.
func NewPostgresProvider(ctx context.Context, opts PostgresProviderOptions) (*PostgresProvider, error) {
	db, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		return nil, ErrBackend.Err(err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, ErrBackend.Err(err)
	}
	if _, err := db.ExecContext(ctx, trikStorageDDL); err != nil {
		db.Close()
		return nil, ErrBackend.Err(err)
	}
	return &PostgresProvider{db: db, compress: opts.Compress}, nil
}

// ForTrik returns a context scoped to trikID.
func (p *PostgresProvider) ForTrik(trikID string, caps *manifest.StorageCapabilities) api.StorageContext {
	return &postgresContext{
		provider: p,
		trikID:   trikID,
		maxSize:  maxSizeFor(caps),
	}
}

// GetUsage sums the quota sizes of a trik's live entries.
func (p *PostgresProvider) GetUsage(ctx context.Context, trikID string) (int64, error) {
	p.sweep(ctx, trikID)
	query := `
		SELECT COALESCE(SUM(value_size), 0) FROM trik_storage
		WHERE trik_id = $1 AND (expires_at IS NULL OR expires_at > now());
	`
	var usage int64
	if err := p.db.QueryRowContext(ctx, query, trikID).Scan(&usage); err != nil {
		return 0, ErrBackend.Err(err)
	}
	return usage, nil
}

// Clear removes all entries for a trik.
func (p *PostgresProvider) Clear(ctx context.Context, trikID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM trik_storage WHERE trik_id = $1;`, trikID); err != nil {
		return ErrBackend.Err(err)
	}
	return nil
}

// ListTriks lists trik ids with stored data.
func (p *PostgresProvider) ListTriks(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT trik_id FROM trik_storage
		WHERE expires_at IS NULL OR expires_at > now()
		ORDER BY trik_id;
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, ErrBackend.Err(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ErrBackend.Err(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database handle.
func (p *PostgresProvider) Close() error {
	return p.db.Close()
}

// sweep removes expired entries for a trik. Best effort; a failed sweep only
// delays deletion since expired rows are filtered from every read.
func (p *PostgresProvider) sweep(ctx context.Context, trikID string) {
	query := `DELETE FROM trik_storage WHERE trik_id = $1 AND expires_at IS NOT NULL AND expires_at <= now();`
	if _, err := p.db.ExecContext(ctx, query, trikID); err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("trik", trikID).Msg("storage sweep failed")
	}
}

func (p *PostgresProvider) encode(raw []byte) []byte {
	if p.compress {
		return snappy.Encode(nil, raw)
	}
	return raw
}

func (p *PostgresProvider) decode(stored []byte) ([]byte, error) {
	if p.compress {
		return snappy.Decode(nil, stored)
	}
	return stored, nil
}

// escapeLikePattern treats wildcard characters in a user-supplied prefix as
// literals for a LIKE query with ESCAPE '\'.
func escapeLikePattern(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}

// postgresContext is the per-trik handle over a PostgresProvider.
type postgresContext struct {
	provider *PostgresProvider
	trikID   string
	maxSize  int64
}

func (c *postgresContext) Get(ctx context.Context, key string) (any, bool, error) {
	key = normalizeKey(key)
	query := `
		SELECT value FROM trik_storage
		WHERE trik_id = $1 AND key = $2 AND (expires_at IS NULL OR expires_at > now());
	`
	var stored []byte
	err := c.provider.db.QueryRowContext(ctx, query, c.trikID, key).Scan(&stored)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ErrBackend.Err(err)
	}

	raw, err := c.provider.decode(stored)
	if err != nil {
		return nil, false, ErrBackend.Err(err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, ErrBackend.Err(err)
	}
	return value, true, nil
}

func (c *postgresContext) Set(ctx context.Context, key string, value any, ttlMs int64) error {
	key = normalizeKey(key)
	raw, size, err := encodeValue(value)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if ttlMs > 0 {
		t := time.Now().Add(time.Duration(ttlMs) * time.Millisecond)
		expiresAt = &t
	}

	tx, txErr := c.provider.db.BeginTx(ctx, nil)
	if txErr != nil {
		return ErrBackend.Err(txErr)
	}
	defer tx.Rollback()

	// Quota check inside the transaction: current usage minus the replaced
	// value's size plus the new size must stay within the cap.
	var usage, oldSize int64
	usageQuery := `
		SELECT COALESCE(SUM(value_size), 0),
		       COALESCE(SUM(value_size) FILTER (WHERE key = $2), 0)
		FROM trik_storage
		WHERE trik_id = $1 AND (expires_at IS NULL OR expires_at > now());
	`
	if err := tx.QueryRowContext(ctx, usageQuery, c.trikID, key).Scan(&usage, &oldSize); err != nil {
		return ErrBackend.Err(err)
	}
	if usage-oldSize+size > c.maxSize {
		return ErrQuotaExceeded.Msg("usage would exceed maxSizeBytes")
	}

	upsert := `
		INSERT INTO trik_storage (trik_id, key, value, value_size, created_at, expires_at)
		VALUES ($1, $2, $3, $4, now(), $5)
		ON CONFLICT (trik_id, key)
		DO UPDATE SET value = $3, value_size = $4, created_at = now(), expires_at = $5;
	`
	if _, err := tx.ExecContext(ctx, upsert, c.trikID, key, c.provider.encode(raw), size, expiresAt); err != nil {
		return ErrBackend.Err(err)
	}
	if err := tx.Commit(); err != nil {
		return ErrBackend.Err(err)
	}
	return nil
}

func (c *postgresContext) Delete(ctx context.Context, key string) (bool, error) {
	key = normalizeKey(key)
	query := `
		DELETE FROM trik_storage
		WHERE trik_id = $1 AND key = $2 AND (expires_at IS NULL OR expires_at > now());
	`
	result, err := c.provider.db.ExecContext(ctx, query, c.trikID, key)
	if err != nil {
		return false, ErrBackend.Err(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, ErrBackend.Err(err)
	}
	return affected > 0, nil
}

func (c *postgresContext) List(ctx context.Context, prefix string) ([]string, error) {
	c.provider.sweep(ctx, c.trikID)

	query := `
		SELECT key FROM trik_storage
		WHERE trik_id = $1 AND (expires_at IS NULL OR expires_at > now())
	`
	args := []any{c.trikID}
	if prefix != "" {
		query += ` AND key LIKE $2 ESCAPE '\'`
		args = append(args, escapeLikePattern(normalizeKey(prefix))+"%")
	}
	query += ` ORDER BY key;`

	rows, err := c.provider.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ErrBackend.Err(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, ErrBackend.Err(err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (c *postgresContext) GetMany(ctx context.Context, keys []string) (map[string]any, error) {
	result := make(map[string]any, len(keys))
	for _, key := range keys {
		value, ok, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			result[key] = value
		}
	}
	return result, nil
}

func (c *postgresContext) SetMany(ctx context.Context, entries map[string]any) error {
	for key, value := range entries {
		if err := c.Set(ctx, key, value, 0); err != nil {
			return err
		}
	}
	return nil
}

var _ Provider = (*PostgresProvider)(nil)
var _ api.StorageContext = (*postgresContext)(nil)
