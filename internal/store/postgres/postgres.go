// Package postgres implements core.Store on PostgreSQL with pgx.
//
// Identities and profiles live in separate tables sharing a primary key.
// Each WritePairs call is one transaction; identities are inserted with
// ON CONFLICT (phone) DO NOTHING so a phone taken between validation and
// write is reported as a conflict instead of aborting the batch.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/onboard/internal/config"
	"github.com/JonMunkholm/onboard/internal/core"
)

//go:embed schema.sql
var schemaSQL string

// MaxBatchSize bounds the pairs queued in one pgx batch.
const MaxBatchSize = 1000

// Store is a core.Store backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens and pings a pool configured from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ExistingPhones implements core.PhoneSource.
func (s *Store) ExistingPhones(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT phone FROM identities")
	if err != nil {
		return nil, fmt.Errorf("query phones: %w", err)
	}
	phones, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan phones: %w", err)
	}
	return phones, nil
}

// MaxBatchSize implements core.PairWriter.
func (s *Store) MaxBatchSize() int { return MaxBatchSize }

const insertIdentitySQL = `
INSERT INTO identities (id, name, phone, email, city, region, organization, role,
                        is_bulk_created, has_completed_basic_details, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (phone) DO NOTHING
RETURNING id`

const insertProfileSQL = `
INSERT INTO profiles (id, role, is_bulk_created, has_completed_basic_details, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// WritePairs implements core.PairWriter.
func (s *Store) WritePairs(ctx context.Context, pairs []core.ProvisionedPair) (core.WriteOutcome, error) {
	if len(pairs) == 0 {
		return core.WriteOutcome{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.WriteOutcome{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	identities := &pgx.Batch{}
	for _, p := range pairs {
		id := p.Identity
		identities.Queue(insertIdentitySQL,
			p.GeneratedID, id.Name, id.Phone, id.Email, id.City, id.Region, id.Organization,
			string(id.Role), id.BulkCreated, id.BasicDetailsComplete, id.CreatedAt)
	}

	var out core.WriteOutcome
	written := make([]core.ProvisionedPair, 0, len(pairs))
	br := tx.SendBatch(ctx, identities)
	for _, p := range pairs {
		var id string
		err := br.QueryRow().Scan(&id)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			out.Conflicts = append(out.Conflicts, p)
		case err != nil:
			br.Close()
			return core.WriteOutcome{}, fmt.Errorf("insert identity line %d: %w", p.LineNumber, err)
		default:
			written = append(written, p)
		}
	}
	if err := br.Close(); err != nil {
		return core.WriteOutcome{}, fmt.Errorf("insert identities: %w", err)
	}

	if len(written) > 0 {
		profiles := &pgx.Batch{}
		for _, p := range written {
			payload, err := json.Marshal(p.Profile.Payload)
			if err != nil {
				return core.WriteOutcome{}, fmt.Errorf("encode profile line %d: %w", p.LineNumber, err)
			}
			profiles.Queue(insertProfileSQL,
				p.GeneratedID, string(p.Profile.Role), p.Profile.BulkCreated,
				p.Profile.BasicDetailsComplete, payload, p.Profile.CreatedAt)
		}
		if err := tx.SendBatch(ctx, profiles).Close(); err != nil {
			return core.WriteOutcome{}, fmt.Errorf("insert profiles: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return core.WriteOutcome{}, fmt.Errorf("commit batch: %w", err)
	}
	out.Written = len(written)
	return out, nil
}

// BulkCreatedIDs implements core.BulkDeleter.
func (s *Store) BulkCreatedIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM identities WHERE is_bulk_created ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query bulk identities: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan bulk identities: %w", err)
	}
	return ids, nil
}

// DeletePairs implements core.BulkDeleter. Profiles go first, in the same
// transaction, and both deletes repeat the bulk-created predicate.
func (s *Store) DeletePairs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
DELETE FROM profiles p
USING identities i
WHERE p.id = i.id AND i.id = ANY($1) AND i.is_bulk_created`, ids); err != nil {
		return 0, fmt.Errorf("delete profiles: %w", err)
	}

	tag, err := tx.Exec(ctx, "DELETE FROM identities WHERE id = ANY($1) AND is_bulk_created", ids)
	if err != nil {
		return 0, fmt.Errorf("delete identities: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

var _ core.Store = (*Store)(nil)
