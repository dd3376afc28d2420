package envelope

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
)

// Querier is the subset of pgxpool.Pool the repository needs. Satisfied by
// both the real pool and pgxmock.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool Querier
}

// NewPostgresRepository creates a new PostgreSQL envelope repository.
func NewPostgresRepository(pool Querier) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const envelopeColumns = `id, user_id, name, type, value_minor, is_global, is_deletable, created_at`

func scanEnvelope(row pgx.Row) (*Envelope, error) {
	e := &Envelope{}
	err := row.Scan(&e.ID, &e.UserID, &e.Name, &e.Type, &e.ValueMinor, &e.IsGlobal, &e.IsDeletable, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetGlobalDefault returns the reserved global envelope.
func (r *PostgresRepository) GetGlobalDefault(ctx context.Context) (*Envelope, error) {
	query := `
		SELECT ` + envelopeColumns + `
		FROM envelopes
		WHERE is_global AND lower(name) = lower($1)`

	e, err := scanEnvelope(r.pool.QueryRow(ctx, query, GlobalDefaultName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGlobalEnvelopeMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global envelope: %w", err)
	}
	return e, nil
}

// GetOrCreate finds or creates an owner-scoped envelope. The unique index on
// (user_id, lower(name)) makes creation atomic; a concurrent insert surfaces
// as a unique violation and the lookup is retried.
func (r *PostgresRepository) GetOrCreate(ctx context.Context, userID uuid.UUID, name string) (*Envelope, error) {
	selectQuery := `
		SELECT ` + envelopeColumns + `
		FROM envelopes
		WHERE user_id = $1 AND lower(name) = lower($2)`

	insertQuery := `
		INSERT INTO envelopes (user_id, name, type, value_minor, is_global, is_deletable)
		VALUES ($1, $2, $3, 0, false, true)
		ON CONFLICT DO NOTHING
		RETURNING ` + envelopeColumns

	var result *Envelope
	backoff := retry.WithMaxRetries(3, retry.NewConstant(25*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		e, err := scanEnvelope(r.pool.QueryRow(ctx, selectQuery, userID, name))
		if err == nil {
			result = e
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to look up envelope: %w", err)
		}

		e, err = scanEnvelope(r.pool.QueryRow(ctx, insertQuery, userID, name, TypeMonetary))
		if err == nil {
			result = e
			return nil
		}

		// ON CONFLICT DO NOTHING returns no row when another import created
		// the envelope first; loop back to the lookup.
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return retry.RetryableError(fmt.Errorf("envelope created concurrently: %w", err))
		}
		return fmt.Errorf("failed to create envelope: %w", err)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
