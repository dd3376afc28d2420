package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresRepository struct {
	pool Querier
}

func NewPostgresRepository(pool Querier) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, tx *Transaction) error {
	query := `
		INSERT INTO transactions (user_id, envelope_id, description, amount_minor, type, txn_date, import_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := r.pool.QueryRow(ctx, query,
		tx.UserID, tx.EnvelopeID, tx.Description, tx.AmountMinor, tx.Type, tx.Date, tx.ImportJobID,
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ExistsDuplicate(ctx context.Context, userID uuid.UUID, date time.Time, description string, signedMinor int64) (bool, error) {
	amountMinor := signedMinor
	if amountMinor < 0 {
		amountMinor = -amountMinor
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE user_id = $1
			  AND txn_date = $2
			  AND description = $3
			  AND amount_minor = $4
			  AND type = $5
		)`

	var exists bool
	err := r.pool.QueryRow(ctx, query,
		userID, date, description, amountMinor, TypeForAmount(signedMinor),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate transaction: %w", err)
	}
	return exists, nil
}
