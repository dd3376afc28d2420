package transaction

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type tags the direction of a transaction. Amounts are stored as positive
// minor units; the sign lives here.
type Type string

const (
	TypeIncome  Type = "INCOME"
	TypeExpense Type = "EXPENSE"
)

// Transaction is a single financial movement filed under an envelope.
type Transaction struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"userId"`
	EnvelopeID  uuid.UUID  `json:"envelopeId"`
	Description string     `json:"description"`
	AmountMinor int64      `json:"amountMinor"`
	Type        Type       `json:"type"`
	Date        time.Time  `json:"date"`
	ImportJobID *uuid.UUID `json:"importJobId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// TypeForAmount returns the transaction type implied by a signed amount in
// minor units.
func TypeForAmount(signedMinor int64) Type {
	if signedMinor < 0 {
		return TypeExpense
	}
	return TypeIncome
}

// Repository persists transactions.
type Repository interface {
	Create(ctx context.Context, tx *Transaction) error
	// ExistsDuplicate reports whether the user already has a transaction on
	// the same calendar date with the same description and signed amount.
	ExistsDuplicate(ctx context.Context, userID uuid.UUID, date time.Time, description string, signedMinor int64) (bool, error)
}
