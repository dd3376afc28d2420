// Package envelope manages budget buckets. Imported rows resolve to an
// envelope by name; unknown names create a new owner-scoped bucket and the
// reserved global default catches everything uncategorized.
package envelope

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// GlobalDefaultName is the canonical name of the reserved global envelope.
// Matching against it is case- and accent-insensitive, so "padrao" and
// "PADRÃO" both resolve to the same seeded bucket.
const GlobalDefaultName = "Padrão"

// TypeMonetary is the envelope type created for imported categories.
const TypeMonetary = "MONETARY"

// ErrGlobalEnvelopeMissing signals that the seeded global default envelope
// is absent. Imports cannot proceed without it.
var ErrGlobalEnvelopeMissing = errors.New("global default envelope not found")

// ErrNotFound is returned by lookups that match no envelope.
var ErrNotFound = errors.New("envelope not found")

// Envelope is one budget bucket, either owner-scoped or global.
type Envelope struct {
	ID          uuid.UUID
	UserID      *uuid.UUID
	Name        string
	Type        string
	ValueMinor  int64
	IsGlobal    bool
	IsDeletable bool
	CreatedAt   time.Time
}

// Repository is the persistence boundary for envelopes.
type Repository interface {
	// GetGlobalDefault returns the reserved global envelope or
	// ErrGlobalEnvelopeMissing.
	GetGlobalDefault(ctx context.Context) (*Envelope, error)

	// GetOrCreate returns the owner's envelope matching name
	// case-insensitively, creating it atomically when absent. Concurrent
	// callers for the same (owner, name) converge on a single row.
	GetOrCreate(ctx context.Context, userID uuid.UUID, name string) (*Envelope, error)
}

// FoldName normalizes an envelope name for reserved-name comparison:
// lowercase with combining accents removed.
func FoldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// IsReservedName reports whether the raw value names the global default
// envelope under case/accent-insensitive comparison.
func IsReservedName(raw string) bool {
	return FoldName(raw) == FoldName(GlobalDefaultName)
}
