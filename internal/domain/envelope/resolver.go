package envelope

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Resolver maps raw envelope names from import files to envelope rows.
type Resolver struct {
	repo   Repository
	logger *slog.Logger
}

func NewResolver(repo Repository, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger}
}

// Resolve returns the envelope a transaction should be filed under. An empty
// name, or any spelling of the reserved default (accents and case ignored),
// resolves to the global envelope. Anything else is found or created under
// the user's own envelopes.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, rawName string) (*Envelope, error) {
	name := strings.TrimSpace(rawName)

	if name == "" || IsReservedName(name) {
		env, err := r.repo.GetGlobalDefault(ctx)
		if err != nil {
			return nil, err
		}
		return env, nil
	}

	env, err := r.repo.GetOrCreate(ctx, userID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve envelope %q: %w", name, err)
	}

	r.logger.DebugContext(ctx, "resolved envelope",
		slog.String("name", env.Name),
		slog.String("envelope_id", env.ID.String()))
	return env, nil
}
