// Package persistence defines the opportunity store contract shared by
// the CSV and Postgres sinks; the sinks themselves live in the csv and
// postgres subpackages.
package persistence

import (
	"context"

	"github.com/sawpanic/arbitron/internal/domain"
)

// OpportunityStore persists a detected, depth-validated cycle.
// Implementations must be safe for concurrent use by the scanner and
// stream listener.
type OpportunityStore interface {
	Save(ctx context.Context, opp domain.Opportunity) error
	Close() error
}
