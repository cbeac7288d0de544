// Package registry defines the eligibility and account lookup interface for
// the allocation engine. Implementations include PostgreSQL (source of
// truth) and in-memory (for testing and development).
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/gridcert/ggo-engine/internal/model"
)

var (
	// ErrAccountNotFound is returned when the account referenced by an event
	// no longer exists. The event is stale; tasks must not retry.
	ErrAccountNotFound = errors.New("registry: account not found")
)

// Registry answers the eligibility queries the consumer resolver and the
// task layer depend on. Results are ordered by priority and never cached:
// priorities and eligibility can change between allocation runs.
type Registry interface {
	// GetAccount resolves an account and its gateway credential.
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)

	// ListAutoRetiringFacilities returns the account's consumption
	// facilities configured to auto-retire, filtered by sector, ordered by
	// retiring priority ascending.
	ListAutoRetiringFacilities(ctx context.Context, accountID, sector string) ([]model.Facility, error)

	// ListEligibleOutboundAgreements returns the ACCEPTED agreements where
	// the account is the sender, active at the given time-bucket begin and
	// covering the technology, ordered by transfer priority ascending.
	ListEligibleOutboundAgreements(ctx context.Context, accountID, technology string, begin time.Time) ([]model.TradeAgreement, error)

	// ListConsumptionLimitedSources returns the sender account IDs of
	// ACCEPTED consumption-limited agreements flowing into the given
	// account. New consumption data for the account can unlock transfers on
	// exactly these agreements.
	ListConsumptionLimitedSources(ctx context.Context, accountID string) ([]string, error)
}
