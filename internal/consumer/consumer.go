// Package consumer defines the polymorphic units of demand that compete for
// a certificate during one allocation run, and the resolver that builds the
// ordered chain of them.
//
// A consumer is ephemeral: built fresh for every run, it has no identity
// beyond it. Three variants exist: a retiring facility, a plain trade
// agreement, and a consumption-limited trade agreement.
package consumer

import (
	"context"

	"github.com/gridcert/ggo-engine/internal/ledger"
	"github.com/gridcert/ggo-engine/internal/model"
)

// Consumer is one claimant in the priority-ordered chain.
type Consumer interface {
	// DesiredAmount returns how much of the certificate this consumer still
	// wants, given the Wh already claimed by higher-priority consumers in
	// the same run. Pure query against external state at call time; safe to
	// call repeatedly. Errors must propagate — they abort the whole run.
	DesiredAmount(ctx context.Context, cert *model.Certificate, alreadyClaimed int64) (int64, error)

	// Consume appends this consumer's claim to the split request. It
	// side-effects only the accumulator, never external systems.
	Consume(req *ledger.SplitRequest, cert *model.Certificate, amount int64)

	// AffectedSubjects lists every account whose balance the claim touches,
	// for downstream notification fan-out.
	AffectedSubjects() []string
}

func clamp(desired, certAmount int64) int64 {
	if desired > certAmount {
		desired = certAmount
	}
	if desired < 0 {
		desired = 0
	}
	return desired
}
