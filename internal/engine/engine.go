// Package engine implements the greedy, priority-ordered split of one
// certificate across its resolved consumer chain.
//
// The walk is strictly sequential and short-circuiting: order is a
// correctness requirement (a higher-priority consumer must never be starved
// by a lower-priority one), and consumers past the point of exhaustion are
// never queried, avoiding needless gateway calls.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gridcert/ggo-engine/internal/consumer"
	"github.com/gridcert/ggo-engine/internal/ledger"
	"github.com/gridcert/ggo-engine/internal/model"
)

// Assignment is one consumer's share of the split.
type Assignment struct {
	Consumer consumer.Consumer
	Amount   int64
}

// Result describes the outcome of one allocation run.
type Result struct {
	Assignments []Assignment
	Remaining   int64 // Wh left in storage
	Composed    bool  // whether a compose call was submitted
}

// AffectedSubjects returns the deduplicated account IDs touched by the
// assignments, in first-seen order.
func (r *Result) AffectedSubjects() []string {
	seen := make(map[string]bool)
	var subjects []string
	for _, a := range r.Assignments {
		for _, s := range a.Consumer.AffectedSubjects() {
			if !seen[s] {
				seen[s] = true
				subjects = append(subjects, s)
			}
		}
	}
	return subjects
}

// Run walks the chain in priority order, assigns amounts until the
// certificate is exhausted, and submits a single compose call when at least
// one consumer claimed something.
//
// Any consumer error aborts the run before anything external is mutated:
// partial submission would double count on retry. If no consumer claims
// anything, no external call is made and the certificate stays stored.
func Run(ctx context.Context, ldg ledger.Ledger, token string, cert *model.Certificate, chain []consumer.Consumer) (*Result, error) {
	remaining := cert.Amount
	req := ledger.NewSplitRequest()
	res := &Result{}

	for _, c := range chain {
		if remaining == 0 {
			break
		}

		desired, err := c.DesiredAmount(ctx, cert, cert.Amount-remaining)
		if err != nil {
			return nil, fmt.Errorf("allocate %s: %w", cert.Address, err)
		}

		assigned := desired
		if assigned > remaining {
			assigned = remaining
		}
		if assigned <= 0 {
			continue
		}

		c.Consume(req, cert, assigned)
		remaining -= assigned
		res.Assignments = append(res.Assignments, Assignment{Consumer: c, Amount: assigned})
	}

	res.Remaining = remaining

	if remaining < cert.Amount {
		if err := ldg.ComposeSplit(ctx, token, cert.Address, req); err != nil {
			return nil, fmt.Errorf("compose %s: %w", cert.Address, err)
		}
		res.Composed = true
	}

	slog.Info("allocation run finished",
		"certificate", cert.Address,
		"amount", cert.Amount,
		"assigned", cert.Amount-remaining,
		"remaining", remaining,
		"consumers", len(chain),
		"composed", res.Composed,
	)

	return res, nil
}
