package consumer

import (
	"context"
	"fmt"

	"github.com/gridcert/ggo-engine/internal/ledger"
	"github.com/gridcert/ggo-engine/internal/model"
	"github.com/gridcert/ggo-engine/internal/registry"
)

// Resolver builds the ordered consumer chain for an (account, certificate)
// pair: the account's auto-retiring facilities matching the certificate's
// sector first, ordered by retiring priority, then the eligible outbound
// agreements ordered by transfer priority.
//
// The chain is built fresh for every run — eligibility and priorities can
// change between runs — and is consumed in a single pass by the engine.
type Resolver struct {
	registry     registry.Registry
	ledger       ledger.Ledger
	measurements ledger.Measurements
}

// NewResolver creates a resolver over the given collaborators.
func NewResolver(reg registry.Registry, ldg ledger.Ledger, measurements ledger.Measurements) *Resolver {
	return &Resolver{registry: reg, ledger: ldg, measurements: measurements}
}

// Resolve returns the chain for one allocation run. It may be empty, in
// which case the certificate stays fully in storage.
func (r *Resolver) Resolve(ctx context.Context, account *model.Account, cert *model.Certificate) ([]Consumer, error) {
	facilities, err := r.registry.ListAutoRetiringFacilities(ctx, account.ID, cert.Sector)
	if err != nil {
		return nil, fmt.Errorf("list retiring facilities: %w", err)
	}

	var chain []Consumer
	for _, f := range facilities {
		chain = append(chain, NewRetiring(f, account.Token, r.measurements))
	}

	agreements, err := r.registry.ListEligibleOutboundAgreements(ctx, account.ID, cert.Technology, cert.Begin)
	if err != nil {
		return nil, fmt.Errorf("list outbound agreements: %w", err)
	}

	for _, a := range agreements {
		if !a.LimitToConsumption {
			chain = append(chain, NewAgreement(a, account.Token, r.ledger))
			continue
		}

		// Consumption-limited variants query the recipient's facilities and
		// measurements, which needs the recipient's credential.
		recipient, err := r.registry.GetAccount(ctx, a.ToAccountID)
		if err != nil {
			return nil, fmt.Errorf("recipient of %s: %w", a.PublicID, err)
		}
		chain = append(chain, NewConsumptionLimited(a, account.Token, recipient.Token, r.ledger, r.registry, r.measurements))
	}

	return chain, nil
}
