package consumer

import (
	"context"
	"fmt"

	"github.com/gridcert/ggo-engine/internal/ledger"
	"github.com/gridcert/ggo-engine/internal/model"
	"github.com/gridcert/ggo-engine/internal/registry"
)

// Agreement claims certificate amounts for transfer under a plain trade
// agreement, bounded by the agreement's per-bucket cap minus what has
// already been transferred under its reference.
//
// The cap is bounded only by the agreement's own externally recorded
// transferred total, not by sibling claims within the current run: an
// agreement appears at most once per run, and its cap is a contract between
// the two parties, independent of other consumers.
type Agreement struct {
	agreement model.TradeAgreement
	token     string // sender's credential
	ledger    ledger.Ledger
}

// NewAgreement creates a plain agreement consumer.
func NewAgreement(agreement model.TradeAgreement, token string, ldg ledger.Ledger) *Agreement {
	return &Agreement{agreement: agreement, token: token, ledger: ldg}
}

func (a *Agreement) DesiredAmount(ctx context.Context, cert *model.Certificate, _ int64) (int64, error) {
	return a.cappedAmount(ctx, cert)
}

// cappedAmount is the effective cap minus the already-transferred total,
// clamped to [0, cert.Amount].
func (a *Agreement) cappedAmount(ctx context.Context, cert *model.Certificate) (int64, error) {
	limit := a.agreement.EffectiveCap(cert.Amount)

	transferred, err := a.ledger.GetTransferredAmount(ctx, a.token, a.agreement.PublicID, cert.Begin)
	if err != nil {
		return 0, fmt.Errorf("transferred amount for %s: %w", a.agreement.PublicID, err)
	}

	return clamp(limit-transferred, cert.Amount), nil
}

func (a *Agreement) Consume(req *ledger.SplitRequest, _ *model.Certificate, amount int64) {
	req.AddTransfer(amount, a.agreement.PublicID, a.agreement.ToAccountID)
}

func (a *Agreement) AffectedSubjects() []string {
	return []string{a.agreement.FromAccountID, a.agreement.ToAccountID}
}

// ConsumptionLimited is an agreement consumer whose cap is additionally
// bounded by the recipient's real consumption headroom: what the recipient's
// auto-retiring facilities have measured but not yet retired, minus what
// this run already claimed and what the recipient already stores unconsumed
// for the bucket.
type ConsumptionLimited struct {
	Agreement
	recipientToken string
	registry       registry.Registry
	measurements   ledger.Measurements
}

// NewConsumptionLimited creates a consumption-limited agreement consumer.
// recipientToken is the receiving account's credential; failures while
// querying the recipient's data propagate, since they indicate a credential
// or data problem for an account other than the one running the task.
func NewConsumptionLimited(agreement model.TradeAgreement, token, recipientToken string, ldg ledger.Ledger, reg registry.Registry, measurements ledger.Measurements) *ConsumptionLimited {
	return &ConsumptionLimited{
		Agreement:      Agreement{agreement: agreement, token: token, ledger: ldg},
		recipientToken: recipientToken,
		registry:       reg,
		measurements:   measurements,
	}
}

func (c *ConsumptionLimited) DesiredAmount(ctx context.Context, cert *model.Certificate, alreadyClaimed int64) (int64, error) {
	capped, err := c.cappedAmount(ctx, cert)
	if err != nil {
		return 0, err
	}
	if capped <= 0 {
		return 0, nil
	}

	headroom, err := c.recipientHeadroom(ctx, cert)
	if err != nil {
		return 0, err
	}

	stored, err := c.ledger.GetStoredAmount(ctx, c.recipientToken, cert.Begin)
	if err != nil {
		return 0, fmt.Errorf("stored amount for %s: %w", c.agreement.ToAccountID, err)
	}

	desired := headroom - alreadyClaimed - stored
	if desired > capped {
		desired = capped
	}
	return clamp(desired, cert.Amount), nil
}

// recipientHeadroom sums measured-minus-retired consumption across the
// recipient's auto-retiring facilities eligible for the certificate's
// sector. Missing measurements count as zero; lookup errors do not.
func (c *ConsumptionLimited) recipientHeadroom(ctx context.Context, cert *model.Certificate) (int64, error) {
	facilities, err := c.registry.ListAutoRetiringFacilities(ctx, c.agreement.ToAccountID, cert.Sector)
	if err != nil {
		return 0, fmt.Errorf("recipient facilities for %s: %w", c.agreement.ToAccountID, err)
	}

	var headroom int64
	for _, f := range facilities {
		meas, err := c.measurements.GetConsumption(ctx, c.recipientToken, f.GSRN, cert.Begin)
		if err != nil {
			return 0, fmt.Errorf("recipient consumption for %s: %w", f.GSRN, err)
		}
		if meas == nil {
			continue
		}

		retired, err := c.measurements.GetRetiredAmount(ctx, c.recipientToken, f.GSRN, meas.Address)
		if err != nil {
			return 0, fmt.Errorf("recipient retired amount for %s: %w", f.GSRN, err)
		}

		if h := meas.Amount - retired; h > 0 {
			headroom += h
		}
	}
	return headroom, nil
}
