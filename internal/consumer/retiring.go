package consumer

import (
	"context"
	"fmt"

	"github.com/gridcert/ggo-engine/internal/ledger"
	"github.com/gridcert/ggo-engine/internal/model"
)

// Retiring claims certificate amounts against a consumption facility's
// measured, not-yet-retired consumption for the certificate's time bucket.
type Retiring struct {
	facility     model.Facility
	token        string
	measurements ledger.Measurements
}

// NewRetiring creates a retiring consumer for one auto-retiring facility.
func NewRetiring(facility model.Facility, token string, measurements ledger.Measurements) *Retiring {
	return &Retiring{facility: facility, token: token, measurements: measurements}
}

// DesiredAmount is the facility's consumption headroom for the bucket:
// measured consumption minus what is already retired against it. A missing
// measurement means zero — never retire against unknown consumption.
func (r *Retiring) DesiredAmount(ctx context.Context, cert *model.Certificate, _ int64) (int64, error) {
	meas, err := r.measurements.GetConsumption(ctx, r.token, r.facility.GSRN, cert.Begin)
	if err != nil {
		return 0, fmt.Errorf("consumption for %s: %w", r.facility.GSRN, err)
	}
	if meas == nil {
		return 0, nil
	}

	retired, err := r.measurements.GetRetiredAmount(ctx, r.token, r.facility.GSRN, meas.Address)
	if err != nil {
		return 0, fmt.Errorf("retired amount for %s: %w", r.facility.GSRN, err)
	}

	return clamp(meas.Amount-retired, cert.Amount), nil
}

func (r *Retiring) Consume(req *ledger.SplitRequest, _ *model.Certificate, amount int64) {
	req.AddRetirement(amount, r.facility.GSRN)
}

func (r *Retiring) AffectedSubjects() []string {
	return []string{r.facility.AccountID}
}
