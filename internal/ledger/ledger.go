// Package ledger defines the gateway interfaces to the external measurement
// and certificate-ledger services, plus the split request a single
// allocation run accumulates before committing.
//
// The engine treats these services as the source of truth and never caches
// their answers across runs.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/gridcert/ggo-engine/internal/model"
)

var (
	// ErrStructural marks permanent gateway failures: the certificate or the
	// request itself is invalid (already fully consumed, unknown address,
	// malformed split). Tasks must not retry these.
	ErrStructural = errors.New("ledger: structural error")
)

// Measurements provides consumption readings and retirement totals for
// metering points. Calls are blocking network calls; a nil Measurement with
// nil error means no reading exists for that time bucket.
type Measurements interface {
	// GetConsumption returns the consumption reading for a facility at the
	// given time-bucket begin, or nil when none has been published.
	GetConsumption(ctx context.Context, token, gsrn string, begin time.Time) (*model.Measurement, error)

	// GetRetiredAmount returns the Wh already retired against one
	// measurement.
	GetRetiredAmount(ctx context.Context, token, gsrn, measurementAddress string) (int64, error)
}

// Ledger provides certificate balances and the compose operation that
// commits a split.
type Ledger interface {
	// GetCertificate resolves a certificate by address within the token's
	// account. Unknown or already fully consumed certificates return an
	// error wrapping ErrStructural.
	GetCertificate(ctx context.Context, token, address string) (*model.Certificate, error)

	// GetTransferredAmount returns the Wh already transferred under an
	// agreement reference for the given time bucket.
	GetTransferredAmount(ctx context.Context, token, reference string, begin time.Time) (int64, error)

	// GetStoredAmount returns the Wh the account is holding unconsumed for
	// the given time bucket.
	GetStoredAmount(ctx context.Context, token string, begin time.Time) (int64, error)

	// ListStoredCertificates returns the account's stored certificates whose
	// time bucket begins within [from, to] inclusive.
	ListStoredCertificates(ctx context.Context, token string, from, to time.Time) ([]model.Certificate, error)

	// ComposeSplit atomically splits one certificate into the accumulated
	// transfer and retirement parts. Either the whole split commits or none
	// of it does.
	ComposeSplit(ctx context.Context, token, certificateAddress string, req *SplitRequest) error
}

// TransferLine is one transfer part of a split: amount moves to the
// recipient account under an agreement reference.
type TransferLine struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
	Account   string `json:"account"`
}

// RetireLine is one retirement part of a split: amount is permanently
// consumed against a metering point.
type RetireLine struct {
	Amount int64  `json:"amount"`
	GSRN   string `json:"gsrn"`
}

// SplitRequest accumulates the claims of one allocation run. Consumers
// append lines; nothing touches external state until ComposeSplit.
type SplitRequest struct {
	transfers   []TransferLine
	retirements []RetireLine
}

// NewSplitRequest returns an empty accumulator.
func NewSplitRequest() *SplitRequest {
	return &SplitRequest{}
}

// AddTransfer appends a transfer line.
func (r *SplitRequest) AddTransfer(amount int64, reference, account string) {
	r.transfers = append(r.transfers, TransferLine{Amount: amount, Reference: reference, Account: account})
}

// AddRetirement appends a retirement line.
func (r *SplitRequest) AddRetirement(amount int64, gsrn string) {
	r.retirements = append(r.retirements, RetireLine{Amount: amount, GSRN: gsrn})
}

// Transfers returns the accumulated transfer lines.
func (r *SplitRequest) Transfers() []TransferLine {
	return r.transfers
}

// Retirements returns the accumulated retirement lines.
func (r *SplitRequest) Retirements() []RetireLine {
	return r.retirements
}

// Empty reports whether no consumer claimed anything.
func (r *SplitRequest) Empty() bool {
	return len(r.transfers) == 0 && len(r.retirements) == 0
}

// Total returns the summed Wh across all lines.
func (r *SplitRequest) Total() int64 {
	var total int64
	for _, t := range r.transfers {
		total += t.Amount
	}
	for _, rt := range r.retirements {
		total += rt.Amount
	}
	return total
}
