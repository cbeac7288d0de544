package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gridcert/ggo-engine/internal/model"
)

// MemoryMeasurements implements Measurements with in-memory maps. Used for
// testing and development. Not suitable for production.
type MemoryMeasurements struct {
	mu          sync.RWMutex
	consumption map[string]*model.Measurement // gsrn|begin → measurement
	retired     map[string]int64              // gsrn|measurement address → Wh

	consumptionErr error
	retiredErr     error
}

// NewMemoryMeasurements creates an empty in-memory measurement gateway.
func NewMemoryMeasurements() *MemoryMeasurements {
	return &MemoryMeasurements{
		consumption: make(map[string]*model.Measurement),
		retired:     make(map[string]int64),
	}
}

func consumptionKey(gsrn string, begin time.Time) string {
	return fmt.Sprintf("%s|%d", gsrn, begin.UTC().Unix())
}

// SetConsumption publishes a consumption reading.
func (m *MemoryMeasurements) SetConsumption(meas model.Measurement) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copy := meas
	m.consumption[consumptionKey(meas.GSRN, meas.Begin)] = &copy
}

// SetRetired records the already-retired amount for a measurement.
func (m *MemoryMeasurements) SetRetired(gsrn, measurementAddress string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retired[gsrn+"|"+measurementAddress] = amount
}

// SetConsumptionErr makes consumption lookups fail with err (nil clears).
// Tests use it to simulate gateway outages.
func (m *MemoryMeasurements) SetConsumptionErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consumptionErr = err
}

// SetRetiredErr makes retired-amount lookups fail with err (nil clears).
func (m *MemoryMeasurements) SetRetiredErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retiredErr = err
}

func (m *MemoryMeasurements) GetConsumption(_ context.Context, _, gsrn string, begin time.Time) (*model.Measurement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.consumptionErr != nil {
		return nil, m.consumptionErr
	}
	meas, ok := m.consumption[consumptionKey(gsrn, begin)]
	if !ok {
		return nil, nil
	}
	copy := *meas
	return &copy, nil
}

func (m *MemoryMeasurements) GetRetiredAmount(_ context.Context, _, gsrn, measurementAddress string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.retiredErr != nil {
		return 0, m.retiredErr
	}
	return m.retired[gsrn+"|"+measurementAddress], nil
}

// ComposeCall records one ComposeSplit invocation against MemoryLedger.
type ComposeCall struct {
	Token   string
	Address string
	Request *SplitRequest
}

// MemoryLedger implements Ledger with in-memory maps. Used for testing and
// development. Compose calls are recorded, validated for conservation, and
// reflected in transferred/stored totals so repeated runs observe the
// committed state.
type MemoryLedger struct {
	mu          sync.RWMutex
	certs       map[string]*model.Certificate // address → certificate
	holdings    map[string][]string           // token → stored certificate addresses
	transferred map[string]int64              // reference|begin → Wh
	stored      map[string]int64              // token|begin → Wh
	composes    []ComposeCall

	transferredErr error
	storedErr      error
	composeErr     error
}

// NewMemoryLedger creates an empty in-memory ledger gateway.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		certs:       make(map[string]*model.Certificate),
		holdings:    make(map[string][]string),
		transferred: make(map[string]int64),
		stored:      make(map[string]int64),
	}
}

func bucketKey(prefix string, begin time.Time) string {
	return fmt.Sprintf("%s|%d", prefix, begin.UTC().Unix())
}

// AddCertificate stores a certificate in the token's account.
func (l *MemoryLedger) AddCertificate(token string, cert model.Certificate) {
	l.mu.Lock()
	defer l.mu.Unlock()

	copy := cert
	l.certs[cert.Address] = &copy
	l.holdings[token] = append(l.holdings[token], cert.Address)
	l.stored[bucketKey(token, cert.Begin)] += cert.Amount
}

// SetStoredAmount overrides the stored balance for a token and bucket.
func (l *MemoryLedger) SetStoredAmount(token string, begin time.Time, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stored[bucketKey(token, begin)] = amount
}

// SetTransferredAmount seeds the already-transferred total for a reference.
func (l *MemoryLedger) SetTransferredAmount(reference string, begin time.Time, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.transferred[bucketKey(reference, begin)] = amount
}

// SetTransferredErr makes transferred-amount lookups fail with err (nil
// clears).
func (l *MemoryLedger) SetTransferredErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.transferredErr = err
}

// SetStoredErr makes stored-amount lookups fail with err (nil clears).
func (l *MemoryLedger) SetStoredErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.storedErr = err
}

// SetComposeErr makes compose calls fail with err (nil clears).
func (l *MemoryLedger) SetComposeErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.composeErr = err
}

// Composes returns the recorded compose calls.
func (l *MemoryLedger) Composes() []ComposeCall {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ComposeCall, len(l.composes))
	copy(out, l.composes)
	return out
}

func (l *MemoryLedger) GetCertificate(_ context.Context, _, address string) (*model.Certificate, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cert, ok := l.certs[address]
	if !ok {
		return nil, fmt.Errorf("%w: certificate %s not in account", ErrStructural, address)
	}
	copy := *cert
	return &copy, nil
}

func (l *MemoryLedger) GetTransferredAmount(_ context.Context, _, reference string, begin time.Time) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.transferredErr != nil {
		return 0, l.transferredErr
	}
	return l.transferred[bucketKey(reference, begin)], nil
}

func (l *MemoryLedger) GetStoredAmount(_ context.Context, token string, begin time.Time) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.storedErr != nil {
		return 0, l.storedErr
	}
	return l.stored[bucketKey(token, begin)], nil
}

func (l *MemoryLedger) ListStoredCertificates(_ context.Context, token string, from, to time.Time) ([]model.Certificate, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.Certificate
	for _, addr := range l.holdings[token] {
		cert, ok := l.certs[addr]
		if !ok {
			continue
		}
		if cert.Begin.Before(from) || cert.Begin.After(to) {
			continue
		}
		out = append(out, *cert)
	}
	return out, nil
}

func (l *MemoryLedger) ComposeSplit(_ context.Context, token, certificateAddress string, req *SplitRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.composeErr != nil {
		return l.composeErr
	}

	cert, ok := l.certs[certificateAddress]
	if !ok {
		return fmt.Errorf("%w: certificate %s not in account", ErrStructural, certificateAddress)
	}
	if req.Total() > cert.Amount {
		return fmt.Errorf("%w: split total %d exceeds certificate amount %d", ErrStructural, req.Total(), cert.Amount)
	}

	l.composes = append(l.composes, ComposeCall{Token: token, Address: certificateAddress, Request: req})

	// Reflect the committed split so later runs see updated totals.
	for _, t := range req.Transfers() {
		l.transferred[bucketKey(t.Reference, cert.Begin)] += t.Amount
	}
	l.stored[bucketKey(token, cert.Begin)] -= req.Total()

	return nil
}
