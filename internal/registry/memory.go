package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gridcert/ggo-engine/internal/model"
)

// MemoryRegistry implements Registry with in-memory maps. Used for testing
// and development. Not suitable for production.
type MemoryRegistry struct {
	mu         sync.RWMutex
	accounts   map[string]*model.Account
	facilities []model.Facility
	agreements []model.TradeAgreement
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		accounts: make(map[string]*model.Account),
	}
}

// AddAccount registers an account.
func (r *MemoryRegistry) AddAccount(a model.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()

	copy := a
	r.accounts[a.ID] = &copy
}

// AddFacility registers a facility.
func (r *MemoryRegistry) AddFacility(f model.Facility) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.facilities = append(r.facilities, f)
}

// AddAgreement registers a trade agreement.
func (r *MemoryRegistry) AddAgreement(a model.TradeAgreement) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.agreements = append(r.agreements, a)
}

func (r *MemoryRegistry) GetAccount(_ context.Context, accountID string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	copy := *a
	return &copy, nil
}

func (r *MemoryRegistry) ListAutoRetiringFacilities(_ context.Context, accountID, sector string) ([]model.Facility, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Facility
	for _, f := range r.facilities {
		if f.AccountID != accountID || f.Type != model.FacilityConsumption {
			continue
		}
		if f.RetiringPriority == nil || f.Sector != sector {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].RetiringPriority < *out[j].RetiringPriority
	})
	return out, nil
}

func (r *MemoryRegistry) ListEligibleOutboundAgreements(_ context.Context, accountID, technology string, begin time.Time) ([]model.TradeAgreement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.TradeAgreement
	for _, a := range r.agreements {
		if a.FromAccountID != accountID || a.State != model.AgreementAccepted {
			continue
		}
		if !a.Active(begin) || !a.AllowsTechnology(technology) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TransferPriority < out[j].TransferPriority
	})
	return out, nil
}

func (r *MemoryRegistry) ListConsumptionLimitedSources(_ context.Context, accountID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, a := range r.agreements {
		if a.ToAccountID != accountID || a.State != model.AgreementAccepted || !a.LimitToConsumption {
			continue
		}
		if !seen[a.FromAccountID] {
			seen[a.FromAccountID] = true
			out = append(out, a.FromAccountID)
		}
	}
	return out, nil
}
