// Package model defines the core domain types shared across the allocation
// engine. All energy amounts are integer watt-hours — never float64 for
// energy.
package model

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// FacilityType distinguishes metering points that produce energy from those
// that consume it.
type FacilityType string

const (
	FacilityProduction  FacilityType = "production"
	FacilityConsumption FacilityType = "consumption"
)

// AgreementState is the lifecycle state of a trade agreement. Only ACCEPTED
// agreements participate in allocation.
type AgreementState string

const (
	AgreementPending   AgreementState = "PENDING"
	AgreementAccepted  AgreementState = "ACCEPTED"
	AgreementDeclined  AgreementState = "DECLINED"
	AgreementCancelled AgreementState = "CANCELLED"
	AgreementWithdrawn AgreementState = "WITHDRAWN"
)

// Certificate is a GGO: a quantity of energy tagged with technology, sector
// and time bucket. Immutable once issued; the engine only ever requests a
// split of it through the ledger gateway.
type Certificate struct {
	Address    string    `json:"address"`
	Sector     string    `json:"sector"`
	Begin      time.Time `json:"begin"`
	End        time.Time `json:"end"`
	Amount     int64     `json:"amount"` // Wh
	Technology string    `json:"technology"`
	TechCode   string    `json:"technology_code"`
	FuelCode   string    `json:"fuel_code"`
}

// Facility is a metering point owned by exactly one account.
type Facility struct {
	ID        string       `json:"id"`
	AccountID string       `json:"account_id"`
	GSRN      string       `json:"gsrn"`
	Type      FacilityType `json:"facility_type"`
	Sector    string       `json:"sector"`

	// RetiringPriority orders auto-retiring facilities, lower = higher
	// priority. Nil means the facility does not retire automatically.
	RetiringPriority *int `json:"retiring_priority,omitempty"`
}

// TradeAgreement is a directional contract: FromAccountID owns certificates,
// ToAccountID receives them.
//
// Exactly one of {Amount with Unit, LimitToConsumption} defines the cap.
type TradeAgreement struct {
	ID            string         `json:"id"`
	PublicID      string         `json:"public_id"` // reference carried on transfer lines
	FromAccountID string         `json:"from_account_id"`
	ToAccountID   string         `json:"to_account_id"`
	State         AgreementState `json:"state"`
	DateFrom      time.Time      `json:"date_from"`
	DateTo        time.Time      `json:"date_to"`

	// Technologies is the allow-list; empty = any technology.
	Technologies []string `json:"technologies,omitempty"`

	Amount int64 `json:"amount"`
	Unit   int64 `json:"unit"` // Wh multiplier (1 = Wh, 1000 = kWh, ...)

	// AmountPercent, when set, additionally caps each certificate at this
	// percentage of the certificate's own amount.
	AmountPercent *int `json:"amount_percent,omitempty"`

	LimitToConsumption bool `json:"limit_to_consumption"`

	// TransferPriority orders agreements, lower = higher priority. Assigned
	// sequentially on acceptance, renumbered densely on cancellation.
	TransferPriority int `json:"transfer_priority"`
}

// Active reports whether the agreement's date range contains t.
func (a *TradeAgreement) Active(t time.Time) bool {
	return !t.Before(a.DateFrom) && !t.After(a.DateTo)
}

// AllowsTechnology reports whether the agreement covers the given
// technology. An empty allow-list covers everything.
func (a *TradeAgreement) AllowsTechnology(tech string) bool {
	if len(a.Technologies) == 0 {
		return true
	}
	for _, t := range a.Technologies {
		if t == tech {
			return true
		}
	}
	return false
}

// EffectiveCap returns the agreement's cap against a certificate of the
// given size: the absolute amount×unit cap, further bounded by
// floor(AmountPercent/100 × certAmount) when a percentage is set. Decimal
// arithmetic keeps the percentage floor exact.
func (a *TradeAgreement) EffectiveCap(certAmount int64) int64 {
	limit := a.Amount * a.Unit
	if a.AmountPercent != nil {
		pct := decimal.NewFromInt(int64(*a.AmountPercent)).
			Div(decimal.NewFromInt(100)).
			Mul(decimal.NewFromInt(certAmount)).
			Floor().IntPart()
		if pct < limit {
			limit = pct
		}
	}
	return limit
}

// Measurement is one consumption reading for a facility and time bucket, as
// published by the measurement gateway.
type Measurement struct {
	Address string    `json:"address"`
	GSRN    string    `json:"gsrn"`
	Begin   time.Time `json:"begin"`
	End     time.Time `json:"end"`
	Amount  int64     `json:"amount"` // Wh
}

// Account is an authenticated platform account together with the credential
// the gateways expect. How the token was obtained (OAuth, sessions) is the
// caller's problem.
type Account struct {
	ID    string `json:"id"`
	Token string `json:"-"`
}

// gsrnRegex matches an 18-digit Global Service Relation Number.
var gsrnRegex = regexp.MustCompile(`^\d{18}$`)

// ValidGSRN reports whether s looks like a GSRN metering point identifier.
func ValidGSRN(s string) bool {
	return gsrnRegex.MatchString(s)
}
