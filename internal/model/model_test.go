package model_test

import (
	"testing"
	"time"

	"github.com/gridcert/ggo-engine/internal/model"
)

func intPtr(n int) *int { return &n }

func TestEffectiveCap(t *testing.T) {
	tests := []struct {
		name       string
		amount     int64
		unit       int64
		percent    *int
		certAmount int64
		want       int64
	}{
		{"absolute only", 40, 1, nil, 100, 40},
		{"unit multiplier", 2, 1000, nil, 5000, 2000},
		{"percent binds tighter", 1000, 1, intPtr(50), 100, 50},
		{"absolute binds tighter", 30, 1, intPtr(50), 100, 30},
		{"percent floors", 1000, 1, intPtr(33), 100, 33},
		{"percent floors odd amounts", 1000, 1, intPtr(50), 101, 50},
		{"hundred percent", 1000, 1, intPtr(100), 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := model.TradeAgreement{
				Amount:        tt.amount,
				Unit:          tt.unit,
				AmountPercent: tt.percent,
			}
			if got := a.EffectiveCap(tt.certAmount); got != tt.want {
				t.Errorf("EffectiveCap(%d) = %d, want %d", tt.certAmount, got, tt.want)
			}
		})
	}
}

func TestAgreementActive(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)
	a := model.TradeAgreement{DateFrom: from, DateTo: to}

	if !a.Active(from) {
		t.Error("range start should be active")
	}
	if !a.Active(to) {
		t.Error("range end should be active")
	}
	if !a.Active(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)) {
		t.Error("midpoint should be active")
	}
	if a.Active(from.Add(-time.Hour)) {
		t.Error("before range should not be active")
	}
	if a.Active(to.Add(time.Hour)) {
		t.Error("after range should not be active")
	}
}

func TestAllowsTechnology(t *testing.T) {
	any := model.TradeAgreement{}
	if !any.AllowsTechnology("Wind") {
		t.Error("empty allow-list should cover any technology")
	}

	wind := model.TradeAgreement{Technologies: []string{"Wind", "Solar"}}
	if !wind.AllowsTechnology("Solar") {
		t.Error("listed technology should be allowed")
	}
	if wind.AllowsTechnology("Coal") {
		t.Error("unlisted technology should not be allowed")
	}
}

func TestValidGSRN(t *testing.T) {
	tests := []struct {
		gsrn string
		want bool
	}{
		{"571313000000000001", true},
		{"000000000000000000", true},
		{"57131300000000001", false},   // 17 digits
		{"5713130000000000011", false}, // 19 digits
		{"57131300000000000a", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := model.ValidGSRN(tt.gsrn); got != tt.want {
			t.Errorf("ValidGSRN(%q) = %v, want %v", tt.gsrn, got, tt.want)
		}
	}
}
