package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gridcert/ggo-engine/internal/consumer"
	"github.com/gridcert/ggo-engine/internal/engine"
	"github.com/gridcert/ggo-engine/internal/ledger"
	"github.com/gridcert/ggo-engine/internal/model"
)

// stub is a scripted consumer: a fixed desired amount (or error), counting
// how often it was queried.
type stub struct {
	desired  int64
	err      error
	subjects []string
	queries  int
	gsrn     string
}

func (s *stub) DesiredAmount(_ context.Context, cert *model.Certificate, _ int64) (int64, error) {
	s.queries++
	if s.err != nil {
		return 0, s.err
	}
	if s.desired > cert.Amount {
		return cert.Amount, nil
	}
	return s.desired, nil
}

func (s *stub) Consume(req *ledger.SplitRequest, _ *model.Certificate, amount int64) {
	req.AddRetirement(amount, s.gsrn)
}

func (s *stub) AffectedSubjects() []string { return s.subjects }

func testCert(amount int64) *model.Certificate {
	begin := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Certificate{
		Address:    "cert-1",
		Sector:     "DK1",
		Begin:      begin,
		End:        begin.Add(time.Hour),
		Amount:     amount,
		Technology: "Wind",
	}
}

func seededLedger(t *testing.T, cert *model.Certificate) *ledger.MemoryLedger {
	t.Helper()
	ldg := ledger.NewMemoryLedger()
	ldg.AddCertificate("token", *cert)
	return ldg
}

func TestRun_SingleConsumerTakesAll(t *testing.T) {
	cert := testCert(100)
	ldg := seededLedger(t, cert)
	c := &stub{desired: 150, gsrn: "571313000000000001"}

	res, err := engine.Run(context.Background(), ldg, "token", cert, []consumer.Consumer{c})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Assignments) != 1 || res.Assignments[0].Amount != 100 {
		t.Fatalf("expected one assignment of 100, got %+v", res.Assignments)
	}
	if res.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", res.Remaining)
	}
	if !res.Composed {
		t.Error("expected compose call")
	}

	composes := ldg.Composes()
	if len(composes) != 1 {
		t.Fatalf("expected 1 compose call, got %d", len(composes))
	}
	if got := composes[0].Request.Total(); got != 100 {
		t.Errorf("compose total = %d, want 100", got)
	}
}

func TestRun_PriorityOrder(t *testing.T) {
	// Priority 0 capped at 40, priority 1 effectively unbounded: first gets
	// 40, second the remaining 60.
	cert := testCert(100)
	ldg := seededLedger(t, cert)
	first := &stub{desired: 40, gsrn: "571313000000000001"}
	second := &stub{desired: 100, gsrn: "571313000000000002"}

	res, err := engine.Run(context.Background(), ldg, "token", cert, []consumer.Consumer{first, second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(res.Assignments))
	}
	if res.Assignments[0].Amount != 40 {
		t.Errorf("first assignment = %d, want 40", res.Assignments[0].Amount)
	}
	if res.Assignments[1].Amount != 60 {
		t.Errorf("second assignment = %d, want 60", res.Assignments[1].Amount)
	}
	if res.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", res.Remaining)
	}
}

func TestRun_ShortCircuit(t *testing.T) {
	// Once the certificate is exhausted, later consumers are never queried.
	cert := testCert(100)
	ldg := seededLedger(t, cert)
	first := &stub{desired: 100, gsrn: "571313000000000001"}
	starved := &stub{desired: 50, gsrn: "571313000000000002"}

	if _, err := engine.Run(context.Background(), ldg, "token", cert, []consumer.Consumer{first, starved}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.queries != 1 {
		t.Errorf("first consumer queried %d times, want 1", first.queries)
	}
	if starved.queries != 0 {
		t.Errorf("exhausted chain still queried later consumer %d times", starved.queries)
	}
}

func TestRun_Conservation(t *testing.T) {
	// Sum of assignments never exceeds the certificate amount, whatever the
	// consumers claim to want.
	cert := testCert(100)
	ldg := seededLedger(t, cert)
	chain := []consumer.Consumer{
		&stub{desired: 70, gsrn: "571313000000000001"},
		&stub{desired: 70, gsrn: "571313000000000002"},
		&stub{desired: 70, gsrn: "571313000000000003"},
	}

	res, err := engine.Run(context.Background(), ldg, "token", cert, chain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var total int64
	for _, a := range res.Assignments {
		total += a.Amount
	}
	if total > cert.Amount {
		t.Errorf("assigned %d exceeds certificate amount %d", total, cert.Amount)
	}
	if res.Remaining != cert.Amount-total {
		t.Errorf("remaining = %d, want %d", res.Remaining, cert.Amount-total)
	}
	if total != cert.Amount {
		t.Errorf("exhaustible chain should consume fully, assigned %d of %d", total, cert.Amount)
	}
}

func TestRun_NoConsumers(t *testing.T) {
	// Zero eligible consumers: no compose call, certificate stays stored.
	cert := testCert(100)
	ldg := seededLedger(t, cert)

	res, err := engine.Run(context.Background(), ldg, "token", cert, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Composed {
		t.Error("compose call made with no consumers")
	}
	if res.Remaining != 100 {
		t.Errorf("remaining = %d, want 100", res.Remaining)
	}
	if len(ldg.Composes()) != 0 {
		t.Errorf("expected no compose calls, got %d", len(ldg.Composes()))
	}
}

func TestRun_NothingClaimed(t *testing.T) {
	cert := testCert(100)
	ldg := seededLedger(t, cert)
	chain := []consumer.Consumer{
		&stub{desired: 0, gsrn: "571313000000000001"},
		&stub{desired: 0, gsrn: "571313000000000002"},
	}

	res, err := engine.Run(context.Background(), ldg, "token", cert, chain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Composed || len(ldg.Composes()) != 0 {
		t.Error("compose call made although nothing was claimed")
	}
}

func TestRun_AbortsOnConsumerError(t *testing.T) {
	// A transient failure mid-run aborts atomically: no partial compose.
	cert := testCert(100)
	ldg := seededLedger(t, cert)
	boom := errors.New("measurement gateway timeout")
	chain := []consumer.Consumer{
		&stub{desired: 40, gsrn: "571313000000000001"},
		&stub{err: boom},
		&stub{desired: 60, gsrn: "571313000000000003"},
	}

	_, err := engine.Run(context.Background(), ldg, "token", cert, chain)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped consumer error, got %v", err)
	}
	if len(ldg.Composes()) != 0 {
		t.Errorf("partial compose submitted after abort: %d calls", len(ldg.Composes()))
	}
}

func TestRun_IdempotentDecision(t *testing.T) {
	// With identical external state, two runs make the same split decision
	// line for line.
	cert := testCert(100)

	run := func() []ledger.RetireLine {
		ldg := seededLedger(t, cert)
		chain := []consumer.Consumer{
			&stub{desired: 30, gsrn: "571313000000000001"},
			&stub{desired: 100, gsrn: "571313000000000002"},
		}
		if _, err := engine.Run(context.Background(), ldg, "token", cert, chain); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		composes := ldg.Composes()
		if len(composes) != 1 {
			t.Fatalf("expected 1 compose, got %d", len(composes))
		}
		return composes[0].Request.Retirements()
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("decision changed between runs: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("decision changed at line %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestRun_AffectedSubjects(t *testing.T) {
	cert := testCert(100)
	ldg := seededLedger(t, cert)
	chain := []consumer.Consumer{
		&stub{desired: 40, gsrn: "571313000000000001", subjects: []string{"acct-a"}},
		&stub{desired: 60, gsrn: "571313000000000002", subjects: []string{"acct-a", "acct-b"}},
	}

	res, err := engine.Run(context.Background(), ldg, "token", cert, chain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	subjects := res.AffectedSubjects()
	want := []string{"acct-a", "acct-b"}
	if len(subjects) != len(want) {
		t.Fatalf("subjects = %v, want %v", subjects, want)
	}
	for i := range want {
		if subjects[i] != want[i] {
			t.Errorf("subjects[%d] = %s, want %s", i, subjects[i], want[i])
		}
	}
}
