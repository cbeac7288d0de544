// Package task turns inbound events into allocation runs: a worker pool
// with per-(account, time bucket) locking, fixed-delay retries bounded by a
// time budget, and permanent-error classification.
//
// This layer is the only place that decides retry-vs-terminal; consumers and
// the engine always propagate their errors untouched.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridcert/ggo-engine/internal/consumer"
	"github.com/gridcert/ggo-engine/internal/engine"
	"github.com/gridcert/ggo-engine/internal/ledger"
	"github.com/gridcert/ggo-engine/internal/lock"
	"github.com/gridcert/ggo-engine/internal/metrics"
	"github.com/gridcert/ggo-engine/internal/notify"
	"github.com/gridcert/ggo-engine/internal/registry"
)

// Notifier receives events for committed allocations. *notify.Hub satisfies
// it; pass nil to disable fan-out.
type Notifier interface {
	Broadcast(event notify.Event)
}

// Config tunes the runner. Zero values fall back to defaults.
type Config struct {
	Workers     int           // worker goroutines (default 4)
	QueueSize   int           // buffered queue length (default 1024)
	RetryDelay  time.Duration // fixed delay between attempts (default 30s)
	RetryBudget time.Duration // elapsed-time budget per task (default 24h)
	LockTTL     time.Duration // lease duration per run (default 2m)
	RunTimeout  time.Duration // per-run context timeout (default 2m)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 2 * time.Minute
	}
	return c
}

type jobKind int

const (
	kindAllocate jobKind = iota
	kindBackfill
	kindMeasurement
)

type job struct {
	id        string
	kind      jobKind
	accountID string

	certAddress string    // kindAllocate
	from, to    time.Time // kindBackfill
	begin       time.Time // kindMeasurement

	attempt  int
	deadline time.Time
}

// Runner executes allocation tasks on a worker pool.
type Runner struct {
	cfg          Config
	registry     registry.Registry
	ledger       ledger.Ledger
	measurements ledger.Measurements
	resolver     *consumer.Resolver
	locker       lock.Locker
	notifier     Notifier

	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup
}

// NewRunner wires a runner. notifier may be nil.
func NewRunner(cfg Config, reg registry.Registry, ldg ledger.Ledger, measurements ledger.Measurements, locker lock.Locker, notifier Notifier) *Runner {
	cfg = cfg.withDefaults()
	return &Runner{
		cfg:          cfg,
		registry:     reg,
		ledger:       ldg,
		measurements: measurements,
		resolver:     consumer.NewResolver(reg, ldg, measurements),
		locker:       locker,
		notifier:     notifier,
		jobs:         make(chan job, cfg.QueueSize),
		quit:         make(chan struct{}),
	}
}

// Start launches the worker pool.
func (r *Runner) Start() {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Stop accepts no further work and waits for in-flight runs to finish.
// Runs are never cancelled mid-flight; partial external mutation is not
// reversible.
func (r *Runner) Stop() {
	close(r.quit)
	r.wg.Wait()
}

// EnqueueAllocation schedules one allocation run for a certificate that
// arrived in the account. Fire-and-forget; duplicate enqueues are tolerated
// through the bucket lock.
func (r *Runner) EnqueueAllocation(accountID, certificateAddress string) {
	r.submit(job{
		id:          uuid.New().String(),
		kind:        kindAllocate,
		accountID:   accountID,
		certAddress: certificateAddress,
		deadline:    time.Now().Add(r.cfg.RetryBudget),
	})
}

// EnqueueBackfill fans out one allocation run per stored certificate whose
// time bucket begins within [from, to]. Triggered when an agreement covering
// a past date range is accepted.
func (r *Runner) EnqueueBackfill(accountID string, from, to time.Time) {
	r.submit(job{
		id:        uuid.New().String(),
		kind:      kindBackfill,
		accountID: accountID,
		from:      from,
		to:        to,
		deadline:  time.Now().Add(r.cfg.RetryBudget),
	})
}

// MeasurementPublished re-evaluates stored certificates at the published
// time bucket, for the account itself and for every account holding a
// consumption-limited agreement into it: new consumption data can make a
// previously under-allocated certificate eligible for additional transfer.
func (r *Runner) MeasurementPublished(accountID string, begin time.Time) {
	r.submit(job{
		id:        uuid.New().String(),
		kind:      kindMeasurement,
		accountID: accountID,
		begin:     begin,
		deadline:  time.Now().Add(r.cfg.RetryBudget),
	})
}

func (r *Runner) submit(j job) {
	select {
	case <-r.quit:
		slog.Warn("task dropped, runner stopping", "task", j.id)
	case r.jobs <- j:
		metrics.QueueDepth.Inc()
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.quit:
			return
		case j := <-r.jobs:
			metrics.QueueDepth.Dec()
			r.run(j)
		}
	}
}

func (r *Runner) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RunTimeout)
	defer cancel()

	var err error
	switch j.kind {
	case kindAllocate:
		err = r.allocate(ctx, j)
	case kindBackfill:
		err = r.backfill(ctx, j)
	case kindMeasurement:
		err = r.measurementFanOut(ctx, j)
	}

	switch {
	case err == nil:

	case errors.Is(err, lock.ErrNotAcquired):
		// Not an error: another run holds the bucket. Reschedule silently.
		metrics.LockContention.Inc()
		metrics.AllocationRuns.WithLabelValues("lock_held").Inc()
		r.reschedule(j)

	case isPermanent(err):
		metrics.AllocationRuns.WithLabelValues("permanent").Inc()
		slog.Error("task failed permanently",
			"task", j.id, "account", j.accountID, "attempt", j.attempt, "err", err)

	case time.Now().Add(r.cfg.RetryDelay).After(j.deadline):
		metrics.AllocationRuns.WithLabelValues("exhausted").Inc()
		slog.Error("task retry budget exhausted, operator intervention required",
			"task", j.id, "account", j.accountID, "attempt", j.attempt, "err", err)

	default:
		metrics.TaskRetries.Inc()
		metrics.AllocationRuns.WithLabelValues("retried").Inc()
		slog.Warn("task failed, retrying",
			"task", j.id, "account", j.accountID, "attempt", j.attempt,
			"delay", r.cfg.RetryDelay, "err", err)
		r.reschedule(j)
	}
}

func (r *Runner) reschedule(j job) {
	j.attempt++
	time.AfterFunc(r.cfg.RetryDelay, func() {
		r.submit(j)
	})
}

// isPermanent classifies terminal failures: structurally invalid ledger
// requests and stale events referencing vanished accounts.
func isPermanent(err error) bool {
	return errors.Is(err, ledger.ErrStructural) || errors.Is(err, registry.ErrAccountNotFound)
}

// lockKey serializes all runs touching one account's time bucket, closing
// the double-spend window between reading an agreement's headroom and
// composing against it.
func lockKey(accountID string, begin time.Time) string {
	return fmt.Sprintf("alloc:%s:%d", accountID, begin.UTC().Unix())
}

func (r *Runner) allocate(ctx context.Context, j job) error {
	account, err := r.registry.GetAccount(ctx, j.accountID)
	if err != nil {
		return err
	}

	cert, err := r.ledger.GetCertificate(ctx, account.Token, j.certAddress)
	if err != nil {
		return err
	}

	release, err := r.locker.Acquire(ctx, lockKey(account.ID, cert.Begin), r.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return err
		}
		// Lock provider unavailable: fail closed, treat as not acquired.
		slog.Warn("lock provider unavailable", "task", j.id, "err", err)
		return fmt.Errorf("%w: %v", lock.ErrNotAcquired, err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			slog.Warn("lock release failed", "task", j.id, "err", err)
		}
	}()

	chain, err := r.resolver.Resolve(ctx, account, cert)
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := engine.Run(ctx, r.ledger, account.Token, cert, chain)
	if err != nil {
		return err
	}
	metrics.AllocationDuration.Observe(time.Since(start).Seconds())

	if !result.Composed {
		metrics.AllocationRuns.WithLabelValues("unconsumed").Inc()
		return nil
	}

	metrics.AllocationRuns.WithLabelValues("composed").Inc()
	for _, a := range result.Assignments {
		switch a.Consumer.(type) {
		case *consumer.Retiring:
			metrics.AllocatedWh.WithLabelValues("retirement").Add(float64(a.Amount))
		default:
			metrics.AllocatedWh.WithLabelValues("transfer").Add(float64(a.Amount))
		}
	}

	if r.notifier != nil {
		r.notifier.Broadcast(notify.Event{
			Type:               "allocation_composed",
			AccountID:          account.ID,
			CertificateAddress: cert.Address,
			AssignedWh:         cert.Amount - result.Remaining,
			RemainingWh:        result.Remaining,
			Subjects:           result.AffectedSubjects(),
		})
	}
	return nil
}

func (r *Runner) backfill(ctx context.Context, j job) error {
	account, err := r.registry.GetAccount(ctx, j.accountID)
	if err != nil {
		return err
	}

	certs, err := r.ledger.ListStoredCertificates(ctx, account.Token, j.from, j.to)
	if err != nil {
		return fmt.Errorf("list stored certificates: %w", err)
	}

	slog.Info("backfill fan-out",
		"task", j.id, "account", j.accountID, "certificates", len(certs))

	for _, cert := range certs {
		r.EnqueueAllocation(account.ID, cert.Address)
	}
	return nil
}

func (r *Runner) measurementFanOut(ctx context.Context, j job) error {
	sources, err := r.registry.ListConsumptionLimitedSources(ctx, j.accountID)
	if err != nil {
		return fmt.Errorf("list consumption-limited sources: %w", err)
	}

	targets := append([]string{j.accountID}, sources...)
	for _, target := range targets {
		account, err := r.registry.GetAccount(ctx, target)
		if err != nil {
			return err
		}

		certs, err := r.ledger.ListStoredCertificates(ctx, account.Token, j.begin, j.begin)
		if err != nil {
			return fmt.Errorf("list stored certificates for %s: %w", target, err)
		}
		for _, cert := range certs {
			r.EnqueueAllocation(account.ID, cert.Address)
		}
	}
	return nil
}
