package reconciler

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chainsafe/xchain-vault/internal/metrics"
	"github.com/chainsafe/xchain-vault/pkg/vault"
)

const (
	runTimeout       = 2 * time.Minute
	auditConcurrency = 8
	// dispatchGrace is how long a committed withdrawal may wait for the
	// gateway to accept it before it is reported.
	dispatchGrace = 5 * time.Minute
)

// Store provides the ledger reads the audit needs.
type Store interface {
	ListAccounts(ctx context.Context) ([]*vault.Account, error)
	AccountSnapshot(ctx context.Context, addr common.Address) (*vault.Account, []*vault.Position, error)
	ListInFlight(ctx context.Context, requestedBefore time.Time) ([]*vault.Position, error)
}

// Violation is an account whose positions and payouts do not add up to its deposits.
type Violation struct {
	Account        common.Address
	TotalDeposited *big.Int
	Accounted      *big.Int
}

// Report is the result of one audit run.
type Report struct {
	Accounts   int
	Violations []Violation
	InFlight   int
	Stale      []*vault.Position
	// Undispatched are in-flight withdrawals the gateway never accepted.
	// They stay Withdrawn until the gateway resolves them.
	Undispatched []*vault.Position
}

// Reconciler periodically audits the ledger: every deposited wei must be
// either held by a position or paid out to the account's balance, and
// withdrawals should not sit in flight forever.
type Reconciler struct {
	store      Store
	staleAfter time.Duration
	logger     *zap.Logger
	now        func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a new Reconciler
func New(store Store, staleAfter time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		staleAfter: staleAfter,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		stopCh:     make(chan struct{}),
	}
}

// ReconcileAll runs one audit and updates the in-flight gauges.
//
// Per account, the sum of stored position amounts plus the paid-out
// balance must equal TotalDeposited. Positions resolved by success or
// abort keep their amount as the record of what left the vault.
func (r *Reconciler) ReconcileAll(ctx context.Context) (*Report, error) {
	r.logger.Info("Starting ledger reconciliation")
	start := time.Now()

	report, err := r.reconcile(ctx)
	if err != nil {
		metrics.ReconciliationRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.InFlightWithdrawals.Set(float64(report.InFlight))
	metrics.StaleWithdrawals.Set(float64(len(report.Stale)))
	metrics.UndispatchedWithdrawals.Set(float64(len(report.Undispatched)))
	metrics.InvariantViolations.Add(float64(len(report.Violations)))
	if len(report.Violations) > 0 {
		metrics.ReconciliationRuns.WithLabelValues("violations").Inc()
	} else {
		metrics.ReconciliationRuns.WithLabelValues("ok").Inc()
	}

	r.logger.Info("Ledger reconciliation completed",
		zap.Int("accounts", report.Accounts),
		zap.Int("violations", len(report.Violations)),
		zap.Int("in_flight", report.InFlight),
		zap.Int("stale", len(report.Stale)),
		zap.Int("undispatched", len(report.Undispatched)),
		zap.Duration("duration", time.Since(start)))

	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context) (*Report, error) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	report := &Report{Accounts: len(accounts)}
	found := make([]*Violation, len(accounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(auditConcurrency)
	for i, acc := range accounts {
		g.Go(func() error {
			v, err := r.auditAccount(gctx, acc.Address)
			if err != nil {
				return err
			}
			found[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, v := range found {
		if v != nil {
			report.Violations = append(report.Violations, *v)
		}
	}

	now := r.now()
	inFlight, err := r.store.ListInFlight(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight withdrawals: %w", err)
	}
	report.InFlight = len(inFlight)

	dispatchCutoff := now.Add(-dispatchGrace)
	for _, pos := range inFlight {
		if !pos.AwaitingDispatch() || !pos.RequestedAt.Before(dispatchCutoff) {
			continue
		}
		report.Undispatched = append(report.Undispatched, pos)
		r.logger.Error("Withdrawal was never accepted by the gateway",
			zap.String("owner", pos.Owner.Hex()),
			zap.Uint64("position_id", pos.ID),
			zap.String("cross_chain_ref", pos.CrossChainRef.Hex()),
			zap.Time("requested_at", *pos.RequestedAt),
			zap.String("dispatch_error", pos.DispatchError))
	}

	cutoff := now.Add(-r.staleAfter)
	for _, pos := range inFlight {
		if !pos.RequestedAt.Before(cutoff) {
			// oldest first
			break
		}
		report.Stale = append(report.Stale, pos)
		r.logger.Warn("Withdrawal awaiting gateway callback past threshold",
			zap.String("owner", pos.Owner.Hex()),
			zap.Uint64("position_id", pos.ID),
			zap.String("cross_chain_ref", pos.CrossChainRef.Hex()),
			zap.Time("requested_at", *pos.RequestedAt),
			zap.Duration("stale_after", r.staleAfter))
	}

	return report, nil
}

// auditAccount checks one account against a consistent snapshot of it, so
// writes committed after ListAccounts cannot show up as a violation.
func (r *Reconciler) auditAccount(ctx context.Context, addr common.Address) (*Violation, error) {
	acc, positions, err := r.store.AccountSnapshot(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to read account %s: %w", addr.Hex(), err)
	}

	accounted := new(big.Int)
	if acc.Balance != nil {
		accounted.Set(acc.Balance)
	}
	for _, pos := range positions {
		accounted.Add(accounted, pos.Amount)
	}
	if accounted.Cmp(acc.TotalDeposited) == 0 {
		return nil, nil
	}

	r.logger.Error("Ledger invariant violated",
		zap.String("account", acc.Address.Hex()),
		zap.String("total_deposited_ether", vault.FormatEther(acc.TotalDeposited)),
		zap.String("accounted_ether", vault.FormatEther(accounted)),
		zap.Int("positions", len(positions)))
	return &Violation{
		Account:        acc.Address,
		TotalDeposited: new(big.Int).Set(acc.TotalDeposited),
		Accounted:      accounted,
	}, nil
}

// StartPeriodicReconciliation starts a background goroutine that reconciles periodically
func (r *Reconciler) StartPeriodicReconciliation(interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		r.logger.Info("Started periodic reconciliation", zap.Duration("interval", interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
				if _, err := r.ReconcileAll(ctx); err != nil {
					r.logger.Error("Periodic reconciliation failed", zap.Error(err))
				}
				cancel()
			case <-r.stopCh:
				r.logger.Info("Stopping periodic reconciliation")
				return
			}
		}
	}()
}

// Stop stops the periodic reconciliation
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}
