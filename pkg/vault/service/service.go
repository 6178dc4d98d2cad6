// Package service implements the vault core: the position ledger, the
// cross-chain withdrawal coordinator and the achievement badge issuer.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/xchain-vault/internal/metrics"
	apperrors "github.com/chainsafe/xchain-vault/pkg/app/errors"
	"github.com/chainsafe/xchain-vault/pkg/gateway"
	"github.com/chainsafe/xchain-vault/pkg/vault"
	"github.com/chainsafe/xchain-vault/pkg/vaultstore"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	dispatchTimeout   = time.Minute
)

// Store is the persistence the vault service needs.
type Store interface {
	vaultstore.Reader
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx vaultstore.Tx) error) error
}

// Payer moves value out of the vault to an account holder on the home chain.
// It runs inside the ledger transaction after the paid position was zeroed;
// an error rolls the whole operation back.
type Payer interface {
	Pay(ctx context.Context, to *vault.Account, amount *big.Int) error
}

// BalancePayer credits payouts to the account's ledger balance.
type BalancePayer struct{}

// Pay adds amount to to.Balance.
func (BalancePayer) Pay(_ context.Context, to *vault.Account, amount *big.Int) error {
	if to.Balance == nil {
		to.Balance = new(big.Int)
	}
	to.Balance.Add(to.Balance, amount)
	return nil
}

// SimulationConfig enables the synthetic low-gas failure path.
type SimulationConfig struct {
	Enabled      bool
	GasThreshold uint64
}

// Config holds the service settings fixed at construction.
type Config struct {
	// Gateway is the only identity allowed to deliver withdrawal callbacks.
	Gateway    common.Address
	Fees       vault.FeePolicy
	Simulation SimulationConfig
}

// Service defines the vault operations.
type Service interface {
	// Position ledger
	Deposit(ctx context.Context, account common.Address, amount, valueSent *big.Int) (*vault.Position, error)
	GetPosition(ctx context.Context, account common.Address, id uint64) (*vault.Position, error)
	GetPositions(ctx context.Context, account common.Address) ([]*vault.Position, error)
	GetAccount(ctx context.Context, account common.Address) (*vault.Account, error)
	ForceExit(ctx context.Context, caller common.Address, id uint64) (*vault.Position, error)

	// Withdrawal coordinator
	RequestWithdrawal(ctx context.Context, caller common.Address, req vault.WithdrawalRequest) (*vault.Position, error)
	OnSuccess(ctx context.Context, caller common.Address, payload gateway.CallbackPayload) (*vault.Position, error)
	OnRevert(ctx context.Context, caller common.Address, payload gateway.CallbackPayload) (*vault.Position, error)
	OnAbort(ctx context.Context, caller common.Address, payload gateway.CallbackPayload) (*vault.Position, error)
	EstimateFee() vault.Estimate

	// Badge issuer
	ClaimBadge(ctx context.Context, caller common.Address) (*vault.Badge, error)
	Relocate(ctx context.Context, caller common.Address, badgeID uuid.UUID, namespace string) (*vault.Badge, error)
	IsEligible(ctx context.Context, account common.Address) (bool, error)
	BadgeOf(ctx context.Context, account common.Address) (*vault.Badge, error)
	GetBadge(ctx context.Context, id uuid.UUID) (*vault.Badge, error)

	ListEvents(ctx context.Context, account common.Address, limit int) ([]*vault.Event, error)
	ListInFlight(ctx context.Context, olderThan time.Duration) ([]*vault.Position, error)
}

// Option customizes the service.
type Option func(*vaultService)

// WithPayer replaces the default BalancePayer.
func WithPayer(p Payer) Option {
	return func(s *vaultService) { s.payer = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *vaultService) { s.now = now }
}

type vaultService struct {
	store      Store
	dispatcher gateway.Dispatcher
	payer      Payer
	cfg        Config
	publisher  Publisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates the vault service.
func NewService(store Store, dispatcher gateway.Dispatcher, cfg Config, logger *zap.Logger, opts ...Option) Service {
	s := &vaultService{
		store:      store,
		dispatcher: dispatcher,
		payer:      BalancePayer{},
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deposit appends a new Active position holding amount.
func (s *vaultService) Deposit(
	ctx context.Context,
	account common.Address,
	amount, valueSent *big.Int,
) (pos *vault.Position, err error) {
	defer observe("deposit", time.Now(), &err)

	if amount == nil || amount.Sign() <= 0 {
		return nil, invalidInput("amount must be positive")
	}
	if valueSent == nil || valueSent.Cmp(amount) < 0 {
		return nil, invalidInput("value sent does not cover amount")
	}

	err = s.runInTx(ctx, func(ctx context.Context, tx vaultstore.Tx) error {
		now := s.now()
		acc, err := tx.EnsureAccount(ctx, account, now)
		if err != nil {
			return fmt.Errorf("failed to load account: %w", err)
		}

		pos = vault.NewPosition(account, acc.PositionCount, amount, now)
		if err := tx.InsertPosition(ctx, pos); err != nil {
			return fmt.Errorf("failed to insert position: %w", err)
		}

		acc.PositionCount++
		acc.TotalDeposited.Add(acc.TotalDeposited, amount)
		acc.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}

		event := vault.NewPositionEvent(vault.EventPositionCreated, pos, now)
		event.Data = map[string]string{"index": strconv.FormatUint(pos.ID, 10)}
		return appendEvents(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	metrics.DepositedAmount.Observe(decimal.NewFromBigInt(amount, -18).InexactFloat64())
	return pos, nil
}

// GetPosition returns one of account's positions.
func (s *vaultService) GetPosition(ctx context.Context, account common.Address, id uint64) (*vault.Position, error) {
	pos, err := s.store.GetPosition(ctx, account, id)
	if err != nil {
		return nil, lookupErr(err, "position not found")
	}
	return pos, nil
}

// GetPositions returns all of account's positions ordered by id.
func (s *vaultService) GetPositions(ctx context.Context, account common.Address) ([]*vault.Position, error) {
	positions, err := s.store.ListPositions(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return positions, nil
}

// GetAccount returns the account aggregate.
func (s *vaultService) GetAccount(ctx context.Context, account common.Address) (*vault.Account, error) {
	acc, err := s.store.GetAccount(ctx, account)
	if err != nil {
		return nil, lookupErr(err, "account not found")
	}
	return acc, nil
}

// ForceExit pays an Active position back to its owner and closes it.
// It is unavailable once a withdrawal was requested.
func (s *vaultService) ForceExit(ctx context.Context, caller common.Address, id uint64) (pos *vault.Position, err error) {
	defer observe("force_exit", time.Now(), &err)

	err = s.runInTx(ctx, func(ctx context.Context, tx vaultstore.Tx) error {
		acc, found, err := lockOwnedPosition(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		if !found.IsActive() {
			return invalidState("position is not active")
		}
		pos = found

		now := s.now()
		amount := new(big.Int).Set(pos.Amount)
		pos.Amount = new(big.Int)
		pos.Status = vault.StatusAborted
		pos.Resolution = vault.ResolutionForceExit
		pos.ResolvedAt = &now
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return fmt.Errorf("failed to update position: %w", err)
		}

		if err := s.pay(ctx, acc, amount); err != nil {
			return err
		}
		acc.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}

		event := vault.NewPositionEvent(vault.EventPositionForceExited, pos, now)
		event.Amount = amount
		return appendEvents(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	metrics.PayoutsTotal.WithLabelValues("force_exit").Inc()
	return pos, nil
}

// RequestWithdrawal locks an Active position, charges the protection fee and
// commits it as Withdrawn before handing it to the gateway. The position
// stays Withdrawn until the gateway reports the outcome; a failed dispatch
// is recorded on it and does not undo the request.
func (s *vaultService) RequestWithdrawal(
	ctx context.Context,
	caller common.Address,
	req vault.WithdrawalRequest,
) (pos *vault.Position, err error) {
	defer observe("request_withdrawal", time.Now(), &err)

	if req.DestinationChainID == 0 {
		return nil, invalidInput("destination chain id is required")
	}
	if len(req.DestinationAddress) == 0 {
		return nil, invalidInput("destination address is required")
	}
	if req.GasLimit == 0 {
		return nil, invalidInput("gas limit must be positive")
	}
	feeSent := req.FeeSent
	if feeSent == nil {
		feeSent = new(big.Int)
	}

	simulated := false
	err = s.runInTx(ctx, func(ctx context.Context, tx vaultstore.Tx) error {
		acc, found, err := lockOwnedPosition(ctx, tx, caller, req.PositionID)
		if err != nil {
			return err
		}
		if !found.IsActive() {
			return invalidState("position is not active")
		}
		if found.Amount.Sign() <= 0 {
			return invalidInput("position holds no value")
		}
		pos = found
		if !s.cfg.Fees.Covers(feeSent) {
			return insufficientFee(fmt.Sprintf("fee %s is below the required %s", feeSent, s.cfg.Fees.Required()))
		}

		now := s.now()
		ref := vault.DeriveCrossChainRef(caller, pos.ID, acc.WithdrawalNonce, req.DestinationChainID)
		acc.WithdrawalNonce++

		pos.Status = vault.StatusWithdrawn
		pos.Resolution = vault.ResolutionPending
		pos.CrossChainRef = ref
		pos.DestinationChainID = req.DestinationChainID
		pos.DestinationAddress = append([]byte(nil), req.DestinationAddress...)
		pos.GasLimit = req.GasLimit
		pos.FeePaid = new(big.Int).Set(feeSent)
		pos.RequestedAt = &now
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return fmt.Errorf("failed to update position: %w", err)
		}

		requested := vault.NewPositionEvent(vault.EventWithdrawalRequested, pos, now)
		requested.Data = map[string]string{
			"destination_chain_id": strconv.FormatUint(req.DestinationChainID, 10),
			"destination_address":  hexutil.Encode(req.DestinationAddress),
			"gas_limit":            strconv.FormatUint(req.GasLimit, 10),
			"fee":                  feeSent.String(),
		}
		events := []*vault.Event{requested}

		if !acc.ProtectionActivated {
			acc.ProtectionActivated = true
			events = append(events, vault.NewPositionEvent(vault.EventProtectionActivated, pos, now))
		}

		if s.simulateFailure(req.GasLimit) {
			simulated = true
			refunded, err := s.refund(ctx, tx, acc, pos, vault.ResolutionSimulatedFailure, now)
			if err != nil {
				return err
			}
			events = append(events, refunded)
		}

		acc.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		return appendEvents(ctx, tx, events...)
	})
	if err != nil {
		return nil, err
	}

	if simulated {
		metrics.PayoutsTotal.WithLabelValues(string(vault.ResolutionSimulatedFailure)).Inc()
		s.logger.Warn("Withdrawal resolved by simulated low-gas failure",
			zap.String("owner", caller.Hex()),
			zap.Uint64("position_id", pos.ID),
			zap.Uint64("gas_limit", req.GasLimit),
			zap.Uint64("gas_threshold", s.cfg.Simulation.GasThreshold))
		return pos, nil
	}
	return s.sendWithdrawal(ctx, pos), nil
}

// sendWithdrawal hands a committed withdrawal to the gateway and records the
// outcome in a second transaction. It runs detached from the caller's
// context so a cancelled request cannot interrupt a broadcast halfway.
func (s *vaultService) sendWithdrawal(ctx context.Context, pos *vault.Position) *vault.Position {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()

	receipt, dispatchErr := s.dispatch(ctx, pos)
	if dispatchErr != nil {
		s.logger.Error("Gateway dispatch failed; withdrawal stays in flight",
			zap.String("owner", pos.Owner.Hex()),
			zap.Uint64("position_id", pos.ID),
			zap.String("cross_chain_ref", pos.CrossChainRef.Hex()),
			zap.Error(dispatchErr))
	}

	recorded, err := s.recordDispatch(ctx, pos.CrossChainRef, receipt, dispatchErr)
	if err != nil {
		s.logger.Error("Failed to record gateway dispatch",
			zap.String("owner", pos.Owner.Hex()),
			zap.Uint64("position_id", pos.ID),
			zap.String("cross_chain_ref", pos.CrossChainRef.Hex()),
			zap.Error(err))
		return pos
	}
	return recorded
}

// recordDispatch stores the dispatch outcome on the position behind ref.
// An accepted dispatch is never overwritten.
func (s *vaultService) recordDispatch(
	ctx context.Context,
	ref common.Hash,
	receipt *gateway.Receipt,
	dispatchErr error,
) (pos *vault.Position, err error) {
	err = s.runInTx(ctx, func(ctx context.Context, tx vaultstore.Tx) error {
		found, err := tx.FindPositionByRef(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to find position: %w", err)
		}
		if _, err := tx.LockAccount(ctx, found.Owner); err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}
		pos, err = tx.GetPosition(ctx, found.Owner, found.ID)
		if err != nil {
			return fmt.Errorf("failed to reload position: %w", err)
		}
		if pos.DispatchedAt != nil {
			return nil
		}

		now := s.now()
		var event *vault.Event
		if dispatchErr != nil {
			pos.DispatchError = dispatchErr.Error()
			event = vault.NewPositionEvent(vault.EventDispatchFailed, pos, now)
			event.Data = map[string]string{"error": pos.DispatchError}
		} else {
			pos.DispatchTx = receipt.TxHash
			pos.DispatchedAt = &now
			pos.DispatchError = ""
			event = vault.NewPositionEvent(vault.EventWithdrawalDispatched, pos, now)
			event.Data = map[string]string{"dispatch_tx": receipt.TxHash.Hex()}
		}
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return fmt.Errorf("failed to update position: %w", err)
		}
		return appendEvents(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// OnSuccess records that the destination chain executed the withdrawal.
func (s *vaultService) OnSuccess(
	ctx context.Context,
	caller common.Address,
	payload gateway.CallbackPayload,
) (*vault.Position, error) {
	return s.resolve(ctx, gateway.CallbackSuccess, caller, payload,
		func(_ context.Context, _ vaultstore.Tx, _ *vault.Account, pos *vault.Position, now time.Time) (*vault.Event, error) {
			pos.Resolution = vault.ResolutionSuccess
			pos.ResolvedAt = &now
			return vault.NewPositionEvent(vault.EventWithdrawalSucceeded, pos, now), nil
		})
}

// OnRevert refunds the position to its owner after the destination call failed.
func (s *vaultService) OnRevert(
	ctx context.Context,
	caller common.Address,
	payload gateway.CallbackPayload,
) (*vault.Position, error) {
	return s.resolve(ctx, gateway.CallbackRevert, caller, payload,
		func(ctx context.Context, tx vaultstore.Tx, acc *vault.Account, pos *vault.Position, now time.Time) (*vault.Event, error) {
			return s.refund(ctx, tx, acc, pos, vault.ResolutionRevert, now)
		})
}

// OnAbort records that the gateway gave up on the withdrawal. The gateway
// returns the value through its own channel, so nothing is paid here.
func (s *vaultService) OnAbort(
	ctx context.Context,
	caller common.Address,
	payload gateway.CallbackPayload,
) (*vault.Position, error) {
	return s.resolve(ctx, gateway.CallbackAbort, caller, payload,
		func(_ context.Context, _ vaultstore.Tx, _ *vault.Account, pos *vault.Position, now time.Time) (*vault.Event, error) {
			pos.Status = vault.StatusAborted
			pos.Resolution = vault.ResolutionAbort
			pos.ResolvedAt = &now
			return vault.NewPositionEvent(vault.EventWithdrawalAborted, pos, now), nil
		})
}

// EstimateFee quotes the fee RequestWithdrawal requires.
func (s *vaultService) EstimateFee() vault.Estimate {
	return s.cfg.Fees.Estimate()
}

// ClaimBadge mints the caller's badge after their first refund.
func (s *vaultService) ClaimBadge(ctx context.Context, caller common.Address) (badge *vault.Badge, err error) {
	defer observe("claim_badge", time.Now(), &err)

	err = s.runInTx(ctx, func(ctx context.Context, tx vaultstore.Tx) error {
		acc, err := tx.LockAccount(ctx, caller)
		if errors.Is(err, vaultstore.ErrNotFound) {
			return notEligible()
		}
		if err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}
		if !acc.HasTriggeredRefund {
			return notEligible()
		}
		if acc.BadgeID != nil {
			return alreadyClaimed()
		}

		now := s.now()
		badge = &vault.Badge{
			ID:       vault.BadgeIDFor(caller),
			Owner:    caller,
			MintedAt: now,
		}
		if err := tx.InsertBadge(ctx, badge); err != nil {
			return fmt.Errorf("failed to insert badge: %w", err)
		}

		id := badge.ID
		acc.BadgeID = &id
		acc.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}

		return appendEvents(ctx, tx, &vault.Event{
			Kind:      vault.EventBadgeClaimed,
			Account:   caller,
			Data:      map[string]string{"badge_id": badge.ID.String()},
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.BadgesTotal.WithLabelValues("claimed").Inc()
	return badge, nil
}

// Relocate records, once per badge, the chain namespace its custody moves to.
// The badge_relocated event is the instruction the bridge acts on.
func (s *vaultService) Relocate(
	ctx context.Context,
	caller common.Address,
	badgeID uuid.UUID,
	namespace string,
) (badge *vault.Badge, err error) {
	defer observe("relocate", time.Now(), &err)

	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, invalidInput("destination namespace is required")
	}

	err = s.runInTx(ctx, func(ctx context.Context, tx vaultstore.Tx) error {
		found, err := tx.GetBadge(ctx, badgeID)
		if err != nil {
			return lookupErr(err, "badge not found")
		}
		if found.Owner != caller {
			return unauthorized("caller does not own the badge")
		}

		// serialize with the owner's other operations, then re-read
		if _, err := tx.LockAccount(ctx, caller); err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}
		badge, err = tx.GetBadge(ctx, badgeID)
		if err != nil {
			return fmt.Errorf("failed to reload badge: %w", err)
		}
		if badge.Relocated {
			return alreadyRelocated()
		}

		now := s.now()
		badge.Relocated = true
		badge.DestinationNamespace = namespace
		badge.RelocatedAt = &now
		if err := tx.UpdateBadge(ctx, badge); err != nil {
			return fmt.Errorf("failed to update badge: %w", err)
		}

		return appendEvents(ctx, tx, &vault.Event{
			Kind:    vault.EventBadgeRelocated,
			Account: caller,
			Data: map[string]string{
				"badge_id":              badge.ID.String(),
				"destination_namespace": namespace,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.BadgesTotal.WithLabelValues("relocated").Inc()
	return badge, nil
}

// IsEligible reports whether account may claim its badge now.
func (s *vaultService) IsEligible(ctx context.Context, account common.Address) (bool, error) {
	acc, err := s.store.GetAccount(ctx, account)
	if errors.Is(err, vaultstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get account: %w", err)
	}
	return acc.BadgeEligible(), nil
}

// BadgeOf returns the badge held by account.
func (s *vaultService) BadgeOf(ctx context.Context, account common.Address) (*vault.Badge, error) {
	acc, err := s.store.GetAccount(ctx, account)
	if err != nil {
		return nil, lookupErr(err, "badge not found")
	}
	if acc.BadgeID == nil {
		return nil, notFound("badge not found")
	}
	return s.GetBadge(ctx, *acc.BadgeID)
}

// GetBadge returns a badge by id.
func (s *vaultService) GetBadge(ctx context.Context, id uuid.UUID) (*vault.Badge, error) {
	badge, err := s.store.GetBadge(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "badge not found")
	}
	return badge, nil
}

// ListEvents returns account's most recent events, newest first.
func (s *vaultService) ListEvents(ctx context.Context, account common.Address, limit int) ([]*vault.Event, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	events, err := s.store.ListEvents(ctx, account, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// ListInFlight returns withdrawals awaiting a callback for longer than olderThan.
func (s *vaultService) ListInFlight(ctx context.Context, olderThan time.Duration) ([]*vault.Position, error) {
	if olderThan < 0 {
		return nil, invalidInput("age must not be negative")
	}
	positions, err := s.store.ListInFlight(ctx, s.now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight withdrawals: %w", err)
	}
	return positions, nil
}

type resolveFunc func(
	ctx context.Context,
	tx vaultstore.Tx,
	acc *vault.Account,
	pos *vault.Position,
	now time.Time,
) (*vault.Event, error)

// resolve applies a gateway callback to the in-flight position behind payload.Ref.
// Exactly one callback is accepted per reference.
func (s *vaultService) resolve(
	ctx context.Context,
	kind gateway.CallbackKind,
	caller common.Address,
	payload gateway.CallbackPayload,
	apply resolveFunc,
) (pos *vault.Position, err error) {
	defer func(start time.Time) {
		metrics.CallbacksTotal.WithLabelValues(string(kind), outcome(err)).Inc()
		observe("on_"+string(kind), start, &err)
	}(time.Now())

	if caller != s.cfg.Gateway {
		return nil, unauthorized("caller is not the gateway")
	}

	err = s.runInTx(ctx, func(ctx context.Context, tx vaultstore.Tx) error {
		found, err := tx.FindPositionByRef(ctx, payload.Ref)
		if err != nil {
			return lookupErr(err, "unknown cross-chain reference")
		}

		acc, err := tx.LockAccount(ctx, found.Owner)
		if err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}
		pos, err = tx.GetPosition(ctx, found.Owner, found.ID)
		if err != nil {
			return fmt.Errorf("failed to reload position: %w", err)
		}
		if pos.IsTerminal() {
			return alreadyResolved()
		}
		if !pos.InFlight() {
			return invalidState("position has no withdrawal in flight")
		}
		if err := checkEchoedMessage(payload.Message, pos); err != nil {
			return err
		}

		now := s.now()
		event, err := apply(ctx, tx, acc, pos, now)
		if err != nil {
			return err
		}
		if pos.Status != vault.StatusRefunded {
			if err := tx.UpdatePosition(ctx, pos); err != nil {
				return fmt.Errorf("failed to update position: %w", err)
			}
		}

		acc.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}

		if event.Data == nil {
			event.Data = make(map[string]string)
		}
		event.Data["asset"] = payload.Asset.Hex()
		if payload.Amount != nil {
			event.Data["amount"] = payload.Amount.String()
		}
		if len(payload.Message) > 0 {
			event.Data["message"] = hexutil.Encode(payload.Message)
		}
		return appendEvents(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	if pos.Status == vault.StatusRefunded {
		metrics.PayoutsTotal.WithLabelValues(string(pos.Resolution)).Inc()
	}
	return pos, nil
}

// refund moves a Withdrawn position to Refunded and pays its amount to the
// owner. The zeroed position is persisted before the payout runs.
func (s *vaultService) refund(
	ctx context.Context,
	tx vaultstore.Tx,
	acc *vault.Account,
	pos *vault.Position,
	resolution vault.Resolution,
	now time.Time,
) (*vault.Event, error) {
	amount := new(big.Int).Set(pos.Amount)
	pos.Amount = new(big.Int)
	pos.Status = vault.StatusRefunded
	pos.Resolution = resolution
	pos.ResolvedAt = &now
	if err := tx.UpdatePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("failed to update position: %w", err)
	}

	if err := s.pay(ctx, acc, amount); err != nil {
		return nil, err
	}
	acc.HasTriggeredRefund = true

	event := vault.NewPositionEvent(vault.EventWithdrawalRefunded, pos, now)
	event.Amount = amount
	event.Data = map[string]string{"resolution": string(resolution)}
	return event, nil
}

func (s *vaultService) pay(ctx context.Context, acc *vault.Account, amount *big.Int) error {
	if err := s.payer.Pay(ctx, acc, amount); err != nil {
		s.logger.Error("Payout failed",
			zap.String("account", acc.Address.Hex()),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return transferFailed(err)
	}
	return nil
}

func (s *vaultService) dispatch(ctx context.Context, pos *vault.Position) (*gateway.Receipt, error) {
	payload, err := gateway.EncodeMessage(gateway.Message{
		Owner:      pos.Owner,
		PositionID: pos.ID,
		Ref:        pos.CrossChainRef,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode gateway message: %w", err)
	}

	receipt, err := s.dispatcher.Dispatch(ctx, gateway.DispatchRequest{
		Ref:                pos.CrossChainRef,
		Owner:              pos.Owner,
		PositionID:         pos.ID,
		DestinationChainID: pos.DestinationChainID,
		DestinationAddress: pos.DestinationAddress,
		Payload:            payload,
		GasLimit:           pos.GasLimit,
		Amount:             new(big.Int).Set(pos.Amount),
		Fee:                new(big.Int).Set(pos.FeePaid),
	})
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues("failed").Inc()
		return nil, dispatchFailed(err)
	}
	metrics.DispatchesTotal.WithLabelValues("sent").Inc()
	if receipt == nil {
		receipt = &gateway.Receipt{}
	}
	return receipt, nil
}

// checkEchoedMessage verifies that the message a callback echoes back, when
// present, names the position being resolved.
func checkEchoedMessage(data []byte, pos *vault.Position) error {
	if len(data) == 0 {
		return nil
	}
	msg, err := gateway.DecodeMessage(data)
	if err != nil {
		return invalidInput("callback message is not a vault withdrawal message")
	}
	if msg.Ref != pos.CrossChainRef || msg.Owner != pos.Owner || msg.PositionID != pos.ID {
		return invalidInput("callback message does not match the withdrawal")
	}
	return nil
}

func (s *vaultService) simulateFailure(gasLimit uint64) bool {
	return s.cfg.Simulation.Enabled && gasLimit < s.cfg.Simulation.GasThreshold
}

// lockOwnedPosition locks owner's account and loads one of its positions.
// Positions are addressed under the caller's own account, so a caller
// without such a position gets NotFound.
func lockOwnedPosition(
	ctx context.Context,
	tx vaultstore.Tx,
	owner common.Address,
	id uint64,
) (*vault.Account, *vault.Position, error) {
	acc, err := tx.LockAccount(ctx, owner)
	if err != nil {
		return nil, nil, lookupErr(err, "position not found")
	}
	pos, err := tx.GetPosition(ctx, owner, id)
	if err != nil {
		return nil, nil, lookupErr(err, "position not found")
	}
	return acc, pos, nil
}

func appendEvents(ctx context.Context, tx vaultstore.Tx, events ...*vault.Event) error {
	for _, event := range events {
		if err := tx.AppendEvent(ctx, event); err != nil {
			return fmt.Errorf("failed to append %s event: %w", event.Kind, err)
		}
	}
	return nil
}

func lookupErr(err error, message string) error {
	if errors.Is(err, vaultstore.ErrNotFound) {
		return notFound(message)
	}
	return fmt.Errorf("%s: %w", message, err)
}

func observe(operation string, start time.Time, err *error) {
	metrics.OperationsTotal.WithLabelValues(operation, outcome(*err)).Inc()
	metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// outcome labels an operation result: rejected operations failed a
// precondition, errors are infrastructure or dependency failures.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperrors.IsInternalError(err):
		return "error"
	default:
		return "rejected"
	}
}
