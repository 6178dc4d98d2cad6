package service

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainsafe/xchain-vault/pkg/gateway"
	"github.com/chainsafe/xchain-vault/pkg/vault"
)

const serviceName = "VaultService"

// logService wraps Service with logging of every state-changing call
type logService struct {
	svc    Service
	logger *zap.Logger
}

// NewLog creates a logging decorator for the vault Service.
// Mutations are logged at info on entry and exit, reads at debug.
func NewLog(svc Service, logger *zap.Logger) Service {
	return &logService{
		svc:    svc,
		logger: logger,
	}
}

// Deposit wraps the service method with logging
func (ls *logService) Deposit(
	ctx context.Context,
	account common.Address,
	amount, valueSent *big.Int,
) (pos *vault.Position, err error) {
	start := time.Now()

	ls.logger.Info("Deposit started",
		zap.String("service", serviceName),
		zap.String("method", "Deposit"),
		zap.String("account", account.Hex()),
		zap.String("amount", bigString(amount)),
		zap.String("value_sent", bigString(valueSent)),
	)

	defer func() {
		fields := []zap.Field{
			zap.String("service", serviceName),
			zap.String("method", "Deposit"),
			zap.String("account", account.Hex()),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			ls.logger.Error("Deposit failed", append(fields, zap.Error(err))...)
			return
		}
		ls.logger.Info("Deposit completed", append(fields, zap.Uint64("position_id", pos.ID))...)
	}()

	return ls.svc.Deposit(ctx, account, amount, valueSent)
}

// GetPosition wraps the service method with logging
func (ls *logService) GetPosition(ctx context.Context, account common.Address, id uint64) (pos *vault.Position, err error) {
	defer ls.logRead("GetPosition", time.Now(), &err, zap.String("account", account.Hex()), zap.Uint64("position_id", id))
	return ls.svc.GetPosition(ctx, account, id)
}

// GetPositions wraps the service method with logging
func (ls *logService) GetPositions(ctx context.Context, account common.Address) (positions []*vault.Position, err error) {
	defer ls.logRead("GetPositions", time.Now(), &err, zap.String("account", account.Hex()))
	return ls.svc.GetPositions(ctx, account)
}

// GetAccount wraps the service method with logging
func (ls *logService) GetAccount(ctx context.Context, account common.Address) (acc *vault.Account, err error) {
	defer ls.logRead("GetAccount", time.Now(), &err, zap.String("account", account.Hex()))
	return ls.svc.GetAccount(ctx, account)
}

// ForceExit wraps the service method with logging
func (ls *logService) ForceExit(ctx context.Context, caller common.Address, id uint64) (pos *vault.Position, err error) {
	start := time.Now()

	ls.logger.Info("ForceExit started",
		zap.String("service", serviceName),
		zap.String("method", "ForceExit"),
		zap.String("caller", caller.Hex()),
		zap.Uint64("position_id", id),
	)

	defer func() {
		fields := []zap.Field{
			zap.String("service", serviceName),
			zap.String("method", "ForceExit"),
			zap.String("caller", caller.Hex()),
			zap.Uint64("position_id", id),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			ls.logger.Error("ForceExit failed", append(fields, zap.Error(err))...)
			return
		}
		ls.logger.Info("ForceExit completed", fields...)
	}()

	return ls.svc.ForceExit(ctx, caller, id)
}

// RequestWithdrawal wraps the service method with logging
func (ls *logService) RequestWithdrawal(
	ctx context.Context,
	caller common.Address,
	req vault.WithdrawalRequest,
) (pos *vault.Position, err error) {
	start := time.Now()

	ls.logger.Info("RequestWithdrawal started",
		zap.String("service", serviceName),
		zap.String("method", "RequestWithdrawal"),
		zap.String("caller", caller.Hex()),
		zap.Uint64("position_id", req.PositionID),
		zap.Uint64("destination_chain_id", req.DestinationChainID),
		zap.Uint64("gas_limit", req.GasLimit),
		zap.String("fee_sent", bigString(req.FeeSent)),
	)

	defer func() {
		fields := []zap.Field{
			zap.String("service", serviceName),
			zap.String("method", "RequestWithdrawal"),
			zap.String("caller", caller.Hex()),
			zap.Uint64("position_id", req.PositionID),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			ls.logger.Error("RequestWithdrawal failed", append(fields, zap.Error(err))...)
			return
		}
		ls.logger.Info("RequestWithdrawal completed", append(fields,
			zap.String("cross_chain_ref", pos.CrossChainRef.Hex()),
			zap.String("status", string(pos.Status)),
			zap.String("resolution", string(pos.Resolution)),
		)...)
	}()

	return ls.svc.RequestWithdrawal(ctx, caller, req)
}

// OnSuccess wraps the service method with logging
func (ls *logService) OnSuccess(
	ctx context.Context,
	caller common.Address,
	payload gateway.CallbackPayload,
) (pos *vault.Position, err error) {
	defer ls.logCallback("OnSuccess", time.Now(), caller, payload, &pos, &err)
	return ls.svc.OnSuccess(ctx, caller, payload)
}

// OnRevert wraps the service method with logging
func (ls *logService) OnRevert(
	ctx context.Context,
	caller common.Address,
	payload gateway.CallbackPayload,
) (pos *vault.Position, err error) {
	defer ls.logCallback("OnRevert", time.Now(), caller, payload, &pos, &err)
	return ls.svc.OnRevert(ctx, caller, payload)
}

// OnAbort wraps the service method with logging
func (ls *logService) OnAbort(
	ctx context.Context,
	caller common.Address,
	payload gateway.CallbackPayload,
) (pos *vault.Position, err error) {
	defer ls.logCallback("OnAbort", time.Now(), caller, payload, &pos, &err)
	return ls.svc.OnAbort(ctx, caller, payload)
}

// EstimateFee passes through
func (ls *logService) EstimateFee() vault.Estimate {
	return ls.svc.EstimateFee()
}

// ClaimBadge wraps the service method with logging
func (ls *logService) ClaimBadge(ctx context.Context, caller common.Address) (badge *vault.Badge, err error) {
	start := time.Now()

	ls.logger.Info("ClaimBadge started",
		zap.String("service", serviceName),
		zap.String("method", "ClaimBadge"),
		zap.String("caller", caller.Hex()),
	)

	defer func() {
		fields := []zap.Field{
			zap.String("service", serviceName),
			zap.String("method", "ClaimBadge"),
			zap.String("caller", caller.Hex()),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			ls.logger.Error("ClaimBadge failed", append(fields, zap.Error(err))...)
			return
		}
		ls.logger.Info("ClaimBadge completed", append(fields, zap.String("badge_id", badge.ID.String()))...)
	}()

	return ls.svc.ClaimBadge(ctx, caller)
}

// Relocate wraps the service method with logging
func (ls *logService) Relocate(
	ctx context.Context,
	caller common.Address,
	badgeID uuid.UUID,
	namespace string,
) (badge *vault.Badge, err error) {
	start := time.Now()

	ls.logger.Info("Relocate started",
		zap.String("service", serviceName),
		zap.String("method", "Relocate"),
		zap.String("caller", caller.Hex()),
		zap.String("badge_id", badgeID.String()),
		zap.String("destination_namespace", namespace),
	)

	defer func() {
		fields := []zap.Field{
			zap.String("service", serviceName),
			zap.String("method", "Relocate"),
			zap.String("caller", caller.Hex()),
			zap.String("badge_id", badgeID.String()),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			ls.logger.Error("Relocate failed", append(fields, zap.Error(err))...)
			return
		}
		ls.logger.Info("Relocate completed", fields...)
	}()

	return ls.svc.Relocate(ctx, caller, badgeID, namespace)
}

// IsEligible wraps the service method with logging
func (ls *logService) IsEligible(ctx context.Context, account common.Address) (ok bool, err error) {
	defer ls.logRead("IsEligible", time.Now(), &err, zap.String("account", account.Hex()))
	return ls.svc.IsEligible(ctx, account)
}

// BadgeOf wraps the service method with logging
func (ls *logService) BadgeOf(ctx context.Context, account common.Address) (badge *vault.Badge, err error) {
	defer ls.logRead("BadgeOf", time.Now(), &err, zap.String("account", account.Hex()))
	return ls.svc.BadgeOf(ctx, account)
}

// GetBadge wraps the service method with logging
func (ls *logService) GetBadge(ctx context.Context, id uuid.UUID) (badge *vault.Badge, err error) {
	defer ls.logRead("GetBadge", time.Now(), &err, zap.String("badge_id", id.String()))
	return ls.svc.GetBadge(ctx, id)
}

// ListEvents wraps the service method with logging
func (ls *logService) ListEvents(ctx context.Context, account common.Address, limit int) (events []*vault.Event, err error) {
	defer ls.logRead("ListEvents", time.Now(), &err, zap.String("account", account.Hex()), zap.Int("limit", limit))
	return ls.svc.ListEvents(ctx, account, limit)
}

// ListInFlight wraps the service method with logging
func (ls *logService) ListInFlight(ctx context.Context, olderThan time.Duration) (positions []*vault.Position, err error) {
	defer ls.logRead("ListInFlight", time.Now(), &err, zap.Duration("older_than", olderThan))
	return ls.svc.ListInFlight(ctx, olderThan)
}

func (ls *logService) logCallback(
	method string,
	start time.Time,
	caller common.Address,
	payload gateway.CallbackPayload,
	pos **vault.Position,
	err *error,
) {
	fields := []zap.Field{
		zap.String("service", serviceName),
		zap.String("method", method),
		zap.String("caller", caller.Hex()),
		zap.String("cross_chain_ref", payload.Ref.Hex()),
		zap.Duration("duration", time.Since(start)),
	}
	if *err != nil {
		ls.logger.Error(method+" failed", append(fields, zap.Error(*err))...)
		return
	}
	ls.logger.Info(method+" completed", append(fields,
		zap.String("owner", (*pos).Owner.Hex()),
		zap.Uint64("position_id", (*pos).ID),
		zap.String("status", string((*pos).Status)),
		zap.String("resolution", string((*pos).Resolution)),
	)...)
}

func (ls *logService) logRead(method string, start time.Time, err *error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("service", serviceName),
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
	)
	if *err != nil {
		ls.logger.Debug(method+" failed", append(fields, zap.Error(*err))...)
		return
	}
	ls.logger.Debug(method+" completed", fields...)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
