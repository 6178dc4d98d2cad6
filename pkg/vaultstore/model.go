package vaultstore

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/chainsafe/xchain-vault/pkg/vault"
)

// AccountDao maps to the 'accounts' table.
type AccountDao struct {
	bun.BaseModel       `bun:"table:accounts,alias:a"`
	Address             string     `bun:"address,pk,type:varchar(42)"`
	PositionCount       int64      `bun:"position_count,notnull,default:0"`
	TotalDeposited      string     `bun:"total_deposited,notnull,type:numeric(78,0)"`
	WithdrawalNonce     int64      `bun:"withdrawal_nonce,notnull,default:0"`
	ProtectionActivated bool       `bun:"protection_activated,notnull,default:false"`
	HasTriggeredRefund  bool       `bun:"has_triggered_refund,notnull,default:false"`
	BadgeID             *uuid.UUID `bun:"badge_id,type:uuid"`
	Balance             string     `bun:"balance,notnull,type:numeric(78,0)"`
	CreatedAt           time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// PositionDao maps to the 'positions' table.
type PositionDao struct {
	bun.BaseModel      `bun:"table:positions,alias:p"`
	Owner              string     `bun:"owner,pk,type:varchar(42)"`
	PositionID         int64      `bun:"position_id,pk"`
	Amount             string     `bun:"amount,notnull,type:numeric(78,0)"`
	Status             string     `bun:"status,notnull,type:varchar(16)"`
	Resolution         string     `bun:"resolution,notnull,type:varchar(32)"`
	CrossChainRef      *string    `bun:"cross_chain_ref,unique,type:varchar(66)"`
	DestinationChainID int64      `bun:"destination_chain_id,notnull,default:0"`
	DestinationAddress []byte     `bun:"destination_address,type:bytea"`
	GasLimit           int64      `bun:"gas_limit,notnull,default:0"`
	FeePaid            string     `bun:"fee_paid,notnull,type:numeric(78,0)"`
	CreatedAt          time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	RequestedAt        *time.Time `bun:"requested_at"`
	ResolvedAt         *time.Time `bun:"resolved_at"`
	DispatchTx         *string    `bun:"dispatch_tx,type:varchar(66)"`
	DispatchedAt       *time.Time `bun:"dispatched_at"`
	DispatchError      *string    `bun:"dispatch_error,type:text"`
}

// BadgeDao maps to the 'badges' table.
type BadgeDao struct {
	bun.BaseModel        `bun:"table:badges,alias:b"`
	ID                   uuid.UUID  `bun:"id,pk,type:uuid"`
	Owner                string     `bun:"owner,unique,notnull,type:varchar(42)"`
	MintedAt             time.Time  `bun:"minted_at,notnull"`
	Relocated            bool       `bun:"relocated,notnull,default:false"`
	DestinationNamespace *string    `bun:"destination_namespace,type:varchar(255)"`
	RelocatedAt          *time.Time `bun:"relocated_at"`
}

// EventDao maps to the 'vault_events' table.
type EventDao struct {
	bun.BaseModel `bun:"table:vault_events,alias:e"`
	Seq           int64             `bun:"seq,pk,autoincrement"`
	Kind          string            `bun:"kind,notnull,type:varchar(64)"`
	Account       string            `bun:"account,notnull,type:varchar(42)"`
	PositionID    *int64            `bun:"position_id"`
	CrossChainRef *string           `bun:"cross_chain_ref,type:varchar(66)"`
	Amount        *string           `bun:"amount,type:numeric(78,0)"`
	Data          map[string]string `bun:"data,type:jsonb"`
	CreatedAt     time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func toAccountDao(acc *vault.Account) *AccountDao {
	dao := &AccountDao{
		Address:             acc.Address.Hex(),
		PositionCount:       int64(acc.PositionCount),
		TotalDeposited:      intString(acc.TotalDeposited),
		WithdrawalNonce:     int64(acc.WithdrawalNonce),
		ProtectionActivated: acc.ProtectionActivated,
		HasTriggeredRefund:  acc.HasTriggeredRefund,
		Balance:             intString(acc.Balance),
		CreatedAt:           acc.CreatedAt,
		UpdatedAt:           acc.UpdatedAt,
	}
	if acc.BadgeID != nil {
		id := *acc.BadgeID
		dao.BadgeID = &id
	}
	return dao
}

func toAccount(dao *AccountDao) *vault.Account {
	acc := &vault.Account{
		Address:             common.HexToAddress(dao.Address),
		PositionCount:       uint64(dao.PositionCount),
		TotalDeposited:      parseInt(dao.TotalDeposited),
		WithdrawalNonce:     uint64(dao.WithdrawalNonce),
		ProtectionActivated: dao.ProtectionActivated,
		HasTriggeredRefund:  dao.HasTriggeredRefund,
		Balance:             parseInt(dao.Balance),
		CreatedAt:           dao.CreatedAt,
		UpdatedAt:           dao.UpdatedAt,
	}
	if dao.BadgeID != nil {
		id := *dao.BadgeID
		acc.BadgeID = &id
	}
	return acc
}

func toPositionDao(pos *vault.Position) *PositionDao {
	dao := &PositionDao{
		Owner:              pos.Owner.Hex(),
		PositionID:         int64(pos.ID),
		Amount:             intString(pos.Amount),
		Status:             string(pos.Status),
		Resolution:         string(pos.Resolution),
		DestinationChainID: int64(pos.DestinationChainID),
		DestinationAddress: pos.DestinationAddress,
		GasLimit:           int64(pos.GasLimit),
		FeePaid:            intString(pos.FeePaid),
		CreatedAt:          pos.CreatedAt,
		RequestedAt:        pos.RequestedAt,
		ResolvedAt:         pos.ResolvedAt,
		DispatchedAt:       pos.DispatchedAt,
	}
	if pos.CrossChainRef != (common.Hash{}) {
		ref := pos.CrossChainRef.Hex()
		dao.CrossChainRef = &ref
	}
	if pos.DispatchTx != (common.Hash{}) {
		tx := pos.DispatchTx.Hex()
		dao.DispatchTx = &tx
	}
	if pos.DispatchError != "" {
		msg := pos.DispatchError
		dao.DispatchError = &msg
	}
	return dao
}

func toPosition(dao *PositionDao) *vault.Position {
	pos := &vault.Position{
		ID:                 uint64(dao.PositionID),
		Owner:              common.HexToAddress(dao.Owner),
		Amount:             parseInt(dao.Amount),
		Status:             vault.Status(dao.Status),
		Resolution:         vault.Resolution(dao.Resolution),
		DestinationChainID: uint64(dao.DestinationChainID),
		DestinationAddress: dao.DestinationAddress,
		GasLimit:           uint64(dao.GasLimit),
		FeePaid:            parseInt(dao.FeePaid),
		CreatedAt:          dao.CreatedAt,
		RequestedAt:        dao.RequestedAt,
		ResolvedAt:         dao.ResolvedAt,
		DispatchedAt:       dao.DispatchedAt,
	}
	if dao.CrossChainRef != nil {
		pos.CrossChainRef = common.HexToHash(*dao.CrossChainRef)
	}
	if dao.DispatchTx != nil {
		pos.DispatchTx = common.HexToHash(*dao.DispatchTx)
	}
	if dao.DispatchError != nil {
		pos.DispatchError = *dao.DispatchError
	}
	return pos
}

func toBadgeDao(b *vault.Badge) *BadgeDao {
	dao := &BadgeDao{
		ID:          b.ID,
		Owner:       b.Owner.Hex(),
		MintedAt:    b.MintedAt,
		Relocated:   b.Relocated,
		RelocatedAt: b.RelocatedAt,
	}
	if b.DestinationNamespace != "" {
		ns := b.DestinationNamespace
		dao.DestinationNamespace = &ns
	}
	return dao
}

func toBadge(dao *BadgeDao) *vault.Badge {
	b := &vault.Badge{
		ID:          dao.ID,
		Owner:       common.HexToAddress(dao.Owner),
		MintedAt:    dao.MintedAt,
		Relocated:   dao.Relocated,
		RelocatedAt: dao.RelocatedAt,
	}
	if dao.DestinationNamespace != nil {
		b.DestinationNamespace = *dao.DestinationNamespace
	}
	return b
}

func toEventDao(ev *vault.Event) *EventDao {
	dao := &EventDao{
		Kind:      string(ev.Kind),
		Account:   ev.Account.Hex(),
		Data:      ev.Data,
		CreatedAt: ev.CreatedAt,
	}
	if ev.PositionID != nil {
		id := int64(*ev.PositionID)
		dao.PositionID = &id
	}
	if ev.CrossChainRef != (common.Hash{}) {
		ref := ev.CrossChainRef.Hex()
		dao.CrossChainRef = &ref
	}
	if ev.Amount != nil {
		amount := ev.Amount.String()
		dao.Amount = &amount
	}
	return dao
}

func toEvent(dao *EventDao) *vault.Event {
	ev := &vault.Event{
		Seq:       dao.Seq,
		Kind:      vault.EventKind(dao.Kind),
		Account:   common.HexToAddress(dao.Account),
		Data:      dao.Data,
		CreatedAt: dao.CreatedAt,
	}
	if dao.PositionID != nil {
		id := uint64(*dao.PositionID)
		ev.PositionID = &id
	}
	if dao.CrossChainRef != nil {
		ev.CrossChainRef = common.HexToHash(*dao.CrossChainRef)
	}
	if dao.Amount != nil {
		ev.Amount = parseInt(*dao.Amount)
	}
	return ev
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseInt reads a numeric(78,0) column value.
func parseInt(s string) *big.Int {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return new(big.Int)
	}
	return d.BigInt()
}
