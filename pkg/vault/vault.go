// Package vault holds the domain model of the cross-chain position vault:
// positions, account aggregates, badges and the events recorded against them.
package vault

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a position.
type Status string

const (
	StatusActive    Status = "active"
	StatusWithdrawn Status = "withdrawn"
	StatusRefunded  Status = "refunded"
	StatusAborted   Status = "aborted"
)

// Resolution records why a position left the Active state.
//
// A Withdrawn position with ResolutionPending is in flight: the withdrawal
// was committed and no gateway callback has been accepted yet.
type Resolution string

const (
	ResolutionNone             Resolution = "none"
	ResolutionPending          Resolution = "pending"
	ResolutionSuccess          Resolution = "success"
	ResolutionRevert           Resolution = "revert"
	ResolutionAbort            Resolution = "abort"
	ResolutionSimulatedFailure Resolution = "simulated_failure"
	ResolutionForceExit        Resolution = "force_exit"
)

// Position is a single tracked unit of deposited value.
type Position struct {
	ID                 uint64
	Owner              common.Address
	Amount             *big.Int
	Status             Status
	Resolution         Resolution
	CrossChainRef      common.Hash
	DestinationChainID uint64
	DestinationAddress []byte
	GasLimit           uint64
	FeePaid            *big.Int
	CreatedAt          time.Time
	RequestedAt        *time.Time
	ResolvedAt         *time.Time

	// Outcome of handing the withdrawal to the gateway. DispatchedAt stays
	// nil until the gateway accepted it; DispatchError holds the last failure.
	DispatchTx    common.Hash
	DispatchedAt  *time.Time
	DispatchError string
}

// NewPosition creates an Active position.
func NewPosition(owner common.Address, id uint64, amount *big.Int, now time.Time) *Position {
	return &Position{
		ID:         id,
		Owner:      owner,
		Amount:     new(big.Int).Set(amount),
		Status:     StatusActive,
		Resolution: ResolutionNone,
		FeePaid:    new(big.Int),
		CreatedAt:  now,
	}
}

// IsActive reports whether the position's amount is still authoritative.
func (p *Position) IsActive() bool {
	return p.Status == StatusActive
}

// InFlight reports whether a withdrawal was requested and awaits its callback.
func (p *Position) InFlight() bool {
	return p.Status == StatusWithdrawn && p.Resolution == ResolutionPending
}

// AwaitingDispatch reports whether an in-flight withdrawal was never accepted by the gateway.
func (p *Position) AwaitingDispatch() bool {
	return p.InFlight() && p.DispatchedAt == nil
}

// IsTerminal reports whether no further transition can succeed.
func (p *Position) IsTerminal() bool {
	return p.Status != StatusActive && p.Resolution != ResolutionPending
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	cp := *p
	cp.Amount = cloneInt(p.Amount)
	cp.FeePaid = cloneInt(p.FeePaid)
	if p.DestinationAddress != nil {
		cp.DestinationAddress = append([]byte(nil), p.DestinationAddress...)
	}
	if p.RequestedAt != nil {
		t := *p.RequestedAt
		cp.RequestedAt = &t
	}
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		cp.ResolvedAt = &t
	}
	if p.DispatchedAt != nil {
		t := *p.DispatchedAt
		cp.DispatchedAt = &t
	}
	return &cp
}

// Account is the per-identity aggregate over positions.
type Account struct {
	Address common.Address
	// PositionCount is the id the next deposit receives.
	PositionCount  uint64
	TotalDeposited *big.Int
	// WithdrawalNonce increases with every withdrawal request and feeds the
	// cross-chain correlation reference.
	WithdrawalNonce     uint64
	ProtectionActivated bool
	HasTriggeredRefund  bool
	BadgeID             *uuid.UUID
	// Balance is the home-chain value paid out to this account by the vault.
	Balance   *big.Int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAccount creates an empty aggregate for addr.
func NewAccount(addr common.Address, now time.Time) *Account {
	return &Account{
		Address:        addr,
		TotalDeposited: new(big.Int),
		Balance:        new(big.Int),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	cp := *a
	cp.TotalDeposited = cloneInt(a.TotalDeposited)
	cp.Balance = cloneInt(a.Balance)
	if a.BadgeID != nil {
		id := *a.BadgeID
		cp.BadgeID = &id
	}
	return &cp
}

// BadgeEligible reports whether the account may claim its badge.
func (a *Account) BadgeEligible() bool {
	return a.HasTriggeredRefund && a.BadgeID == nil
}

// badgeNamespace scopes badge identifiers; one badge per owner address.
var badgeNamespace = uuid.MustParse("8f0c7d1e-5b8a-4c2e-9a57-2f6d0b6b1e3a")

// BadgeIDFor derives the badge identifier of owner.
func BadgeIDFor(owner common.Address) uuid.UUID {
	return uuid.NewSHA1(badgeNamespace, owner.Bytes())
}

// Badge is the one-per-account achievement credential.
type Badge struct {
	ID                   uuid.UUID
	Owner                common.Address
	MintedAt             time.Time
	Relocated            bool
	DestinationNamespace string
	RelocatedAt          *time.Time
}

// Clone returns a copy of the badge.
func (b *Badge) Clone() *Badge {
	cp := *b
	if b.RelocatedAt != nil {
		t := *b.RelocatedAt
		cp.RelocatedAt = &t
	}
	return &cp
}

// EventKind names an entry in the vault event log.
type EventKind string

const (
	EventPositionCreated      EventKind = "position_created"
	EventWithdrawalRequested  EventKind = "withdrawal_requested"
	EventWithdrawalDispatched EventKind = "withdrawal_dispatched"
	EventDispatchFailed       EventKind = "dispatch_failed"
	EventProtectionActivated  EventKind = "protection_activated"
	EventWithdrawalSucceeded  EventKind = "withdrawal_succeeded"
	EventWithdrawalRefunded   EventKind = "withdrawal_refunded"
	EventWithdrawalAborted    EventKind = "withdrawal_aborted"
	EventPositionForceExited  EventKind = "position_force_exited"
	EventBadgeClaimed         EventKind = "badge_claimed"
	EventBadgeRelocated       EventKind = "badge_relocated"
)

// Event is an append-only record of a state change.
type Event struct {
	Seq           int64
	Kind          EventKind
	Account       common.Address
	PositionID    *uint64
	CrossChainRef common.Hash
	Amount        *big.Int
	Data          map[string]string
	CreatedAt     time.Time
}

// NewPositionEvent creates an event about one of account's positions.
func NewPositionEvent(kind EventKind, pos *Position, now time.Time) *Event {
	id := pos.ID
	return &Event{
		Kind:          kind,
		Account:       pos.Owner,
		PositionID:    &id,
		CrossChainRef: pos.CrossChainRef,
		Amount:        cloneInt(pos.Amount),
		CreatedAt:     now,
	}
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
