package vaultstore

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/chainsafe/xchain-vault/pkg/vault"
)

var (
	// ErrNotFound is returned when a lookup finds no matching record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateRef is returned when a cross-chain reference is already bound to a position.
	ErrDuplicateRef = errors.New("cross-chain reference already recorded")
)

// Reader defines the read-only queries over the vault ledger.
// Returned records are copies; mutating them has no effect on the store.
type Reader interface {
	GetAccount(ctx context.Context, addr common.Address) (*vault.Account, error)
	ListAccounts(ctx context.Context) ([]*vault.Account, error)
	GetPosition(ctx context.Context, owner common.Address, id uint64) (*vault.Position, error)
	ListPositions(ctx context.Context, owner common.Address) ([]*vault.Position, error)
	// AccountSnapshot reads an account and all of its positions as of one
	// point in time.
	AccountSnapshot(ctx context.Context, addr common.Address) (*vault.Account, []*vault.Position, error)
	GetBadge(ctx context.Context, id uuid.UUID) (*vault.Badge, error)
	ListEvents(ctx context.Context, addr common.Address, limit int) ([]*vault.Event, error)
	// ListInFlight returns withdrawn positions still awaiting a gateway callback
	// whose request time is before the cutoff, oldest first.
	ListInFlight(ctx context.Context, requestedBefore time.Time) ([]*vault.Position, error)
}

// Tx is a unit of work against the ledger. Everything written through a Tx
// becomes visible atomically when the enclosing RunInTx returns nil and is
// discarded otherwise.
type Tx interface {
	// EnsureAccount locks the account row, creating an empty aggregate first if needed.
	EnsureAccount(ctx context.Context, addr common.Address, now time.Time) (*vault.Account, error)
	// LockAccount locks an existing account row.
	LockAccount(ctx context.Context, addr common.Address) (*vault.Account, error)
	UpdateAccount(ctx context.Context, acc *vault.Account) error

	GetPosition(ctx context.Context, owner common.Address, id uint64) (*vault.Position, error)
	FindPositionByRef(ctx context.Context, ref common.Hash) (*vault.Position, error)
	InsertPosition(ctx context.Context, pos *vault.Position) error
	UpdatePosition(ctx context.Context, pos *vault.Position) error

	GetBadge(ctx context.Context, id uuid.UUID) (*vault.Badge, error)
	InsertBadge(ctx context.Context, badge *vault.Badge) error
	UpdateBadge(ctx context.Context, badge *vault.Badge) error

	AppendEvent(ctx context.Context, event *vault.Event) error
}

// Store is the vault ledger persistence.
type Store interface {
	Reader
	// RunInTx runs fn as one atomic, serialized unit of work.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
