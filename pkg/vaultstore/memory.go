package vaultstore

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/chainsafe/xchain-vault/pkg/vault"
)

type positionKey struct {
	owner common.Address
	id    uint64
}

// memoryStore keeps the ledger in process memory. Transactions hold the
// write lock for their whole duration, so operations run strictly one after
// another. RunInTx must not be called from inside fn.
type memoryStore struct {
	mu sync.RWMutex

	accounts  map[common.Address]*vault.Account
	positions map[positionKey]*vault.Position
	refs      map[common.Hash]positionKey
	badges    map[uuid.UUID]*vault.Badge
	events    []*vault.Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		accounts:  make(map[common.Address]*vault.Account),
		positions: make(map[positionKey]*vault.Position),
		refs:      make(map[common.Hash]positionKey),
		badges:    make(map[uuid.UUID]*vault.Badge),
	}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:     s,
		accounts:  make(map[common.Address]*vault.Account),
		positions: make(map[positionKey]*vault.Position),
		refs:      make(map[common.Hash]positionKey),
		badges:    make(map[uuid.UUID]*vault.Badge),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *memoryStore) GetAccount(_ context.Context, addr common.Address) (*vault.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return acc.Clone(), nil
}

func (s *memoryStore) ListAccounts(_ context.Context) ([]*vault.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*vault.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out, nil
}

func (s *memoryStore) GetPosition(_ context.Context, owner common.Address, id uint64) (*vault.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[positionKey{owner, id}]
	if !ok {
		return nil, ErrNotFound
	}
	return pos.Clone(), nil
}

func (s *memoryStore) ListPositions(_ context.Context, owner common.Address) ([]*vault.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.positionsOf(owner), nil
}

func (s *memoryStore) AccountSnapshot(_ context.Context, addr common.Address) (*vault.Account, []*vault.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[addr]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return acc.Clone(), s.positionsOf(addr), nil
}

// positionsOf must be called with mu held.
func (s *memoryStore) positionsOf(owner common.Address) []*vault.Position {
	acc, ok := s.accounts[owner]
	if !ok {
		return []*vault.Position{}
	}
	out := make([]*vault.Position, 0, acc.PositionCount)
	for id := uint64(0); id < acc.PositionCount; id++ {
		if pos, ok := s.positions[positionKey{owner, id}]; ok {
			out = append(out, pos.Clone())
		}
	}
	return out
}

func (s *memoryStore) GetBadge(_ context.Context, id uuid.UUID) (*vault.Badge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	badge, ok := s.badges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return badge.Clone(), nil
}

func (s *memoryStore) ListEvents(_ context.Context, addr common.Address, limit int) ([]*vault.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*vault.Event, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if s.events[i].Account == addr {
			out = append(out, cloneEvent(s.events[i]))
		}
	}
	return out, nil
}

func (s *memoryStore) ListInFlight(_ context.Context, requestedBefore time.Time) ([]*vault.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*vault.Position, 0)
	for _, pos := range s.positions {
		if !pos.InFlight() || pos.RequestedAt == nil || !pos.RequestedAt.Before(requestedBefore) {
			continue
		}
		out = append(out, pos.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(*out[j].RequestedAt)
	})
	return out, nil
}

// memoryTx stages writes on top of the committed state.
type memoryTx struct {
	store *memoryStore

	accounts  map[common.Address]*vault.Account
	positions map[positionKey]*vault.Position
	refs      map[common.Hash]positionKey
	badges    map[uuid.UUID]*vault.Badge
	events    []*vault.Event
	// appended holds the caller's events, in the order of events.
	appended []*vault.Event
}

func (tx *memoryTx) account(addr common.Address) (*vault.Account, bool) {
	if acc, ok := tx.accounts[addr]; ok {
		return acc, true
	}
	acc, ok := tx.store.accounts[addr]
	return acc, ok
}

func (tx *memoryTx) position(key positionKey) (*vault.Position, bool) {
	if pos, ok := tx.positions[key]; ok {
		return pos, true
	}
	pos, ok := tx.store.positions[key]
	return pos, ok
}

func (tx *memoryTx) ref(ref common.Hash) (positionKey, bool) {
	if key, ok := tx.refs[ref]; ok {
		return key, true
	}
	key, ok := tx.store.refs[ref]
	return key, ok
}

func (tx *memoryTx) badge(id uuid.UUID) (*vault.Badge, bool) {
	if b, ok := tx.badges[id]; ok {
		return b, true
	}
	b, ok := tx.store.badges[id]
	return b, ok
}

func (tx *memoryTx) EnsureAccount(_ context.Context, addr common.Address, now time.Time) (*vault.Account, error) {
	if acc, ok := tx.account(addr); ok {
		return acc.Clone(), nil
	}
	acc := vault.NewAccount(addr, now)
	tx.accounts[addr] = acc
	return acc.Clone(), nil
}

func (tx *memoryTx) LockAccount(_ context.Context, addr common.Address) (*vault.Account, error) {
	acc, ok := tx.account(addr)
	if !ok {
		return nil, ErrNotFound
	}
	return acc.Clone(), nil
}

func (tx *memoryTx) UpdateAccount(_ context.Context, acc *vault.Account) error {
	if _, ok := tx.account(acc.Address); !ok {
		return fmt.Errorf("update account %s: %w", acc.Address.Hex(), ErrNotFound)
	}
	tx.accounts[acc.Address] = acc.Clone()
	return nil
}

func (tx *memoryTx) GetPosition(_ context.Context, owner common.Address, id uint64) (*vault.Position, error) {
	pos, ok := tx.position(positionKey{owner, id})
	if !ok {
		return nil, ErrNotFound
	}
	return pos.Clone(), nil
}

func (tx *memoryTx) FindPositionByRef(_ context.Context, ref common.Hash) (*vault.Position, error) {
	key, ok := tx.ref(ref)
	if !ok {
		return nil, ErrNotFound
	}
	pos, ok := tx.position(key)
	if !ok {
		return nil, ErrNotFound
	}
	return pos.Clone(), nil
}

func (tx *memoryTx) InsertPosition(_ context.Context, pos *vault.Position) error {
	key := positionKey{pos.Owner, pos.ID}
	if _, exists := tx.position(key); exists {
		return fmt.Errorf("insert position %s/%d: already exists", pos.Owner.Hex(), pos.ID)
	}
	if err := tx.bindRef(key, pos.CrossChainRef); err != nil {
		return err
	}
	tx.positions[key] = pos.Clone()
	return nil
}

func (tx *memoryTx) UpdatePosition(_ context.Context, pos *vault.Position) error {
	key := positionKey{pos.Owner, pos.ID}
	if _, ok := tx.position(key); !ok {
		return fmt.Errorf("update position %s/%d: %w", pos.Owner.Hex(), pos.ID, ErrNotFound)
	}
	if err := tx.bindRef(key, pos.CrossChainRef); err != nil {
		return err
	}
	tx.positions[key] = pos.Clone()
	return nil
}

func (tx *memoryTx) bindRef(key positionKey, ref common.Hash) error {
	if ref == (common.Hash{}) {
		return nil
	}
	if bound, ok := tx.ref(ref); ok {
		if bound != key {
			return ErrDuplicateRef
		}
		return nil
	}
	tx.refs[ref] = key
	return nil
}

func (tx *memoryTx) GetBadge(_ context.Context, id uuid.UUID) (*vault.Badge, error) {
	b, ok := tx.badge(id)
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (tx *memoryTx) InsertBadge(_ context.Context, badge *vault.Badge) error {
	if _, exists := tx.badge(badge.ID); exists {
		return fmt.Errorf("insert badge %s: already exists", badge.ID)
	}
	tx.badges[badge.ID] = badge.Clone()
	return nil
}

func (tx *memoryTx) UpdateBadge(_ context.Context, badge *vault.Badge) error {
	if _, ok := tx.badge(badge.ID); !ok {
		return fmt.Errorf("update badge %s: %w", badge.ID, ErrNotFound)
	}
	tx.badges[badge.ID] = badge.Clone()
	return nil
}

func (tx *memoryTx) AppendEvent(_ context.Context, event *vault.Event) error {
	tx.events = append(tx.events, cloneEvent(event))
	tx.appended = append(tx.appended, event)
	return nil
}

func (tx *memoryTx) commit() {
	s := tx.store
	for addr, acc := range tx.accounts {
		s.accounts[addr] = acc
	}
	for key, pos := range tx.positions {
		s.positions[key] = pos
	}
	for ref, key := range tx.refs {
		s.refs[ref] = key
	}
	for id, b := range tx.badges {
		s.badges[id] = b
	}
	for i, ev := range tx.events {
		ev.Seq = int64(len(s.events) + 1)
		tx.appended[i].Seq = ev.Seq
		s.events = append(s.events, ev)
	}
}

func cloneEvent(ev *vault.Event) *vault.Event {
	cp := *ev
	if ev.PositionID != nil {
		id := *ev.PositionID
		cp.PositionID = &id
	}
	if ev.Amount != nil {
		cp.Amount = new(big.Int).Set(ev.Amount)
	}
	if ev.Data != nil {
		cp.Data = make(map[string]string, len(ev.Data))
		for k, v := range ev.Data {
			cp.Data[k] = v
		}
	}
	return &cp
}
