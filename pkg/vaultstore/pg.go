package vaultstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chainsafe/xchain-vault/pkg/vault"
)

const sqlStateUniqueViolation = "23505"

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the vault store.
func NewStore(db *bun.DB) Store {
	return &pgStore{db: db}
}

func (s *pgStore) Close() error {
	return s.db.Close()
}

func (s *pgStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

func (s *pgStore) GetAccount(ctx context.Context, addr common.Address) (*vault.Account, error) {
	return getAccount(ctx, s.db, addr, false)
}

func (s *pgStore) ListAccounts(ctx context.Context) ([]*vault.Account, error) {
	var daos []AccountDao
	err := s.db.NewSelect().Model(&daos).Order("address ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	out := make([]*vault.Account, len(daos))
	for i := range daos {
		out[i] = toAccount(&daos[i])
	}
	return out, nil
}

func (s *pgStore) GetPosition(ctx context.Context, owner common.Address, id uint64) (*vault.Position, error) {
	return getPosition(ctx, s.db, owner, id)
}

func (s *pgStore) ListPositions(ctx context.Context, owner common.Address) ([]*vault.Position, error) {
	return listPositions(ctx, s.db, owner)
}

func listPositions(ctx context.Context, db bun.IDB, owner common.Address) ([]*vault.Position, error) {
	var daos []PositionDao
	err := db.NewSelect().
		Model(&daos).
		Where("owner = ?", owner.Hex()).
		Order("position_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	out := make([]*vault.Position, len(daos))
	for i := range daos {
		out[i] = toPosition(&daos[i])
	}
	return out, nil
}

func (s *pgStore) AccountSnapshot(ctx context.Context, addr common.Address) (*vault.Account, []*vault.Position, error) {
	var (
		acc       *vault.Account
		positions []*vault.Position
	)
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := s.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if acc, err = getAccount(ctx, tx, addr, false); err != nil {
			return err
		}
		positions, err = listPositions(ctx, tx, addr)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return acc, positions, nil
}

func (s *pgStore) GetBadge(ctx context.Context, id uuid.UUID) (*vault.Badge, error) {
	return getBadge(ctx, s.db, id)
}

func (s *pgStore) ListEvents(ctx context.Context, addr common.Address, limit int) ([]*vault.Event, error) {
	var daos []EventDao
	query := s.db.NewSelect().
		Model(&daos).
		Where("account = ?", addr.Hex()).
		Order("seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	out := make([]*vault.Event, len(daos))
	for i := range daos {
		out[i] = toEvent(&daos[i])
	}
	return out, nil
}

func (s *pgStore) ListInFlight(ctx context.Context, requestedBefore time.Time) ([]*vault.Position, error) {
	var daos []PositionDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("status = ?", string(vault.StatusWithdrawn)).
		Where("resolution = ?", string(vault.ResolutionPending)).
		Where("requested_at < ?", requestedBefore).
		Order("requested_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight withdrawals: %w", err)
	}
	out := make([]*vault.Position, len(daos))
	for i := range daos {
		out[i] = toPosition(&daos[i])
	}
	return out, nil
}

type pgTx struct {
	tx bun.Tx
}

func (t *pgTx) EnsureAccount(ctx context.Context, addr common.Address, now time.Time) (*vault.Account, error) {
	_, err := t.tx.NewInsert().
		Model(toAccountDao(vault.NewAccount(addr, now))).
		On("CONFLICT (address) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return getAccount(ctx, t.tx, addr, true)
}

func (t *pgTx) LockAccount(ctx context.Context, addr common.Address) (*vault.Account, error) {
	return getAccount(ctx, t.tx, addr, true)
}

func (t *pgTx) UpdateAccount(ctx context.Context, acc *vault.Account) error {
	res, err := t.tx.NewUpdate().
		Model(toAccountDao(acc)).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return expectRow(res, "account")
}

func (t *pgTx) GetPosition(ctx context.Context, owner common.Address, id uint64) (*vault.Position, error) {
	return getPosition(ctx, t.tx, owner, id)
}

func (t *pgTx) FindPositionByRef(ctx context.Context, ref common.Hash) (*vault.Position, error) {
	dao := new(PositionDao)
	err := t.tx.NewSelect().
		Model(dao).
		Where("cross_chain_ref = ?", ref.Hex()).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find position by ref: %w", err)
	}
	return toPosition(dao), nil
}

func (t *pgTx) InsertPosition(ctx context.Context, pos *vault.Position) error {
	_, err := t.tx.NewInsert().Model(toPositionDao(pos)).Exec(ctx)
	if err != nil {
		return positionWriteError("insert", err)
	}
	return nil
}

func (t *pgTx) UpdatePosition(ctx context.Context, pos *vault.Position) error {
	res, err := t.tx.NewUpdate().
		Model(toPositionDao(pos)).
		WherePK().
		Exec(ctx)
	if err != nil {
		return positionWriteError("update", err)
	}
	return expectRow(res, "position")
}

func (t *pgTx) GetBadge(ctx context.Context, id uuid.UUID) (*vault.Badge, error) {
	return getBadge(ctx, t.tx, id)
}

func (t *pgTx) InsertBadge(ctx context.Context, badge *vault.Badge) error {
	if _, err := t.tx.NewInsert().Model(toBadgeDao(badge)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert badge: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateBadge(ctx context.Context, badge *vault.Badge) error {
	res, err := t.tx.NewUpdate().
		Model(toBadgeDao(badge)).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update badge: %w", err)
	}
	return expectRow(res, "badge")
}

func (t *pgTx) AppendEvent(ctx context.Context, event *vault.Event) error {
	dao := toEventDao(event)
	if _, err := t.tx.NewInsert().Model(dao).Returning("seq").Exec(ctx); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	event.Seq = dao.Seq
	return nil
}

func getAccount(ctx context.Context, db bun.IDB, addr common.Address, forUpdate bool) (*vault.Account, error) {
	dao := new(AccountDao)
	query := db.NewSelect().Model(dao).Where("address = ?", addr.Hex())
	if forUpdate {
		query = query.For("UPDATE")
	}
	if err := query.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return toAccount(dao), nil
}

func getPosition(ctx context.Context, db bun.IDB, owner common.Address, id uint64) (*vault.Position, error) {
	dao := new(PositionDao)
	err := db.NewSelect().
		Model(dao).
		Where("owner = ?", owner.Hex()).
		Where("position_id = ?", int64(id)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return toPosition(dao), nil
}

func getBadge(ctx context.Context, db bun.IDB, id uuid.UUID) (*vault.Badge, error) {
	dao := new(BadgeDao)
	if err := db.NewSelect().Model(dao).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get badge: %w", err)
	}
	return toBadge(dao), nil
}

func positionWriteError(op string, err error) error {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) &&
		pgErr.Field('C') == sqlStateUniqueViolation &&
		strings.Contains(pgErr.Field('n'), "cross_chain_ref") {
		return ErrDuplicateRef
	}
	return fmt.Errorf("failed to %s position: %w", op, err)
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
