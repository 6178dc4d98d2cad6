package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/xchain-vault/pkg/app/errors"
	"github.com/chainsafe/xchain-vault/pkg/gateway"
	"github.com/chainsafe/xchain-vault/pkg/vault"
	"github.com/chainsafe/xchain-vault/pkg/vaultstore"
)

var (
	alice       = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	gatewayAddr = common.HexToAddress("0x000000000000000000000000000000000000ca11")
	testNow     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, req gateway.DispatchRequest) (*gateway.Receipt, error) {
	args := m.Called(ctx, req)
	receipt, _ := args.Get(0).(*gateway.Receipt)
	return receipt, args.Error(1)
}

type dispatcherFunc func(ctx context.Context, req gateway.DispatchRequest) (*gateway.Receipt, error)

func (f dispatcherFunc) Dispatch(ctx context.Context, req gateway.DispatchRequest) (*gateway.Receipt, error) {
	return f(ctx, req)
}

var errCommit = errors.New("commit failed")

// commitFailStore fails the failAt-th transaction after fn succeeded,
// leaving the committed state untouched.
type commitFailStore struct {
	vaultstore.Store
	calls  int
	failAt int
}

func (s *commitFailStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx vaultstore.Tx) error) error {
	s.calls++
	call := s.calls
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx vaultstore.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if call == s.failAt {
			return errCommit
		}
		return nil
	})
}

type failingPayer struct {
	err error
}

func (p failingPayer) Pay(context.Context, *vault.Account, *big.Int) error {
	return p.err
}

type fixture struct {
	store   vaultstore.Store
	gateway *gateway.LogGateway
	svc     Service
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	store := vaultstore.NewMemoryStore()
	gw := gateway.NewLogGateway(zap.NewNop())
	if cfg.Gateway == (common.Address{}) {
		cfg.Gateway = gatewayAddr
	}
	if cfg.Fees.BaseFee == nil {
		cfg.Fees = vault.NewFeePolicy(big.NewInt(100))
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return &fixture{
		store:   store,
		gateway: gw,
		svc:     NewService(store, gw, cfg, zap.NewNop(), opts...),
	}
}

func (f *fixture) deposit(t *testing.T, owner common.Address, amount int64) *vault.Position {
	t.Helper()
	pos, err := f.svc.Deposit(context.Background(), owner, big.NewInt(amount), big.NewInt(amount))
	require.NoError(t, err)
	return pos
}

func withdrawal(id uint64) vault.WithdrawalRequest {
	return vault.WithdrawalRequest{
		PositionID:         id,
		DestinationChainID: 7001,
		DestinationAddress: common.FromHex("0xdeadbeef"),
		GasLimit:           200000,
		FeeSent:            big.NewInt(130),
	}
}

func (f *fixture) withdraw(t *testing.T, owner common.Address, id uint64) *vault.Position {
	t.Helper()
	pos, err := f.svc.RequestWithdrawal(context.Background(), owner, withdrawal(id))
	require.NoError(t, err)
	return pos
}

func callback(ref common.Hash) gateway.CallbackPayload {
	return gateway.CallbackPayload{Ref: ref, Amount: new(big.Int)}
}

func balanceOf(t *testing.T, f *fixture, addr common.Address) string {
	t.Helper()
	acc, err := f.svc.GetAccount(context.Background(), addr)
	require.NoError(t, err)
	return acc.Balance.String()
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	first := f.deposit(t, alice, 100)
	second := f.deposit(t, alice, 50)
	assert.Equal(t, uint64(0), first.ID)
	assert.Equal(t, uint64(1), second.ID)
	assert.Equal(t, vault.StatusActive, second.Status)

	acc, err := f.svc.GetAccount(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), acc.PositionCount)
	assert.Equal(t, "150", acc.TotalDeposited.String())

	events, err := f.svc.ListEvents(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, vault.EventPositionCreated, events[0].Kind)
	assert.Equal(t, "1", events[0].Data["index"])
}

func TestDeposit_InvalidInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	cases := []struct {
		name      string
		amount    *big.Int
		valueSent *big.Int
	}{
		{"zero amount", big.NewInt(0), big.NewInt(0)},
		{"negative amount", big.NewInt(-1), big.NewInt(10)},
		{"nil amount", nil, big.NewInt(10)},
		{"value below amount", big.NewInt(10), big.NewInt(9)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Deposit(ctx, alice, tc.amount, tc.valueSent)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.True(t, apperrors.Is(err, apperrors.CategoryDataError))
		})
	}

	_, err := f.svc.GetAccount(ctx, alice)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetPosition_NotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.deposit(t, alice, 100)

	_, err := f.svc.GetPosition(ctx, alice, 1)
	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, apperrors.Is(err, apperrors.CategoryResourceNotFound))

	positions, err := f.svc.GetPositions(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestForceExit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	pos := f.deposit(t, alice, 100)

	exited, err := f.svc.ForceExit(ctx, alice, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.StatusAborted, exited.Status)
	assert.Equal(t, vault.ResolutionForceExit, exited.Resolution)
	assert.Equal(t, 0, exited.Amount.Sign())
	assert.Equal(t, "100", balanceOf(t, f, alice))

	_, err = f.svc.ForceExit(ctx, alice, pos.ID)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.True(t, apperrors.Is(err, apperrors.CategoryDataConflict))
	assert.Equal(t, "100", balanceOf(t, f, alice), "paid exactly once")
}

func TestForceExit_OtherOwnersPosition(t *testing.T) {
	f := newFixture(t, Config{})
	pos := f.deposit(t, alice, 100)
	f.deposit(t, bob, 1)

	_, err := f.svc.ForceExit(context.Background(), bob, pos.ID+1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestForceExit_BlockedAfterWithdrawalRequest(t *testing.T) {
	f := newFixture(t, Config{})
	pos := f.deposit(t, alice, 100)
	f.withdraw(t, alice, pos.ID)

	_, err := f.svc.ForceExit(context.Background(), alice, pos.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestForceExit_PayoutFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, WithPayer(failingPayer{err: errors.New("recipient rejected")}))
	pos := f.deposit(t, alice, 100)

	_, err := f.svc.ForceExit(ctx, alice, pos.ID)
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.True(t, apperrors.Is(err, apperrors.CategoryDependencyFailure))

	got, err := f.svc.GetPosition(ctx, alice, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.StatusActive, got.Status)
	assert.Equal(t, "100", got.Amount.String())
}

func TestRequestWithdrawal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	pos := f.deposit(t, alice, 100)

	got := f.withdraw(t, alice, pos.ID)
	assert.Equal(t, vault.StatusWithdrawn, got.Status)
	assert.Equal(t, vault.ResolutionPending, got.Resolution)
	assert.True(t, got.InFlight())
	assert.Equal(t, vault.DeriveCrossChainRef(alice, pos.ID, 0, 7001), got.CrossChainRef)
	assert.Equal(t, "130", got.FeePaid.String())
	assert.Equal(t, "100", got.Amount.String())
	require.NotNil(t, got.DispatchedAt)
	assert.False(t, got.AwaitingDispatch())
	assert.Empty(t, got.DispatchError)

	dispatched := f.gateway.Dispatched()
	require.Len(t, dispatched, 1)
	assert.Equal(t, got.CrossChainRef, dispatched[0].Ref)
	assert.Equal(t, "230", dispatched[0].Value().String())
	msg, err := gateway.DecodeMessage(dispatched[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, gateway.Message{Owner: alice, PositionID: pos.ID, Ref: got.CrossChainRef}, msg)

	acc, err := f.svc.GetAccount(ctx, alice)
	require.NoError(t, err)
	assert.True(t, acc.ProtectionActivated)
	assert.Equal(t, uint64(1), acc.WithdrawalNonce)

	_, err = f.svc.RequestWithdrawal(ctx, alice, withdrawal(pos.ID))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRequestWithdrawal_ProtectionActivatedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.deposit(t, alice, 100)
	f.deposit(t, alice, 100)

	first := f.withdraw(t, alice, 0)
	second := f.withdraw(t, alice, 1)
	assert.NotEqual(t, first.CrossChainRef, second.CrossChainRef)

	events, err := f.svc.ListEvents(ctx, alice, 0)
	require.NoError(t, err)
	activations := 0
	for _, e := range events {
		if e.Kind == vault.EventProtectionActivated {
			activations++
		}
	}
	assert.Equal(t, 1, activations)
}

func TestRequestWithdrawal_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	pos := f.deposit(t, alice, 100)

	lowFee := withdrawal(pos.ID)
	lowFee.FeeSent = big.NewInt(129)
	_, err := f.svc.RequestWithdrawal(ctx, alice, lowFee)
	require.ErrorIs(t, err, ErrInsufficientFee)
	assert.True(t, apperrors.Is(err, apperrors.CategoryPaymentRequired))

	noChain := withdrawal(pos.ID)
	noChain.DestinationChainID = 0
	_, err = f.svc.RequestWithdrawal(ctx, alice, noChain)
	assert.ErrorIs(t, err, ErrInvalidInput)

	noReceiver := withdrawal(pos.ID)
	noReceiver.DestinationAddress = nil
	_, err = f.svc.RequestWithdrawal(ctx, alice, noReceiver)
	assert.ErrorIs(t, err, ErrInvalidInput)

	noGas := withdrawal(pos.ID)
	noGas.GasLimit = 0
	_, err = f.svc.RequestWithdrawal(ctx, alice, noGas)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.RequestWithdrawal(ctx, bob, withdrawal(pos.ID))
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.svc.GetPosition(ctx, alice, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.StatusActive, got.Status)
	assert.Empty(t, f.gateway.Dispatched())
}

func TestRequestWithdrawal_DispatchFailureStaysInFlight(t *testing.T) {
	ctx := context.Background()
	store := vaultstore.NewMemoryStore()
	dispatcher := new(mockDispatcher)
	dispatcher.On("Dispatch", mock.Anything, mock.AnythingOfType("gateway.DispatchRequest")).
		Return(nil, errors.New("rpc unavailable")).Once()

	svc := NewService(store, dispatcher, Config{Gateway: gatewayAddr, Fees: vault.NewFeePolicy(big.NewInt(100))}, zap.NewNop())
	pos, err := svc.Deposit(ctx, alice, big.NewInt(100), big.NewInt(100))
	require.NoError(t, err)

	got, err := svc.RequestWithdrawal(ctx, alice, withdrawal(pos.ID))
	require.NoError(t, err)
	assert.True(t, got.AwaitingDispatch())
	assert.Contains(t, got.DispatchError, "rpc unavailable")
	dispatcher.AssertExpectations(t)

	stored, err := svc.GetPosition(ctx, alice, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.StatusWithdrawn, stored.Status)
	assert.Contains(t, stored.DispatchError, "rpc unavailable")

	_, err = svc.ForceExit(ctx, alice, pos.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	events, err := svc.ListEvents(ctx, alice, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, vault.EventDispatchFailed, events[0].Kind)

	// the gateway can still settle it
	refunded, err := svc.OnRevert(ctx, gatewayAddr, callback(got.CrossChainRef))
	require.NoError(t, err)
	assert.Equal(t, vault.StatusRefunded, refunded.Status)
	acc, err := svc.GetAccount(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "100", acc.Balance.String())
}

func TestRequestWithdrawal_FailedCommitSkipsDispatch(t *testing.T) {
	ctx := context.Background()
	store := &commitFailStore{Store: vaultstore.NewMemoryStore(), failAt: 2}
	gw := gateway.NewLogGateway(zap.NewNop())
	svc := NewService(store, gw, Config{Gateway: gatewayAddr, Fees: vault.NewFeePolicy(big.NewInt(100))}, zap.NewNop())

	pos, err := svc.Deposit(ctx, alice, big.NewInt(100), big.NewInt(100))
	require.NoError(t, err)

	_, err = svc.RequestWithdrawal(ctx, alice, withdrawal(pos.ID))
	require.ErrorIs(t, err, errCommit)
	assert.Empty(t, gw.Dispatched())

	got, err := svc.GetPosition(ctx, alice, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.StatusActive, got.Status)
}

func TestRequestWithdrawal_UnrecordedDispatchCannotBeForceExited(t *testing.T) {
	ctx := context.Background()
	// deposit, withdrawal request, then the dispatch record fails
	store := &commitFailStore{Store: vaultstore.NewMemoryStore(), failAt: 3}
	gw := gateway.NewLogGateway(zap.NewNop())
	svc := NewService(store, gw, Config{Gateway: gatewayAddr, Fees: vault.NewFeePolicy(big.NewInt(100))}, zap.NewNop())

	pos, err := svc.Deposit(ctx, alice, big.NewInt(100), big.NewInt(100))
	require.NoError(t, err)

	got, err := svc.RequestWithdrawal(ctx, alice, withdrawal(pos.ID))
	require.NoError(t, err)
	require.Len(t, gw.Dispatched(), 1)
	assert.Equal(t, "230", gw.Dispatched()[0].Value().String())

	stored, err := svc.GetPosition(ctx, alice, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.StatusWithdrawn, stored.Status)
	assert.Equal(t, "100", stored.Amount.String())

	_, err = svc.ForceExit(ctx, alice, pos.ID)
	require.ErrorIs(t, err, ErrInvalidState)
	acc, err := svc.GetAccount(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "0", acc.Balance.String())

	// the callback for the dispatched ref still resolves it
	done, err := svc.OnSuccess(ctx, gatewayAddr, callback(got.CrossChainRef))
	require.NoError(t, err)
	assert.Equal(t, vault.ResolutionSuccess, done.Resolution)
}

func TestRequestWithdrawal_CancelledRequestStillRecordsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := vaultstore.NewMemoryStore()
	dispatcher := dispatcherFunc(func(dctx context.Context, _ gateway.DispatchRequest) (*gateway.Receipt, error) {
		cancel()
		require.NoError(t, dctx.Err())
		return &gateway.Receipt{TxHash: common.HexToHash("0x02")}, nil
	})
	svc := NewService(store, dispatcher, Config{Gateway: gatewayAddr, Fees: vault.NewFeePolicy(big.NewInt(100))}, zap.NewNop())

	pos, err := svc.Deposit(ctx, alice, big.NewInt(100), big.NewInt(100))
	require.NoError(t, err)

	_, err = svc.RequestWithdrawal(ctx, alice, withdrawal(pos.ID))
	require.NoError(t, err)

	got, err := svc.GetPosition(context.Background(), alice, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x02"), got.DispatchTx)
	assert.NotNil(t, got.DispatchedAt)
}

func TestRequestWithdrawal_DispatchesAmountAndFee(t *testing.T) {
	ctx := context.Background()
	store := vaultstore.NewMemoryStore()
	dispatcher := new(mockDispatcher)
	dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(req gateway.DispatchRequest) bool {
		return req.Amount.String() == "100" && req.Fee.String() == "200" &&
			req.DestinationChainID == 7001 && req.GasLimit == 200000
	})).Return(&gateway.Receipt{TxHash: common.HexToHash("0x01")}, nil).Once()

	svc := NewService(store, dispatcher, Config{Gateway: gatewayAddr, Fees: vault.NewFeePolicy(big.NewInt(100))}, zap.NewNop())
	pos, err := svc.Deposit(ctx, alice, big.NewInt(100), big.NewInt(100))
	require.NoError(t, err)

	req := withdrawal(pos.ID)
	req.FeeSent = big.NewInt(200)
	got, err := svc.RequestWithdrawal(ctx, alice, req)
	require.NoError(t, err)
	dispatcher.AssertExpectations(t)
	assert.Equal(t, common.HexToHash("0x01"), got.DispatchTx)

	events, err := svc.ListEvents(ctx, alice, 0)
	require.NoError(t, err)
	var dispatched *vault.Event
	for _, e := range events {
		if e.Kind == vault.EventWithdrawalDispatched {
			dispatched = e
		}
	}
	require.NotNil(t, dispatched)
	assert.Equal(t, common.HexToHash("0x01").Hex(), dispatched.Data["dispatch_tx"])
}

func TestSimulatedLowGasFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Simulation: SimulationConfig{Enabled: true, GasThreshold: 150000}})
	pos := f.deposit(t, alice, 100)

	req := withdrawal(pos.ID)
	req.GasLimit = 100000
	got, err := f.svc.RequestWithdrawal(ctx, alice, req)
	require.NoError(t, err)
	assert.Equal(t, vault.StatusRefunded, got.Status)
	assert.Equal(t, vault.ResolutionSimulatedFailure, got.Resolution)
	assert.Equal(t, 0, got.Amount.Sign())
	assert.Empty(t, f.gateway.Dispatched())

	acc, err := f.svc.GetAccount(ctx, alice)
	require.NoError(t, err)
	assert.True(t, acc.HasTriggeredRefund)
	assert.Equal(t, "100", acc.Balance.String())

	_, err = f.svc.OnRevert(ctx, gatewayAddr, callback(got.CrossChainRef))
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Equal(t, "100", balanceOf(t, f, alice))
}

func TestSimulationDisabled_LowGasDispatches(t *testing.T) {
	f := newFixture(t, Config{Simulation: SimulationConfig{GasThreshold: 150000}})
	pos := f.deposit(t, alice, 100)

	req := withdrawal(pos.ID)
	req.GasLimit = 100000
	got, err := f.svc.RequestWithdrawal(context.Background(), alice, req)
	require.NoError(t, err)
	assert.True(t, got.InFlight())
	assert.Len(t, f.gateway.Dispatched(), 1)
}

func TestOnSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	pos := f.withdraw(t, alice, f.deposit(t, alice, 100).ID)

	got, err := f.svc.OnSuccess(ctx, gatewayAddr, callback(pos.CrossChainRef))
	require.NoError(t, err)
	assert.Equal(t, vault.StatusWithdrawn, got.Status)
	assert.Equal(t, vault.ResolutionSuccess, got.Resolution)
	assert.True(t, got.IsTerminal())
	assert.Equal(t, "0", balanceOf(t, f, alice))

	for _, resolve := range []func(context.Context, common.Address, gateway.CallbackPayload) (*vault.Position, error){
		f.svc.OnSuccess, f.svc.OnRevert, f.svc.OnAbort,
	} {
		_, err := resolve(ctx, gatewayAddr, callback(pos.CrossChainRef))
		require.ErrorIs(t, err, ErrAlreadyResolved)
		assert.True(t, apperrors.Is(err, apperrors.CategoryDataConflict))
	}
	assert.Equal(t, "0", balanceOf(t, f, alice))
}

func TestOnRevert_RefundsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	pos := f.withdraw(t, alice, f.deposit(t, alice, 100).ID)

	got, err := f.svc.OnRevert(ctx, gatewayAddr, callback(pos.CrossChainRef))
	require.NoError(t, err)
	assert.Equal(t, vault.StatusRefunded, got.Status)
	assert.Equal(t, 0, got.Amount.Sign())
	assert.Equal(t, "100", balanceOf(t, f, alice))

	eligible, err := f.svc.IsEligible(ctx, alice)
	require.NoError(t, err)
	assert.True(t, eligible)

	_, err = f.svc.OnRevert(ctx, gatewayAddr, callback(pos.CrossChainRef))
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	_, err = f.svc.OnSuccess(ctx, gatewayAddr, callback(pos.CrossChainRef))
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	again, err := f.svc.GetPosition(ctx, alice, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Amount.Sign())
	assert.Equal(t, "100", balanceOf(t, f, alice))
}

func TestOnRevert_PayoutFailureKeepsWithdrawalInFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, WithPayer(failingPayer{err: errors.New("recipient rejected")}))
	pos := f.withdraw(t, alice, f.deposit(t, alice, 100).ID)

	_, err := f.svc.OnRevert(ctx, gatewayAddr, callback(pos.CrossChainRef))
	require.ErrorIs(t, err, ErrTransferFailed)

	got, err := f.svc.GetPosition(ctx, alice, pos.ID)
	require.NoError(t, err)
	assert.True(t, got.InFlight())
	assert.Equal(t, "100", got.Amount.String())

	acc, err := f.svc.GetAccount(ctx, alice)
	require.NoError(t, err)
	assert.False(t, acc.HasTriggeredRefund)
}

func TestOnAbort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	pos := f.withdraw(t, alice, f.deposit(t, alice, 100).ID)

	got, err := f.svc.OnAbort(ctx, gatewayAddr, callback(pos.CrossChainRef))
	require.NoError(t, err)
	assert.Equal(t, vault.StatusAborted, got.Status)
	assert.Equal(t, vault.ResolutionAbort, got.Resolution)
	assert.Equal(t, "100", got.Amount.String())
	assert.Equal(t, "0", balanceOf(t, f, alice))

	eligible, err := f.svc.IsEligible(ctx, alice)
	require.NoError(t, err)
	assert.False(t, eligible)

	_, err = f.svc.OnRevert(ctx, gatewayAddr, callback(pos.CrossChainRef))
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestCallbacks_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	pos := f.withdraw(t, alice, f.deposit(t, alice, 100).ID)

	_, err := f.svc.OnRevert(ctx, alice, callback(pos.CrossChainRef))
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, apperrors.Is(err, apperrors.CategoryUnauthorized))

	_, err = f.svc.OnSuccess(ctx, gatewayAddr, callback(common.HexToHash("0xbeef")))
	require.ErrorIs(t, err, ErrNotFound)

	got, err := f.svc.GetPosition(ctx, alice, pos.ID)
	require.NoError(t, err)
	assert.True(t, got.InFlight())
}

func TestCallbacks_EchoedMessageMustMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.deposit(t, alice, 100)
	pos := f.withdraw(t, alice, f.deposit(t, alice, 50).ID)

	wrongPosition, err := gateway.EncodeMessage(gateway.Message{Owner: alice, PositionID: 0, Ref: pos.CrossChainRef})
	require.NoError(t, err)
	wrongOwner, err := gateway.EncodeMessage(gateway.Message{Owner: bob, PositionID: pos.ID, Ref: pos.CrossChainRef})
	require.NoError(t, err)

	for _, message := range [][]byte{{0xca, 0xfe}, wrongPosition, wrongOwner} {
		payload := callback(pos.CrossChainRef)
		payload.Message = message
		_, err := f.svc.OnRevert(ctx, gatewayAddr, payload)
		require.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.Equal(t, "0", balanceOf(t, f, alice))

	echoed, err := gateway.EncodeMessage(gateway.Message{Owner: alice, PositionID: pos.ID, Ref: pos.CrossChainRef})
	require.NoError(t, err)
	payload := callback(pos.CrossChainRef)
	payload.Message = echoed
	got, err := f.svc.OnRevert(ctx, gatewayAddr, payload)
	require.NoError(t, err)
	assert.Equal(t, vault.StatusRefunded, got.Status)
	assert.Equal(t, "50", balanceOf(t, f, alice))
}

func TestLedgerInvariant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	for i := 0; i < 4; i++ {
		f.deposit(t, alice, 100)
	}

	f.withdraw(t, alice, 0)
	refunded := f.withdraw(t, alice, 1)
	_, err := f.svc.OnRevert(ctx, gatewayAddr, callback(refunded.CrossChainRef))
	require.NoError(t, err)
	_, err = f.svc.ForceExit(ctx, alice, 2)
	require.NoError(t, err)

	positions, err := f.svc.GetPositions(ctx, alice)
	require.NoError(t, err)
	acc, err := f.svc.GetAccount(ctx, alice)
	require.NoError(t, err)

	sum := new(big.Int).Set(acc.Balance)
	for _, p := range positions {
		if p.IsActive() || p.InFlight() {
			sum.Add(sum, p.Amount)
		}
	}
	assert.Equal(t, acc.TotalDeposited.String(), sum.String())
}

func TestBadgeLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	_, err := f.svc.ClaimBadge(ctx, alice)
	require.ErrorIs(t, err, ErrNotEligible)
	assert.True(t, apperrors.Is(err, apperrors.CategoryForbidden))

	pos := f.withdraw(t, alice, f.deposit(t, alice, 100).ID)
	_, err = f.svc.ClaimBadge(ctx, alice)
	require.ErrorIs(t, err, ErrNotEligible)

	_, err = f.svc.OnRevert(ctx, gatewayAddr, callback(pos.CrossChainRef))
	require.NoError(t, err)

	badge, err := f.svc.ClaimBadge(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, vault.BadgeIDFor(alice), badge.ID)
	assert.Equal(t, alice, badge.Owner)
	assert.False(t, badge.Relocated)

	_, err = f.svc.ClaimBadge(ctx, alice)
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	eligible, err := f.svc.IsEligible(ctx, alice)
	require.NoError(t, err)
	assert.False(t, eligible)

	owned, err := f.svc.BadgeOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, badge.ID, owned.ID)

	_, err = f.svc.Relocate(ctx, bob, badge.ID, "solana:mainnet")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.Relocate(ctx, alice, badge.ID, "  ")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Relocate(ctx, alice, uuid.New(), "solana:mainnet")
	require.ErrorIs(t, err, ErrNotFound)

	relocated, err := f.svc.Relocate(ctx, alice, badge.ID, "solana:mainnet")
	require.NoError(t, err)
	assert.True(t, relocated.Relocated)
	assert.Equal(t, "solana:mainnet", relocated.DestinationNamespace)
	require.NotNil(t, relocated.RelocatedAt)

	_, err = f.svc.Relocate(ctx, alice, badge.ID, "cosmos:hub")
	require.ErrorIs(t, err, ErrAlreadyRelocated)
	assert.True(t, apperrors.Is(err, apperrors.CategoryDataConflict))

	stored, err := f.svc.GetBadge(ctx, badge.ID)
	require.NoError(t, err)
	assert.Equal(t, "solana:mainnet", stored.DestinationNamespace)

	events, err := f.svc.ListEvents(ctx, alice, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, vault.EventBadgeRelocated, events[0].Kind)
}

func TestBadgeOf_NoBadge(t *testing.T) {
	f := newFixture(t, Config{})
	f.deposit(t, alice, 1)

	_, err := f.svc.BadgeOf(context.Background(), alice)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.BadgeOf(context.Background(), bob)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEstimateFee(t *testing.T) {
	f := newFixture(t, Config{Fees: vault.NewFeePolicy(big.NewInt(1_000_000))})

	est := f.svc.EstimateFee()
	assert.Equal(t, "1000000", est.BaseFee.String())
	assert.Equal(t, "1300000", est.Total.String())

	pos := f.deposit(t, alice, 100)
	req := withdrawal(pos.ID)
	req.FeeSent = new(big.Int).Sub(est.Total, big.NewInt(1))
	_, err := f.svc.RequestWithdrawal(context.Background(), alice, req)
	require.ErrorIs(t, err, ErrInsufficientFee)

	req.FeeSent = est.Total
	_, err = f.svc.RequestWithdrawal(context.Background(), alice, req)
	require.NoError(t, err)
}

func TestListInFlight(t *testing.T) {
	ctx := context.Background()
	clock := testNow
	store := vaultstore.NewMemoryStore()
	svc := NewService(store, gateway.NewLogGateway(zap.NewNop()),
		Config{Gateway: gatewayAddr, Fees: vault.NewFeePolicy(big.NewInt(100))},
		zap.NewNop(), WithClock(func() time.Time { return clock }))

	for i := 0; i < 2; i++ {
		_, err := svc.Deposit(ctx, alice, big.NewInt(100), big.NewInt(100))
		require.NoError(t, err)
	}
	_, err := svc.RequestWithdrawal(ctx, alice, withdrawal(0))
	require.NoError(t, err)
	clock = clock.Add(2 * time.Hour)
	_, err = svc.RequestWithdrawal(ctx, alice, withdrawal(1))
	require.NoError(t, err)

	stale, err := svc.ListInFlight(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, uint64(0), stale[0].ID)

	clock = clock.Add(time.Minute)
	all, err := svc.ListInFlight(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.ListInFlight(ctx, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewLog_PassesThrough(t *testing.T) {
	f := newFixture(t, Config{})
	svc := NewLog(f.svc, zap.NewNop())

	pos, err := svc.Deposit(context.Background(), alice, big.NewInt(5), big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pos.ID)

	_, err = svc.ForceExit(context.Background(), bob, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
