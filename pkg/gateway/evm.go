package gateway

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/chainsafe/xchain-vault/pkg/config"
	"github.com/chainsafe/xchain-vault/pkg/keys"
)

// GatewayABI describes the single entry point the vault calls on the gateway contract.
const GatewayABI = `[{"inputs":[{"internalType":"bytes32","name":"ref","type":"bytes32"},{"internalType":"uint256","name":"chainId","type":"uint256"},{"internalType":"bytes","name":"receiver","type":"bytes"},{"internalType":"bytes","name":"message","type":"bytes"},{"internalType":"uint256","name":"gasLimit","type":"uint256"}],"name":"withdrawAndCall","outputs":[],"stateMutability":"payable","type":"function"}]`

const withdrawAndCall = "withdrawAndCall"

// NonceSource returns the next account nonce for the dispatch key.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// EVMGateway dispatches withdrawals by calling withdrawAndCall on the
// gateway contract, attaching amount + fee as value.
type EVMGateway struct {
	client     *ethclient.Client
	nonces     NonceSource
	contract   *bind.BoundContract
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	gasLimit   uint64
	logger     *zap.Logger

	// serializes nonce assignment across concurrent dispatches
	mu sync.Mutex
}

// NewEVMGateway dials the RPC endpoint and binds the gateway contract.
func NewEVMGateway(cfg *config.GatewayConfig, logger *zap.Logger) (*EVMGateway, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway RPC: %w", err)
	}

	privateKey, err := keys.LoadDispatchKey(cfg.DispatchPrivateKey, cfg.DispatchKeyMasterKey)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to load dispatch key: %w", err)
	}

	gw, err := newEVMGateway(client, client, common.HexToAddress(cfg.Contract), privateKey, big.NewInt(cfg.ChainID), cfg.GasLimit, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	gw.client = client

	logger.Info("Connected to gateway chain",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("gateway_contract", cfg.Contract),
		zap.String("dispatch_address", gw.address.Hex()))

	return gw, nil
}

func newEVMGateway(
	backend bind.ContractBackend,
	nonces NonceSource,
	contract common.Address,
	privateKey *ecdsa.PrivateKey,
	chainID *big.Int,
	gasLimit uint64,
	logger *zap.Logger,
) (*EVMGateway, error) {
	parsed, err := abi.JSON(strings.NewReader(GatewayABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway ABI: %w", err)
	}
	return &EVMGateway{
		nonces:     nonces,
		contract:   bind.NewBoundContract(contract, parsed, backend, backend, backend),
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    chainID,
		gasLimit:   gasLimit,
		logger:     logger,
	}, nil
}

// Close closes the RPC client
func (g *EVMGateway) Close() {
	if g.client != nil {
		g.client.Close()
	}
}

// Dispatch submits withdrawAndCall and returns once the transaction is sent.
func (g *EVMGateway) Dispatch(ctx context.Context, req DispatchRequest) (*Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	auth, err := g.transactor(ctx)
	if err != nil {
		return nil, err
	}
	auth.Value = req.Value()

	tx, err := g.contract.Transact(auth, withdrawAndCall,
		[32]byte(req.Ref),
		new(big.Int).SetUint64(req.DestinationChainID),
		req.DestinationAddress,
		req.Payload,
		new(big.Int).SetUint64(req.GasLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to submit withdrawAndCall: %w", err)
	}

	g.logger.Info("Withdrawal dispatched",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("cross_chain_ref", req.Ref.Hex()),
		zap.Uint64("destination_chain_id", req.DestinationChainID),
		zap.String("value", auth.Value.String()))

	return &Receipt{TxHash: tx.Hash()}, nil
}

func (g *EVMGateway) transactor(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(g.privateKey, g.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	nonce, err := g.nonces.PendingNonceAt(ctx, g.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	auth.Context = ctx
	auth.Nonce = new(big.Int).SetUint64(nonce)
	auth.GasLimit = g.gasLimit
	return auth, nil
}
