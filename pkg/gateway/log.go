package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// LogGateway records dispatches instead of submitting them. It backs the
// "log" gateway mode used for local runs and demos.
type LogGateway struct {
	logger *zap.Logger

	mu         sync.Mutex
	dispatched []DispatchRequest
}

// NewLogGateway creates a LogGateway.
func NewLogGateway(logger *zap.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

// Dispatch records req and returns the correlation reference as the receipt hash.
func (g *LogGateway) Dispatch(ctx context.Context, req DispatchRequest) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.dispatched = append(g.dispatched, req)
	g.mu.Unlock()

	g.logger.Info("Withdrawal dispatched (log mode)",
		zap.String("cross_chain_ref", req.Ref.Hex()),
		zap.String("owner", req.Owner.Hex()),
		zap.Uint64("position_id", req.PositionID),
		zap.Uint64("destination_chain_id", req.DestinationChainID),
		zap.Uint64("gas_limit", req.GasLimit),
		zap.String("value", req.Value().String()))

	return &Receipt{TxHash: req.Ref}, nil
}

// Dispatched returns a copy of everything recorded so far.
func (g *LogGateway) Dispatched() []DispatchRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]DispatchRequest(nil), g.dispatched...)
}
