package vault

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// etherDecimals is the number of wei decimals in one ether.
const etherDecimals = 18

// ErrInvalidAmount is returned by ParseAmount for anything that is not a decimal wei integer.
var ErrInvalidAmount = errors.New("amount must be a non-negative decimal integer")

// WithdrawalRequest carries the parameters of a withdrawal request.
type WithdrawalRequest struct {
	PositionID         uint64
	DestinationChainID uint64
	DestinationAddress []byte
	GasLimit           uint64
	FeeSent            *big.Int
}

// DepositRequest is the JSON body of a deposit. Amounts are wei as decimal strings.
type DepositRequest struct {
	Amount    string `json:"amount"`
	ValueSent string `json:"value_sent"`
}

// WithdrawRequest is the JSON body of a withdrawal request.
type WithdrawRequest struct {
	DestinationChainID uint64 `json:"destination_chain_id"`
	DestinationAddress string `json:"destination_address"`
	GasLimit           uint64 `json:"gas_limit"`
	FeeSent            string `json:"fee_sent"`
}

// ToWithdrawalRequest converts the body of a request for position id.
func (r WithdrawRequest) ToWithdrawalRequest(id uint64) (WithdrawalRequest, error) {
	req := WithdrawalRequest{
		PositionID:         id,
		DestinationChainID: r.DestinationChainID,
		GasLimit:           r.GasLimit,
	}
	if r.DestinationAddress != "" {
		addr, err := hexutil.Decode(r.DestinationAddress)
		if err != nil {
			return req, errors.New("destination_address must be 0x-prefixed hex")
		}
		req.DestinationAddress = addr
	}
	fee, err := ParseAmount(r.FeeSent)
	if err != nil {
		return req, err
	}
	req.FeeSent = fee
	return req, nil
}

// RelocateRequest is the JSON body of a badge relocation.
type RelocateRequest struct {
	DestinationNamespace string `json:"destination_namespace"`
}

// PositionResponse is the JSON view of a position.
type PositionResponse struct {
	ID                 uint64     `json:"id"`
	Owner              string     `json:"owner"`
	Amount             string     `json:"amount"`
	AmountEther        string     `json:"amount_ether"`
	Status             Status     `json:"status"`
	Resolution         Resolution `json:"resolution"`
	CrossChainRef      string     `json:"cross_chain_ref,omitempty"`
	DestinationChainID uint64     `json:"destination_chain_id,omitempty"`
	DestinationAddress string     `json:"destination_address,omitempty"`
	GasLimit           uint64     `json:"gas_limit,omitempty"`
	FeePaid            string     `json:"fee_paid"`
	CreatedAt          time.Time  `json:"created_at"`
	RequestedAt        *time.Time `json:"requested_at,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	DispatchTx         string     `json:"dispatch_tx,omitempty"`
	DispatchedAt       *time.Time `json:"dispatched_at,omitempty"`
	DispatchError      string     `json:"dispatch_error,omitempty"`
}

// NewPositionResponse renders p.
func NewPositionResponse(p *Position) PositionResponse {
	resp := PositionResponse{
		ID:                 p.ID,
		Owner:              p.Owner.Hex(),
		Amount:             intString(p.Amount),
		AmountEther:        FormatEther(p.Amount),
		Status:             p.Status,
		Resolution:         p.Resolution,
		DestinationChainID: p.DestinationChainID,
		GasLimit:           p.GasLimit,
		FeePaid:            intString(p.FeePaid),
		CreatedAt:          p.CreatedAt,
		RequestedAt:        p.RequestedAt,
		ResolvedAt:         p.ResolvedAt,
		DispatchedAt:       p.DispatchedAt,
		DispatchError:      p.DispatchError,
	}
	if p.CrossChainRef != (Position{}).CrossChainRef {
		resp.CrossChainRef = p.CrossChainRef.Hex()
	}
	if p.DispatchTx != (Position{}).DispatchTx {
		resp.DispatchTx = p.DispatchTx.Hex()
	}
	if len(p.DestinationAddress) > 0 {
		resp.DestinationAddress = hexutil.Encode(p.DestinationAddress)
	}
	return resp
}

// NewPositionsResponse renders a list of positions.
func NewPositionsResponse(positions []*Position) []PositionResponse {
	out := make([]PositionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, NewPositionResponse(p))
	}
	return out
}

// AccountResponse is the JSON view of an account aggregate.
type AccountResponse struct {
	Address             string    `json:"address"`
	PositionCount       uint64    `json:"position_count"`
	TotalDeposited      string    `json:"total_deposited"`
	TotalDepositedEther string    `json:"total_deposited_ether"`
	WithdrawalNonce     uint64    `json:"withdrawal_nonce"`
	ProtectionActivated bool      `json:"protection_activated"`
	HasTriggeredRefund  bool      `json:"has_triggered_refund"`
	BadgeID             string    `json:"badge_id,omitempty"`
	Balance             string    `json:"balance"`
	BalanceEther        string    `json:"balance_ether"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewAccountResponse renders a.
func NewAccountResponse(a *Account) AccountResponse {
	resp := AccountResponse{
		Address:             a.Address.Hex(),
		PositionCount:       a.PositionCount,
		TotalDeposited:      intString(a.TotalDeposited),
		TotalDepositedEther: FormatEther(a.TotalDeposited),
		WithdrawalNonce:     a.WithdrawalNonce,
		ProtectionActivated: a.ProtectionActivated,
		HasTriggeredRefund:  a.HasTriggeredRefund,
		Balance:             intString(a.Balance),
		BalanceEther:        FormatEther(a.Balance),
		UpdatedAt:           a.UpdatedAt,
	}
	if a.BadgeID != nil {
		resp.BadgeID = a.BadgeID.String()
	}
	return resp
}

// BadgeResponse is the JSON view of a badge.
type BadgeResponse struct {
	ID                   string     `json:"id"`
	Owner                string     `json:"owner"`
	MintedAt             time.Time  `json:"minted_at"`
	Relocated            bool       `json:"relocated"`
	DestinationNamespace string     `json:"destination_namespace,omitempty"`
	RelocatedAt          *time.Time `json:"relocated_at,omitempty"`
}

// NewBadgeResponse renders b.
func NewBadgeResponse(b *Badge) BadgeResponse {
	return BadgeResponse{
		ID:                   b.ID.String(),
		Owner:                b.Owner.Hex(),
		MintedAt:             b.MintedAt,
		Relocated:            b.Relocated,
		DestinationNamespace: b.DestinationNamespace,
		RelocatedAt:          b.RelocatedAt,
	}
}

// EligibilityResponse reports whether an account may claim its badge.
type EligibilityResponse struct {
	Address  string `json:"address"`
	Eligible bool   `json:"eligible"`
}

// EventResponse is the JSON view of an event.
type EventResponse struct {
	Seq           int64             `json:"seq"`
	Kind          EventKind         `json:"kind"`
	Account       string            `json:"account"`
	PositionID    *uint64           `json:"position_id,omitempty"`
	CrossChainRef string            `json:"cross_chain_ref,omitempty"`
	Amount        string            `json:"amount,omitempty"`
	Data          map[string]string `json:"data,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewEventsResponse renders a list of events.
func NewEventsResponse(events []*Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp := EventResponse{
			Seq:        e.Seq,
			Kind:       e.Kind,
			Account:    e.Account.Hex(),
			PositionID: e.PositionID,
			Data:       e.Data,
			CreatedAt:  e.CreatedAt,
		}
		if e.CrossChainRef != (Event{}).CrossChainRef {
			resp.CrossChainRef = e.CrossChainRef.Hex()
		}
		if e.Amount != nil {
			resp.Amount = e.Amount.String()
		}
		out = append(out, resp)
	}
	return out
}

// FeeEstimateResponse is the JSON view of a fee quote.
type FeeEstimateResponse struct {
	BaseFee       string `json:"base_fee"`
	Total         string `json:"total"`
	TotalEther    string `json:"total_ether"`
	BufferPercent int    `json:"buffer_percent"`
}

// NewFeeEstimateResponse renders e.
func NewFeeEstimateResponse(e Estimate) FeeEstimateResponse {
	return FeeEstimateResponse{
		BaseFee:       intString(e.BaseFee),
		Total:         intString(e.Total),
		TotalEther:    FormatEther(e.Total),
		BufferPercent: BufferPercent,
	}
}

// ParseAmount parses a wei amount given as a decimal integer string.
// An empty string parses as zero.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

// FormatEther renders a wei amount in ether without losing precision.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
