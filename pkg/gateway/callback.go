package gateway

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CallbackKind is the outcome the gateway reports for a dispatch.
type CallbackKind string

const (
	CallbackSuccess CallbackKind = "success"
	CallbackRevert  CallbackKind = "revert"
	CallbackAbort   CallbackKind = "abort"
)

// ParseCallbackKind validates a kind taken from a route.
func ParseCallbackKind(s string) (CallbackKind, error) {
	switch k := CallbackKind(strings.ToLower(s)); k {
	case CallbackSuccess, CallbackRevert, CallbackAbort:
		return k, nil
	default:
		return "", fmt.Errorf("unknown callback kind %q", s)
	}
}

// CallbackPayload is what the gateway delivers with every callback.
// Ref is the only field used for correlation; the rest is recorded.
type CallbackPayload struct {
	Ref     common.Hash
	Asset   common.Address
	Amount  *big.Int
	Message []byte
}

// CallbackRequest is the JSON body of a gateway callback.
type CallbackRequest struct {
	CrossChainRef string `json:"cross_chain_ref"`
	Asset         string `json:"asset,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Payload validates the request and converts it.
func (r CallbackRequest) Payload() (CallbackPayload, error) {
	var p CallbackPayload

	ref, err := hexutil.Decode(r.CrossChainRef)
	if err != nil || len(ref) != common.HashLength {
		return p, fmt.Errorf("cross_chain_ref must be a 32-byte hex string")
	}
	p.Ref = common.BytesToHash(ref)

	if r.Asset != "" {
		if !common.IsHexAddress(r.Asset) {
			return p, fmt.Errorf("asset must be a hex address")
		}
		p.Asset = common.HexToAddress(r.Asset)
	}

	p.Amount = new(big.Int)
	if r.Amount != "" {
		amount, ok := new(big.Int).SetString(r.Amount, 10)
		if !ok || amount.Sign() < 0 {
			return p, fmt.Errorf("amount must be a non-negative decimal integer")
		}
		p.Amount = amount
	}

	if r.Message != "" {
		msg, err := hexutil.Decode(r.Message)
		if err != nil {
			return p, fmt.Errorf("message must be 0x-prefixed hex")
		}
		p.Message = msg
	}
	return p, nil
}
