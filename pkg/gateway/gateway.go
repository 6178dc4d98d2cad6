// Package gateway talks to the external cross-chain gateway: it dispatches
// outbound withdrawal requests and decodes the callbacks the gateway delivers.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidMessage is returned when a callback message cannot be decoded.
var ErrInvalidMessage = errors.New("invalid gateway message")

// DispatchRequest is one outbound withdrawal handed to the gateway.
type DispatchRequest struct {
	Ref                common.Hash
	Owner              common.Address
	PositionID         uint64
	DestinationChainID uint64
	DestinationAddress []byte
	// Payload is the message delivered to the destination, see EncodeMessage.
	Payload []byte
	// GasLimit is the execution gas requested on the destination chain.
	GasLimit uint64
	Amount   *big.Int
	Fee      *big.Int
}

// Value returns the native value attached to the dispatch: amount + fee.
func (r DispatchRequest) Value() *big.Int {
	v := new(big.Int)
	if r.Amount != nil {
		v.Add(v, r.Amount)
	}
	if r.Fee != nil {
		v.Add(v, r.Fee)
	}
	return v
}

// Receipt identifies a submitted dispatch.
type Receipt struct {
	TxHash common.Hash
}

// Dispatcher submits withdrawal requests to the gateway.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (*Receipt, error)
}

var messageArgs = mustArguments("address", "uint256", "bytes32")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("gateway: abi type %s: %v", t, err))
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// Message is the payload the vault attaches to a withdrawal. The gateway
// echoes it back in callbacks.
type Message struct {
	Owner      common.Address
	PositionID uint64
	Ref        common.Hash
}

// EncodeMessage ABI-encodes (owner, positionID, ref).
func EncodeMessage(m Message) ([]byte, error) {
	return messageArgs.Pack(m.Owner, new(big.Int).SetUint64(m.PositionID), [32]byte(m.Ref))
}

// DecodeMessage reverses EncodeMessage.
func DecodeMessage(data []byte) (Message, error) {
	values, err := messageArgs.Unpack(data)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if len(values) != 3 {
		return Message{}, ErrInvalidMessage
	}
	owner, ok1 := values[0].(common.Address)
	id, ok2 := values[1].(*big.Int)
	ref, ok3 := values[2].([32]byte)
	if !ok1 || !ok2 || !ok3 || !id.IsUint64() {
		return Message{}, ErrInvalidMessage
	}
	return Message{Owner: owner, PositionID: id.Uint64(), Ref: common.Hash(ref)}, nil
}
