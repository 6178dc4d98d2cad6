package vault

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveCrossChainRef computes the correlation reference of a withdrawal
// request as keccak256(account ‖ positionID ‖ nonce ‖ destinationChainID),
// integers big-endian uint64.
//
// nonce is the account's withdrawal nonce, which never repeats for an
// account, so two requests cannot share a reference.
func DeriveCrossChainRef(account common.Address, positionID, nonce, destinationChainID uint64) common.Hash {
	buf := make([]byte, 0, common.AddressLength+24)
	buf = append(buf, account.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, positionID)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	buf = binary.BigEndian.AppendUint64(buf, destinationChainID)
	return crypto.Keccak256Hash(buf)
}
