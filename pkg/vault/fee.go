package vault

import (
	"math/big"
)

// BufferPercent is the protection buffer added on top of the base execution fee.
const BufferPercent = 30

// FeePolicy computes the fee a withdrawal request has to carry.
type FeePolicy struct {
	BaseFee *big.Int
}

// Estimate is the fee quote shown to callers.
type Estimate struct {
	BaseFee *big.Int
	Total   *big.Int
}

// NewFeePolicy creates a policy for the given base fee.
func NewFeePolicy(baseFee *big.Int) FeePolicy {
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	return FeePolicy{BaseFee: new(big.Int).Set(baseFee)}
}

// Premium returns baseFee * BufferPercent / 100, truncated.
func (p FeePolicy) Premium() *big.Int {
	premium := new(big.Int).Mul(p.base(), big.NewInt(BufferPercent))
	return premium.Quo(premium, big.NewInt(100))
}

// Required returns the minimum fee a withdrawal request must carry.
func (p FeePolicy) Required() *big.Int {
	return new(big.Int).Add(p.base(), p.Premium())
}

// Estimate returns (baseFee, baseFee + premium) using the same arithmetic as Required.
func (p FeePolicy) Estimate() Estimate {
	return Estimate{
		BaseFee: new(big.Int).Set(p.base()),
		Total:   p.Required(),
	}
}

// Covers reports whether feeSent pays for a withdrawal.
func (p FeePolicy) Covers(feeSent *big.Int) bool {
	if feeSent == nil {
		return false
	}
	return feeSent.Cmp(p.Required()) >= 0
}

func (p FeePolicy) base() *big.Int {
	if p.BaseFee == nil {
		return new(big.Int)
	}
	return p.BaseFee
}
