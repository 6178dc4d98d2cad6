package vault

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestFeePolicy_Estimate(t *testing.T) {
	policy := NewFeePolicy(big.NewInt(1000))

	est := policy.Estimate()
	assert.Equal(t, "1000", est.BaseFee.String())
	assert.Equal(t, "1300", est.Total.String())
	assert.Equal(t, est.Total, policy.Required())

	assert.False(t, policy.Covers(big.NewInt(1299)))
	assert.True(t, policy.Covers(big.NewInt(1300)))
	assert.True(t, policy.Covers(big.NewInt(5000)))
	assert.False(t, policy.Covers(nil))
}

func TestFeePolicy_PremiumTruncates(t *testing.T) {
	policy := NewFeePolicy(big.NewInt(7))
	// 7 * 30 / 100 = 2.1
	assert.Equal(t, "2", policy.Premium().String())
	assert.Equal(t, "9", policy.Required().String())
}

func TestFeePolicy_ZeroValue(t *testing.T) {
	var policy FeePolicy
	assert.Equal(t, "0", policy.Required().String())
	assert.True(t, policy.Covers(big.NewInt(0)))
}

func TestFeePolicy_DoesNotAliasBaseFee(t *testing.T) {
	base := big.NewInt(1000)
	policy := NewFeePolicy(base)
	base.SetInt64(1)

	est := policy.Estimate()
	est.BaseFee.SetInt64(5)
	assert.Equal(t, "1300", policy.Required().String())
}

func TestDeriveCrossChainRef(t *testing.T) {
	ref := DeriveCrossChainRef(alice, 0, 0, 7001)
	assert.Equal(t, ref, DeriveCrossChainRef(alice, 0, 0, 7001), "derivation must be deterministic")

	seen := map[common.Hash]struct{}{ref: {}}
	for _, other := range []common.Hash{
		DeriveCrossChainRef(alice, 0, 1, 7001),
		DeriveCrossChainRef(alice, 1, 0, 7001),
		DeriveCrossChainRef(alice, 0, 0, 7002),
		DeriveCrossChainRef(bob, 0, 0, 7001),
	} {
		_, dup := seen[other]
		require.False(t, dup, "reference %s collides", other.Hex())
		seen[other] = struct{}{}
	}
}

func TestPosition_Lifecycle(t *testing.T) {
	now := time.Unix(1700000000, 0)
	pos := NewPosition(alice, 3, big.NewInt(100), now)

	assert.True(t, pos.IsActive())
	assert.False(t, pos.InFlight())
	assert.False(t, pos.IsTerminal())

	pos.Status = StatusWithdrawn
	pos.Resolution = ResolutionPending
	assert.True(t, pos.InFlight())
	assert.False(t, pos.IsTerminal())

	pos.Resolution = ResolutionSuccess
	assert.False(t, pos.InFlight())
	assert.True(t, pos.IsTerminal())
}

func TestPosition_CloneIsDeep(t *testing.T) {
	now := time.Unix(1700000000, 0)
	pos := NewPosition(alice, 0, big.NewInt(100), now)
	pos.DestinationAddress = []byte{1, 2, 3}
	pos.RequestedAt = &now

	cp := pos.Clone()
	cp.Amount.SetInt64(1)
	cp.DestinationAddress[0] = 9
	*cp.RequestedAt = now.Add(time.Hour)

	assert.Equal(t, "100", pos.Amount.String())
	assert.Equal(t, byte(1), pos.DestinationAddress[0])
	assert.Equal(t, now, *pos.RequestedAt)
}

func TestAccount_BadgeEligible(t *testing.T) {
	acc := NewAccount(alice, time.Now())
	assert.False(t, acc.BadgeEligible())

	acc.HasTriggeredRefund = true
	assert.True(t, acc.BadgeEligible())

	id := BadgeIDFor(alice)
	acc.BadgeID = &id
	assert.False(t, acc.BadgeEligible())
}

func TestBadgeIDFor_UniquePerOwner(t *testing.T) {
	assert.Equal(t, BadgeIDFor(alice), BadgeIDFor(alice))
	assert.NotEqual(t, BadgeIDFor(alice), BadgeIDFor(bob))
}
