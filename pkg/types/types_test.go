package types

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestQuoteStaleness(t *testing.T) {
	issued := time.Now()
	quote := &Quote{IssuedAt: issued}

	assert.False(t, quote.IsStale(issued.Add(299*time.Second)))
	assert.False(t, quote.IsStale(issued.Add(300*time.Second)))
	assert.True(t, quote.IsStale(issued.Add(301*time.Second)))
}

func TestQuoteAge(t *testing.T) {
	issued := time.Now()
	quote := &Quote{IssuedAt: issued}

	assert.Equal(t, 42*time.Second, quote.Age(issued.Add(42*time.Second)))
}

func TestPermitCovers(t *testing.T) {
	debtToken := common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherToken := common.HexToAddress("0x2222222222222222222222222222222222222222")
	now := time.Now()

	permit := &Permit{
		ScopeToken:       debtToken,
		AuthorizedAmount: big.NewInt(1000),
		Deadline:         now.Add(time.Hour),
	}

	assert.True(t, permit.Covers(debtToken, big.NewInt(1000), now))
	assert.True(t, permit.Covers(debtToken, big.NewInt(500), now))
	assert.False(t, permit.Covers(debtToken, big.NewInt(1001), now), "amount above authorized ceiling")
	assert.False(t, permit.Covers(otherToken, big.NewInt(1), now), "wrong scope token is never usable")
	assert.False(t, permit.Covers(debtToken, big.NewInt(1), now.Add(2*time.Hour)), "expired deadline")
	assert.False(t, permit.Covers(debtToken, big.NewInt(1), permit.Deadline), "deadline itself is not covered")
}

func TestPermitCoversNilSafe(t *testing.T) {
	var permit *Permit
	assert.False(t, permit.Covers(common.Address{}, big.NewInt(1), time.Now()))

	noAmount := &Permit{ScopeToken: common.Address{}, Deadline: time.Now().Add(time.Hour)}
	assert.False(t, noAmount.Covers(common.Address{}, big.NewInt(1), time.Now()))
}

func TestAssetRefKeyIsCaseInsensitive(t *testing.T) {
	a := AssetRef{Address: common.HexToAddress("0xABCDEF0123456789abcdef0123456789ABCDEF01")}
	b := AssetRef{Address: common.HexToAddress("0xabcdef0123456789ABCDEF0123456789abcdef01")}
	assert.Equal(t, a.Key(), b.Key())
}

func TestAssetRefHasDebtToken(t *testing.T) {
	a := AssetRef{}
	assert.False(t, a.HasDebtToken())

	a.DebtTokenAddress = common.HexToAddress("0x1111111111111111111111111111111111111111")
	assert.True(t, a.HasDebtToken())
}

func TestAssetRefUnderlying(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	underlying := common.HexToAddress("0x2222222222222222222222222222222222222222")

	a := AssetRef{Address: addr}
	assert.Equal(t, addr, a.Underlying())

	a.UnderlyingAddress = underlying
	assert.Equal(t, underlying, a.Underlying())
}
