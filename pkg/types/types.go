package types

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// QuoteMaxAge is how long a fetched quote stays usable before it must be
	// refreshed.
	QuoteMaxAge = 300 * time.Second

	// PermitValidity is how far in the future a freshly signed delegation
	// deadline is placed.
	PermitValidity = time.Hour
)

// RateMode identifies the lending-protocol interest rate mode of a borrow.
type RateMode uint8

const (
	RateModeStable   RateMode = 1
	RateModeVariable RateMode = 2
)

// AssetRef identifies a borrowable reserve asset. DebtTokenAddress is the
// resolved variable-debt token for the asset; it may be zero until the
// resolver has run.
type AssetRef struct {
	Address           common.Address
	Decimals          uint8
	Symbol            string
	UnderlyingAddress common.Address
	DebtTokenAddress  common.Address
}

// Key returns the normalized map key for the asset.
func (a AssetRef) Key() string {
	return strings.ToLower(a.Address.Hex())
}

// HasDebtToken reports whether the debt token address has been resolved.
func (a AssetRef) HasDebtToken() bool {
	return a.DebtTokenAddress != (common.Address{})
}

// Underlying returns the protocol-level asset address: the explicit
// underlying when set, otherwise the asset address itself.
func (a AssetRef) Underlying() common.Address {
	if a.UnderlyingAddress != (common.Address{}) {
		return a.UnderlyingAddress
	}
	return a.Address
}

// Quote is one immutable routing result. SrcAmount is the exact amount of the
// new debt asset the route requires; DestAmount is the exact amount of the old
// debt asset it repays. Both are base units. A refresh produces a new Quote,
// it never mutates an existing one.
type Quote struct {
	Route              string
	SrcAmount          *big.Int
	DestAmount         *big.Int
	IssuedAt           time.Time
	BufferBps          int64
	FeeBps             int64
	RouteVersion       string
	SettlementContract common.Address
}

// IsStale reports whether the quote is too old to be used at the given time.
func (q *Quote) IsStale(now time.Time) bool {
	return now.Sub(q.IssuedAt) > QuoteMaxAge
}

// Age returns how old the quote is at the given time.
func (q *Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.IssuedAt)
}

// SignatureComponents holds the split r/s/v parts of an EIP-712 signature.
type SignatureComponents struct {
	V uint8    `json:"v"`
	R [32]byte `json:"r"`
	S [32]byte `json:"s"`
}

// Permit is a cached credit-delegation signature. It is scoped to a single
// debt token and usable only until Deadline.
type Permit struct {
	ScopeToken       common.Address      `json:"scope_token"`
	AuthorizedAmount *big.Int            `json:"authorized_amount"`
	Deadline         time.Time           `json:"deadline"`
	Signature        SignatureComponents `json:"signature"`
}

// Covers reports whether the permit can stand in for a fresh authorization of
// ceiling units against the given debt token at the given time. A permit for
// the wrong token is never usable, regardless of deadline or amount.
func (p *Permit) Covers(debtToken common.Address, ceiling *big.Int, now time.Time) bool {
	if p == nil {
		return false
	}
	if p.ScopeToken != debtToken {
		return false
	}
	if !p.Deadline.After(now) {
		return false
	}
	return p.AuthorizedAmount != nil && p.AuthorizedAmount.Cmp(ceiling) >= 0
}

// SwapIntent is the transient aggregate for one switch attempt. It is owned by
// the orchestrator and discarded when the attempt ends.
type SwapIntent struct {
	ID            string
	FromAsset     AssetRef
	ToAsset       AssetRef
	RepayAmount   *big.Int
	Quote         *Quote
	Permit        *Permit
	SlippageBps   int64
	RateMode      RateMode
	TransactionID string
	TxHash        common.Hash
}

// Reserve describes one borrowable reserve as reported by the backend.
type Reserve struct {
	Symbol           string `json:"symbol"`
	Address          string `json:"address"`
	Decimals         uint8  `json:"decimals"`
	DebtTokenAddress string `json:"variableDebtTokenAddress,omitempty"`
	BorrowAPY        string `json:"borrowApy,omitempty"`
}
