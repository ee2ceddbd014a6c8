package quote

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"debtswitch/pkg/client"
	"debtswitch/pkg/types"
)

type fakeBackend struct {
	resp    *client.QuoteResponse
	err     error
	calls   int
	lastReq *client.QuoteRequest
	onCall  func()
}

func (f *fakeBackend) GetQuote(ctx context.Context, req *client.QuoteRequest) (*client.QuoteResponse, error) {
	f.calls++
	f.lastReq = req
	if f.onCall != nil {
		f.onCall()
	}
	return f.resp, f.err
}

var (
	testFromAsset = types.AssetRef{
		Address:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Decimals: 6,
		Symbol:   "USDC",
	}
	testToAsset = types.AssetRef{
		Address:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Decimals: 18,
		Symbol:   "DAI",
	}
)

func validResponse() *client.QuoteResponse {
	return &client.QuoteResponse{
		Route:              "route-1",
		SrcAmount:          "950000",
		RouteVersion:       "v2",
		SettlementContract: "0x3333333333333333333333333333333333333333",
		BufferBps:          30,
		FeeBps:             5,
	}
}

func newTestManager(t *testing.T, backend Backend) *Manager {
	t.Helper()
	m := NewManager(backend, common.HexToAddress("0x4444444444444444444444444444444444444444"), 137, nil)
	t.Cleanup(m.Close)
	return m
}

func TestFetchQuoteRequiresAmountAndPair(t *testing.T) {
	backend := &fakeBackend{resp: validResponse()}
	m := newTestManager(t, backend)

	// No pair, no amount
	quote, err := m.FetchQuote(context.Background())
	require.NoError(t, err)
	assert.Nil(t, quote)

	// Pair but zero amount
	m.SetPair(testFromAsset, testToAsset)
	m.SetAmount(big.NewInt(0))
	quote, err = m.FetchQuote(context.Background())
	require.NoError(t, err)
	assert.Nil(t, quote)

	assert.Equal(t, 0, backend.calls)
}

func TestFetchQuoteSuccess(t *testing.T) {
	backend := &fakeBackend{resp: validResponse()}
	m := newTestManager(t, backend)

	m.SetPair(testFromAsset, testToAsset)
	m.SetAmount(big.NewInt(1_000_000))

	quote, err := m.FetchQuote(context.Background())
	require.NoError(t, err)
	require.NotNil(t, quote)

	assert.Equal(t, "950000", quote.SrcAmount.String())
	assert.Equal(t, "1000000", quote.DestAmount.String())
	assert.Equal(t, int64(30), quote.BufferBps)
	assert.Equal(t, common.HexToAddress("0x3333333333333333333333333333333333333333"), quote.SettlementContract)
	assert.Same(t, quote, m.Current())

	require.NotNil(t, backend.lastReq)
	assert.Equal(t, "1000000", backend.lastReq.DestAmount)
	assert.Equal(t, int64(137), backend.lastReq.ChainID)
}

func TestFetchQuoteFailurePreservesPreviousQuote(t *testing.T) {
	backend := &fakeBackend{resp: validResponse()}
	m := newTestManager(t, backend)

	m.SetPair(testFromAsset, testToAsset)
	m.SetAmount(big.NewInt(1_000_000))

	first, err := m.FetchQuote(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)

	backend.err = errors.New("backend down")
	backend.resp = nil

	second, err := m.FetchQuote(context.Background())
	assert.Error(t, err)
	assert.Nil(t, second)

	// The old quote stays visible for display even though the refresh failed.
	assert.Same(t, first, m.Current())
}

func TestFetchQuoteRejectsInvalidResponses(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*client.QuoteResponse)
	}{
		{"bad srcAmount", func(r *client.QuoteResponse) { r.SrcAmount = "not-a-number" }},
		{"negative srcAmount", func(r *client.QuoteResponse) { r.SrcAmount = "-5" }},
		{"bufferBps out of range", func(r *client.QuoteResponse) { r.BufferBps = 10000 }},
		{"feeBps out of range", func(r *client.QuoteResponse) { r.FeeBps = -1 }},
		{"bad settlement contract", func(r *client.QuoteResponse) { r.SettlementContract = "nope" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := validResponse()
			tt.mutate(resp)
			backend := &fakeBackend{resp: resp}
			m := newTestManager(t, backend)

			m.SetPair(testFromAsset, testToAsset)
			m.SetAmount(big.NewInt(1_000_000))

			quote, err := m.FetchQuote(context.Background())
			assert.Error(t, err)
			assert.Nil(t, quote)
			assert.Nil(t, m.Current())
		})
	}
}

func TestFetchQuoteSupersededByPairChange(t *testing.T) {
	backend := &fakeBackend{resp: validResponse()}
	m := newTestManager(t, backend)

	m.SetPair(testFromAsset, testToAsset)
	m.SetAmount(big.NewInt(1_000_000))

	// A pair change while the fetch is in flight must discard its result.
	backend.onCall = func() {
		m.SetPair(testToAsset, testFromAsset)
	}

	quote, err := m.FetchQuote(context.Background())
	require.NoError(t, err)
	assert.Nil(t, quote)
	assert.Nil(t, m.Current())
}

func TestClearQuoteDropsCurrent(t *testing.T) {
	backend := &fakeBackend{resp: validResponse()}
	m := newTestManager(t, backend)

	m.SetPair(testFromAsset, testToAsset)
	m.SetAmount(big.NewInt(1_000_000))

	_, err := m.FetchQuote(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m.Current())

	m.ClearQuote()
	assert.Nil(t, m.Current())
}

func TestSetPairSamePairKeepsQuote(t *testing.T) {
	backend := &fakeBackend{resp: validResponse()}
	m := newTestManager(t, backend)

	m.SetPair(testFromAsset, testToAsset)
	m.SetAmount(big.NewInt(1_000_000))

	quote, err := m.FetchQuote(context.Background())
	require.NoError(t, err)
	require.NotNil(t, quote)

	m.SetPair(testFromAsset, testToAsset)
	assert.Same(t, quote, m.Current())
}
