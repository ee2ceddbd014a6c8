package swap

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"debtswitch/pkg/auth"
	"debtswitch/pkg/client"
	"debtswitch/pkg/types"
)

var (
	testFromAsset = types.AssetRef{
		Address:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Decimals: 6,
		Symbol:   "USDC",
	}
	testToAsset = types.AssetRef{
		Address:          common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Decimals:         18,
		Symbol:           "DAI",
		DebtTokenAddress: common.HexToAddress("0x3333333333333333333333333333333333333333"),
	}
	testSettlement = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testTxHash     = common.HexToHash("0x5555555555555555555555555555555555555555555555555555555555555555")
)

func testQuote() *types.Quote {
	return &types.Quote{
		Route:              "route-1",
		SrcAmount:          big.NewInt(95),
		DestAmount:         big.NewInt(1_000_000),
		IssuedAt:           time.Now(),
		BufferBps:          50,
		FeeBps:             5,
		RouteVersion:       "v2",
		SettlementContract: testSettlement,
	}
}

type fakeQuotes struct {
	current    *types.Quote
	fetched    *types.Quote
	fetchErr   error
	fetchCalls int
	cleared    bool
}

func (f *fakeQuotes) Current() *types.Quote { return f.current }

func (f *fakeQuotes) FetchQuote(ctx context.Context) (*types.Quote, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	f.current = f.fetched
	return f.fetched, nil
}

func (f *fakeQuotes) ClearQuote() {
	f.cleared = true
	f.current = nil
}

type fakeAuth struct {
	allowance    *big.Int
	forceFresh   bool
	ensureResult *auth.Result
	ensureErr    error
	ensureCalls  int
	lastCeiling  *big.Int
	dropped      []common.Address
}

func (f *fakeAuth) CurrentAllowance(ctx context.Context, debtToken common.Address) (*big.Int, error) {
	if f.allowance == nil {
		return big.NewInt(0), nil
	}
	return f.allowance, nil
}

func (f *fakeAuth) ForceFresh() bool { return f.forceFresh }

func (f *fakeAuth) Ensure(ctx context.Context, debtToken common.Address, requiredCeiling *big.Int, pref auth.Preference) (*auth.Result, error) {
	f.ensureCalls++
	f.lastCeiling = new(big.Int).Set(requiredCeiling)
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	return f.ensureResult, nil
}

func (f *fakeAuth) DropPermit(debtToken common.Address) error {
	f.dropped = append(f.dropped, debtToken)
	return nil
}

type fakeAPI struct {
	buildResp  *client.BuildResponse
	buildErr   error
	buildCalls int

	hashRecorded  string
	confirmCalls  int
	confirmGas    uint64
	confirmTxID   string
	confirmActual string
}

func (f *fakeAPI) BuildTransaction(ctx context.Context, req *client.BuildRequest) (*client.BuildResponse, error) {
	f.buildCalls++
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return f.buildResp, nil
}

func (f *fakeAPI) SendTransactionHash(ctx context.Context, transactionID, txHash string) error {
	f.hashRecorded = txHash
	return nil
}

func (f *fakeAPI) ConfirmTransaction(ctx context.Context, transactionID string, gasUsed uint64, actualPaid string, apyPercent *float64) error {
	f.confirmCalls++
	f.confirmTxID = transactionID
	f.confirmGas = gasUsed
	f.confirmActual = actualPaid
	return nil
}

type fakeChain struct {
	estimate        uint64
	estimateErr     error
	fallbackGas     uint64
	fallbackErr     error
	hasFallback     bool
	diagnosis       string
	sendErr         error
	sendCalls       int
	sentGasLimit    uint64
	sentTo          common.Address
	receipt         *ethtypes.Receipt
	receiptErr      error
	txFound         bool
	txFoundFallback bool
}

func (f *fakeChain) Address() common.Address { return common.HexToAddress("0xdead") }
func (f *fakeChain) ChainID() *big.Int       { return big.NewInt(137) }
func (f *fakeChain) HasFallback() bool       { return f.hasFallback }

func (f *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return f.estimate, nil
}

func (f *fakeChain) EstimateGasFallback(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if f.fallbackErr != nil {
		return 0, f.fallbackErr
	}
	return f.fallbackGas, nil
}

func (f *fakeChain) DiagnoseCall(ctx context.Context, msg ethereum.CallMsg) string {
	return f.diagnosis
}

func (f *fakeChain) SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (common.Hash, error) {
	f.sendCalls++
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sentTo = to
	f.sentGasLimit = gasLimit
	return testTxHash, nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return f.receipt, nil
}

func (f *fakeChain) TransactionByHash(ctx context.Context, hash common.Hash) (bool, error) {
	return f.txFound, nil
}

func (f *fakeChain) TransactionByHashFallback(ctx context.Context, hash common.Hash) (bool, error) {
	return f.txFoundFallback, nil
}

func coveringPermit() *types.Permit {
	return &types.Permit{
		ScopeToken:       testToAsset.DebtTokenAddress,
		AuthorizedAmount: auth.MaxDelegationValue,
		Deadline:         time.Now().Add(time.Hour),
		Signature:        types.SignatureComponents{V: 28},
	}
}

func testRequest() Request {
	return Request{
		FromAsset:   testFromAsset,
		ToAsset:     testToAsset,
		RepayAmount: big.NewInt(1_000_000),
		SlippageBps: 100,
		Preference:  auth.PreferSignature,
	}
}

func happyFixtures() (*fakeQuotes, *fakeAuth, *fakeAPI, *fakeChain) {
	quotes := &fakeQuotes{current: testQuote()}
	authMgr := &fakeAuth{ensureResult: &auth.Result{Permit: coveringPermit(), FreshSignature: true}}
	api := &fakeAPI{buildResp: &client.BuildResponse{
		CallData:      "0xdeadbeef",
		TransactionID: "tx-123",
	}}
	chain := &fakeChain{
		estimate: 3_000_000,
		receipt:  &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, GasUsed: 2_500_000},
	}
	return quotes, authMgr, api, chain
}

func TestRunSuccess(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	o := New(quotes, authMgr, api, chain, nil)

	var states []State
	o.OnState = func(s State) { states = append(states, s) }

	result, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.False(t, result.Cancelled)
	assert.Equal(t, testTxHash, result.TxHash)
	assert.Equal(t, uint64(2_500_000), result.GasUsed)
	assert.Equal(t, "tx-123", result.TransactionID)
	assert.False(t, result.ManuallyVerified)

	// srcAmount 95 at 50 bps buffer rounds up to a ceiling of 96.
	require.NotNil(t, authMgr.lastCeiling)
	assert.Equal(t, int64(96), authMgr.lastCeiling.Int64())

	// Gas limit is the estimate plus 50% headroom.
	assert.Equal(t, uint64(4_500_000), chain.sentGasLimit)
	assert.Equal(t, testSettlement, chain.sentTo)

	// The backend was told about the broadcast and the confirmation.
	assert.Equal(t, testTxHash.Hex(), api.hashRecorded)
	assert.Equal(t, 1, api.confirmCalls)
	assert.Equal(t, "tx-123", api.confirmTxID)
	assert.Equal(t, uint64(2_500_000), api.confirmGas)
	assert.Equal(t, "1000000", api.confirmActual)

	// The consumed quote and permit are dropped.
	assert.True(t, quotes.cleared)
	require.Len(t, authMgr.dropped, 1)
	assert.Equal(t, testToAsset.DebtTokenAddress, authMgr.dropped[0])

	assert.Contains(t, states, StateQuoteCheck)
	assert.Contains(t, states, StateAuthorizing)
	assert.Contains(t, states, StateBuildingCalldata)
	assert.Contains(t, states, StateEstimatingGas)
	assert.Contains(t, states, StateSubmitted)
	assert.Contains(t, states, StateSucceeded)
	assert.Equal(t, StateIdle, states[len(states)-1])
}

func TestRunSkipsAuthorizationWhenAllowanceCovers(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	authMgr.allowance = big.NewInt(1_000_000)
	o := New(quotes, authMgr, api, chain, nil)

	result, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, 0, authMgr.ensureCalls, "sufficient allowance must not prompt for authorization")
}

func TestRunForceFreshAuthorizesDespiteAllowance(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	authMgr.allowance = big.NewInt(1_000_000)
	authMgr.forceFresh = true
	o := New(quotes, authMgr, api, chain, nil)

	_, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, authMgr.ensureCalls)
}

func TestRunFetchesQuoteWhenStale(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	stale := testQuote()
	stale.IssuedAt = time.Now().Add(-10 * time.Minute)
	quotes.current = stale
	quotes.fetched = testQuote()
	o := New(quotes, authMgr, api, chain, nil)

	result, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.GreaterOrEqual(t, quotes.fetchCalls, 1)
}

func TestRunUserCancelsAuthorization(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	authMgr.ensureErr = auth.ErrUserCancelled
	o := New(quotes, authMgr, api, chain, nil)

	result, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err, "cancellation is not an error")

	assert.True(t, result.Cancelled)
	assert.Equal(t, StateIdle, result.State)
	assert.Equal(t, 0, api.buildCalls)
	assert.Equal(t, 0, chain.sendCalls)
}

func TestRunUserDeclinesSend(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	o := New(quotes, authMgr, api, chain, nil)
	o.ConfirmSend = func(summary string) bool { return false }

	result, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.True(t, result.Cancelled)
	assert.Equal(t, 0, chain.sendCalls)
}

func TestRunProviderRejectionIsCancellation(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	chain.sendErr = errors.New("user rejected transaction")
	o := New(quotes, authMgr, api, chain, nil)

	result, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.True(t, result.Cancelled)
}

func TestRunGasEstimationFailure(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	chain.estimateErr = errors.New("execution reverted: 36")
	quotes.fetched = testQuote()
	o := New(quotes, authMgr, api, chain, nil)

	result, err := o.Run(context.Background(), testRequest())
	require.Error(t, err)

	var simErr *SimulationError
	assert.ErrorAs(t, err, &simErr)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 0, chain.sendCalls, "a failed simulation must never broadcast")

	// The quote is refreshed so the next attempt starts from fresh parameters.
	assert.GreaterOrEqual(t, quotes.fetchCalls, 1)
}

func TestRunGasEstimationFallbackDiagnosis(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	chain.estimateErr = errors.New("rpc unavailable")
	chain.hasFallback = true
	chain.fallbackErr = errors.New("also failing")
	chain.diagnosis = "execution reverted: collateral cannot cover new debt"
	quotes.fetched = testQuote()
	o := New(quotes, authMgr, api, chain, nil)

	_, err := o.Run(context.Background(), testRequest())
	require.Error(t, err)

	var simErr *SimulationError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, "execution reverted: collateral cannot cover new debt", simErr.Reason)
}

func TestRunGasEstimationFallbackEstimate(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	chain.estimateErr = errors.New("primary down")
	chain.hasFallback = true
	chain.fallbackGas = 4_000_000
	o := New(quotes, authMgr, api, chain, nil)

	result, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, uint64(6_000_000), chain.sentGasLimit)
}

func TestRunGasLimitClamped(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	chain.estimate = 100_000
	o := New(quotes, authMgr, api, chain, nil)

	_, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), chain.sentGasLimit, "gas limit clamps to the floor")

	quotes2, authMgr2, api2, chain2 := happyFixtures()
	chain2.estimate = 50_000_000
	o2 := New(quotes2, authMgr2, api2, chain2, nil)

	_, err = o2.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(15_000_000), chain2.sentGasLimit, "gas limit clamps to the ceiling")
}

func TestRunRevertedReceipt(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	chain.receipt = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed}
	o := New(quotes, authMgr, api, chain, nil)

	result, err := o.Run(context.Background(), testRequest())
	require.Error(t, err)

	var revertErr *RevertError
	require.ErrorAs(t, err, &revertErr)
	assert.Equal(t, testTxHash, revertErr.TxHash)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, testTxHash, result.TxHash)
	assert.Equal(t, 0, api.confirmCalls)
}

func TestRunManualVerificationWhenReceiptUnavailable(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	chain.receiptErr = errors.New("definitive rpc failure")
	chain.txFound = true
	o := New(quotes, authMgr, api, chain, nil)

	result, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.True(t, result.ManuallyVerified)
	assert.Equal(t, uint64(0), result.GasUsed)
	assert.Equal(t, 0, api.confirmCalls, "no receipt means nothing to confirm")
}

func TestRunReceiptAndProbeBothFail(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	chain.receiptErr = errors.New("definitive rpc failure")
	chain.txFound = false
	o := New(quotes, authMgr, api, chain, nil)

	result, err := o.Run(context.Background(), testRequest())
	require.Error(t, err)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, testTxHash, result.TxHash, "the hash survives so the user can verify manually")
}

func TestRunRejectsBadRequests(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	o := New(quotes, authMgr, api, chain, nil)

	req := testRequest()
	req.RepayAmount = big.NewInt(0)
	_, err := o.Run(context.Background(), req)
	assert.Error(t, err)

	req = testRequest()
	req.ToAsset.DebtTokenAddress = common.Address{}
	_, err = o.Run(context.Background(), req)
	assert.Error(t, err)
}

func TestRunRejectsUnusableCallData(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	api.buildResp = &client.BuildResponse{CallData: "", TransactionID: "tx-123"}
	quotes.fetched = testQuote()
	o := New(quotes, authMgr, api, chain, nil)

	result, err := o.Run(context.Background(), testRequest())
	require.Error(t, err)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 0, chain.sendCalls)
}

func TestRunSingleAttemptAtATime(t *testing.T) {
	quotes, authMgr, api, chain := happyFixtures()
	o := New(quotes, authMgr, api, chain, nil)

	var reentrant error
	o.ConfirmSend = func(summary string) bool {
		_, reentrant = o.Run(context.Background(), testRequest())
		return true
	}

	_, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.ErrorIs(t, reentrant, ErrAttemptInFlight)
}

func TestIsTransientRPC(t *testing.T) {
	assert.True(t, isTransientRPC(ethereum.NotFound))
	assert.True(t, isTransientRPC(context.DeadlineExceeded))
	assert.True(t, isTransientRPC(errors.New("request timed out")))
	assert.True(t, isTransientRPC(errors.New("connection refused")))
	assert.False(t, isTransientRPC(errors.New("execution reverted")))
	assert.False(t, isTransientRPC(nil))
}

func TestIsUserRejection(t *testing.T) {
	assert.True(t, isUserRejection(errors.New("MetaMask Tx Signature: User denied transaction signature")))
	assert.True(t, isUserRejection(errors.New("user rejected the request")))
	assert.False(t, isUserRejection(errors.New("insufficient funds")))
	assert.False(t, isUserRejection(nil))
}
