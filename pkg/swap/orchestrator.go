package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"debtswitch/pkg/amount"
	"debtswitch/pkg/auth"
	"debtswitch/pkg/client"
	"debtswitch/pkg/retry"
	"debtswitch/pkg/types"
	"debtswitch/pkg/wallet"
)

// State names one step of a switch attempt.
type State string

const (
	StateIdle                 State = "idle"
	StateQuoteCheck           State = "quote_check"
	StateAuthorizing          State = "authorizing"
	StateBuildingCalldata     State = "building_calldata"
	StateEstimatingGas        State = "estimating_gas"
	StateAwaitingConfirmation State = "awaiting_wallet_confirmation"
	StateSubmitted            State = "submitted"
	StateConfirmingReceipt    State = "confirming_receipt"
	StateSucceeded            State = "succeeded"
	StateFailed               State = "failed"
)

const (
	gasEstimateTimeout  = 15 * time.Second
	gasEstimateAttempts = 3

	// Final gas limit is the estimate plus 50% headroom, clamped to these
	// bounds.
	gasLimitFloor   = uint64(2_000_000)
	gasLimitCeiling = uint64(15_000_000)

	receiptAttempts    = 5
	receiptBackoffStep = time.Second
)

// QuoteSource is the quote manager surface the orchestrator needs.
type QuoteSource interface {
	Current() *types.Quote
	FetchQuote(ctx context.Context) (*types.Quote, error)
	ClearQuote()
}

// Authorizer is the authorization manager surface the orchestrator needs.
type Authorizer interface {
	CurrentAllowance(ctx context.Context, debtToken common.Address) (*big.Int, error)
	ForceFresh() bool
	Ensure(ctx context.Context, debtToken common.Address, requiredCeiling *big.Int, pref auth.Preference) (*auth.Result, error)
	DropPermit(debtToken common.Address) error
}

// Backend is the transaction-build and tracking surface.
type Backend interface {
	BuildTransaction(ctx context.Context, req *client.BuildRequest) (*client.BuildResponse, error)
	SendTransactionHash(ctx context.Context, transactionID, txHash string) error
	ConfirmTransaction(ctx context.Context, transactionID string, gasUsed uint64, actualPaid string, apyPercent *float64) error
}

// ChainBackend is the wallet provider surface.
type ChainBackend interface {
	Address() common.Address
	ChainID() *big.Int
	HasFallback() bool
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	EstimateGasFallback(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	DiagnoseCall(ctx context.Context, msg ethereum.CallMsg) string
	SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (bool, error)
	TransactionByHashFallback(ctx context.Context, hash common.Hash) (bool, error)
}

// Request describes one switch attempt: repay RepayAmount of the FromAsset
// debt by borrowing the ToAsset instead.
type Request struct {
	FromAsset   types.AssetRef
	ToAsset     types.AssetRef
	RepayAmount *big.Int
	SlippageBps int64
	RateMode    types.RateMode
	Preference  auth.Preference
}

// Result is the outcome of one attempt. Cancelled outcomes carry no error;
// the user declined a prompt and the orchestrator returned to idle.
type Result struct {
	State            State
	Cancelled        bool
	TxHash           common.Hash
	GasUsed          uint64
	TransactionID    string
	ManuallyVerified bool
	Err              error
}

// Orchestrator drives a debt switch from quote to confirmed receipt. One
// attempt at a time; a new attempt re-validates the quote itself rather than
// trusting anything captured earlier.
type Orchestrator struct {
	quotes QuoteSource
	auth   Authorizer
	api    Backend
	chain  ChainBackend
	log    *logrus.Logger

	// ConfirmSend gates the final broadcast. A nil hook auto-confirms; a
	// false return classifies as cancellation, same as a declined signature.
	ConfirmSend func(summary string) bool

	// OnState observes state transitions, for console display.
	OnState func(state State)

	inFlight atomic.Bool
	mu       sync.Mutex
	state    State
	now      func() time.Time
}

// New creates an orchestrator over the given collaborators.
func New(quotes QuoteSource, authorizer Authorizer, api Backend, chain ChainBackend, log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logrus.New()
	}
	return &Orchestrator{
		quotes: quotes,
		auth:   authorizer,
		api:    api,
		chain:  chain,
		log:    log,
		state:  StateIdle,
		now:    time.Now,
	}
}

// State returns the current state of the orchestrator.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	if o.OnState != nil {
		o.OnState(s)
	}
}

// Run executes one switch attempt end to end. The returned error is nil for
// success and for user cancellation; inspect Result.Cancelled to tell the
// two apart.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, ErrAttemptInFlight
	}
	defer o.inFlight.Store(false)
	defer o.setState(StateIdle)

	if req.RepayAmount == nil || req.RepayAmount.Sign() <= 0 {
		return o.fail(fmt.Errorf("repay amount must be positive"))
	}
	if !req.ToAsset.HasDebtToken() {
		return o.fail(fmt.Errorf("debt token not resolved for %s", req.ToAsset.Symbol))
	}
	if req.RateMode == 0 {
		req.RateMode = types.RateModeVariable
	}

	intent := &types.SwapIntent{
		ID:          uuid.NewString(),
		FromAsset:   req.FromAsset,
		ToAsset:     req.ToAsset,
		RepayAmount: new(big.Int).Set(req.RepayAmount),
		SlippageBps: req.SlippageBps,
		RateMode:    req.RateMode,
	}
	log := o.log.WithFields(logrus.Fields{
		"attempt": intent.ID,
		"from":    req.FromAsset.Symbol,
		"to":      req.ToAsset.Symbol,
	})

	// QuoteCheck + Authorizing. Authorization can involve a signature prompt
	// or an approval transaction, either of which can outlast the quote, so
	// freshness is re-checked afterwards and the pair is redone at most once.
	quote, authRes, ceiling, err := o.prepare(ctx, req, log)
	if err != nil {
		if errors.Is(err, auth.ErrUserCancelled) {
			log.Info("attempt cancelled by user during authorization")
			return o.cancelled()
		}
		return o.fail(err)
	}
	intent.Quote = quote
	intent.Permit = authRes.Permit

	// BuildingCalldata
	o.setState(StateBuildingCalldata)
	build, err := o.api.BuildTransaction(ctx, &client.BuildRequest{
		FromAsset:         req.FromAsset.Address.Hex(),
		ToAsset:           req.ToAsset.Address.Hex(),
		Route:             quote.Route,
		SrcAmount:         quote.SrcAmount.String(),
		DestAmount:        quote.DestAmount.String(),
		SlippageBps:       req.SlippageBps,
		ChainID:           o.chain.ChainID().Int64(),
		SettlementAddress: quote.SettlementContract.Hex(),
		UserWalletAddress: o.chain.Address().Hex(),
	})
	if err != nil {
		return o.fail(err)
	}
	intent.TransactionID = build.TransactionID

	routeData, err := wallet.DecodeCallData(build.CallData)
	if err != nil {
		// Fatal for this attempt; refresh the quote so the next attempt
		// starts from fresh parameters instead of retrying this payload.
		o.refreshQuote(log)
		return o.fail(fmt.Errorf("backend returned unusable call data: %w", err))
	}

	settlement := quote.SettlementContract
	if common.IsHexAddress(build.SettlementContract) {
		// The build backend reports the settlement contract version actually
		// used by the route.
		settlement = common.HexToAddress(build.SettlementContract)
	}

	callData, err := o.packCall(req, quote, intent.Permit, ceiling, routeData)
	if err != nil {
		return o.fail(err)
	}

	// EstimatingGas. Never skipped.
	o.setState(StateEstimatingGas)
	msg := ethereum.CallMsg{From: o.chain.Address(), To: &settlement, Data: callData}
	gasLimit, err := o.estimateGas(ctx, msg, log)
	if err != nil {
		o.refreshQuote(log)
		return o.fail(err)
	}
	log.WithField("gas_limit", gasLimit).Debug("gas estimated")

	// AwaitingWalletConfirmation / Submitted
	o.setState(StateAwaitingConfirmation)
	summary := fmt.Sprintf("switch %s %s debt to %s (max %s, gas limit %d)",
		quote.DestAmount.String(), req.FromAsset.Symbol, req.ToAsset.Symbol, ceiling.String(), gasLimit)
	if o.ConfirmSend != nil && !o.ConfirmSend(summary) {
		log.Info("attempt cancelled by user before broadcast")
		return o.cancelled()
	}

	txHash, err := o.chain.SendTransaction(ctx, settlement, nil, callData, gasLimit)
	if err != nil {
		if isUserRejection(err) {
			log.Info("broadcast rejected by user")
			return o.cancelled()
		}
		return o.fail(fmt.Errorf("failed to submit switch transaction: %w", err))
	}
	o.setState(StateSubmitted)
	intent.TxHash = txHash
	log = log.WithField("tx_hash", txHash.Hex())
	log.Info("switch transaction submitted")

	if intent.TransactionID != "" {
		if err := o.api.SendTransactionHash(ctx, intent.TransactionID, txHash.Hex()); err != nil {
			log.WithError(err).Warn("failed to record transaction hash with backend")
		}
	}

	// ConfirmingReceipt
	o.setState(StateConfirmingReceipt)
	receipt, manual, err := o.confirmReceipt(ctx, txHash, log)
	if err != nil {
		return o.failWith(err, &Result{TxHash: txHash, TransactionID: intent.TransactionID})
	}

	result := &Result{
		State:            StateSucceeded,
		TxHash:           txHash,
		TransactionID:    intent.TransactionID,
		ManuallyVerified: manual,
	}
	if receipt != nil {
		result.GasUsed = receipt.GasUsed
		if intent.TransactionID != "" {
			if err := o.api.ConfirmTransaction(ctx, intent.TransactionID, receipt.GasUsed, quote.DestAmount.String(), nil); err != nil {
				log.WithError(err).Warn("failed to report confirmation to backend")
			}
		}
	}

	// The quote and permit were consumed by this switch.
	o.quotes.ClearQuote()
	if err := o.auth.DropPermit(req.ToAsset.DebtTokenAddress); err != nil {
		log.WithError(err).Warn("failed to drop consumed permit")
	}

	o.setState(StateSucceeded)
	log.WithField("gas_used", result.GasUsed).Info("switch confirmed")
	return result, nil
}

// prepare runs QuoteCheck and Authorizing, re-validating quote freshness
// after authorization since signing can take arbitrarily long.
func (o *Orchestrator) prepare(ctx context.Context, req Request, log *logrus.Entry) (*types.Quote, *auth.Result, *big.Int, error) {
	debtToken := req.ToAsset.DebtTokenAddress

	for pass := 0; pass < 2; pass++ {
		o.setState(StateQuoteCheck)
		quote := o.quotes.Current()
		if quote == nil || quote.IsStale(o.now()) {
			fresh, err := o.quotes.FetchQuote(ctx)
			if err != nil {
				return nil, nil, nil, err
			}
			if fresh == nil {
				return nil, nil, nil, ErrNoQuote
			}
			quote = fresh
		}

		ceiling := amount.BufferedCeiling(quote.SrcAmount, quote.BufferBps)

		allowance, err := o.auth.CurrentAllowance(ctx, debtToken)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to read on-chain allowance: %w", err)
		}

		var authRes *auth.Result
		if allowance.Cmp(ceiling) < 0 || o.auth.ForceFresh() {
			o.setState(StateAuthorizing)
			authRes, err = o.auth.Ensure(ctx, debtToken, ceiling, req.Preference)
			if err != nil {
				return nil, nil, nil, err
			}
		} else {
			authRes = &auth.Result{Allowance: allowance}
		}

		// Re-check freshness as of this instant rather than trusting the
		// quote captured before authorization.
		if quote.IsStale(o.now()) {
			log.Debug("quote went stale during authorization, refreshing")
			continue
		}

		// The capability must still cover the ceiling actually used.
		if authRes.Permit != nil && !authRes.Permit.Covers(debtToken, ceiling, o.now()) {
			log.Debug("permit no longer covers required ceiling, re-authorizing")
			continue
		}

		return quote, authRes, ceiling, nil
	}

	return nil, nil, nil, ErrStaleQuote
}

// packCall encodes the adapter swapDebt call for this attempt.
func (o *Orchestrator) packCall(req Request, quote *types.Quote, permit *types.Permit, ceiling *big.Int, routeData []byte) ([]byte, error) {
	params := wallet.SwapParams{
		DebtAsset:             req.FromAsset.Underlying(),
		DebtRepayAmount:       quote.DestAmount,
		DebtRateMode:          big.NewInt(int64(req.RateMode)),
		NewDebtAsset:          req.ToAsset.Underlying(),
		MaxNewDebtAmount:      ceiling,
		ExtraCollateralAsset:  common.Address{},
		ExtraCollateralAmount: big.NewInt(0),
		Offset:                big.NewInt(0),
		RouteData:             routeData,
	}

	creditPermit := wallet.ZeroCreditPermit()
	if permit != nil {
		creditPermit = wallet.CreditPermit{
			DebtToken: permit.ScopeToken,
			Value:     permit.AuthorizedAmount,
			Deadline:  big.NewInt(permit.Deadline.Unix()),
			V:         permit.Signature.V,
			R:         permit.Signature.R,
			S:         permit.Signature.S,
		}
	}

	return wallet.PackSwapDebtCall(params, creditPermit, wallet.ZeroCreditPermit())
}

// estimateGas simulates the call on the primary endpoint with a bounded
// timeout per attempt, then falls back to the secondary endpoint for a
// diagnostic reason and, if it succeeds, its estimate.
func (o *Orchestrator) estimateGas(ctx context.Context, msg ethereum.CallMsg, log *logrus.Entry) (uint64, error) {
	var estimate uint64
	policy := retry.Policy{
		MaxAttempts: gasEstimateAttempts,
		Delay:       retry.Fixed(time.Second),
		Retryable:   func(error) bool { return true },
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, gasEstimateTimeout)
		defer cancel()

		g, err := o.chain.EstimateGas(attemptCtx, msg)
		if err != nil {
			return err
		}
		estimate = g
		return nil
	})
	if err == nil {
		return clampGasLimit(estimate), nil
	}

	log.WithError(err).Warn("primary gas estimation failed")

	if o.chain.HasFallback() {
		reason := o.chain.DiagnoseCall(ctx, msg)
		if g, ferr := o.chain.EstimateGasFallback(ctx, msg); ferr == nil {
			log.WithField("estimate", g).Info("using fallback endpoint gas estimate")
			return clampGasLimit(g), nil
		}
		if reason != "" {
			return 0, &SimulationError{Reason: reason}
		}
	}

	return 0, &SimulationError{Reason: err.Error()}
}

// clampGasLimit adds 50% headroom to the raw estimate and bounds the result.
func clampGasLimit(estimate uint64) uint64 {
	limit := estimate + estimate/2
	if limit < gasLimitFloor {
		return gasLimitFloor
	}
	if limit > gasLimitCeiling {
		return gasLimitCeiling
	}
	return limit
}

// confirmReceipt waits for the receipt with bounded linear-backoff retries,
// then probes transaction-by-hash on both endpoints as proof of inclusion.
func (o *Orchestrator) confirmReceipt(ctx context.Context, txHash common.Hash, log *logrus.Entry) (*ethtypes.Receipt, bool, error) {
	var receipt *ethtypes.Receipt
	policy := retry.Policy{
		MaxAttempts: receiptAttempts,
		Delay:       retry.Linear(receiptBackoffStep),
		Retryable:   isTransientRPC,
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		r, err := o.chain.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})

	if err != nil {
		log.WithError(err).Warn("receipt wait exhausted, probing transaction by hash")
		if found, ferr := o.chain.TransactionByHash(ctx, txHash); ferr == nil && found {
			return nil, true, nil
		}
		if o.chain.HasFallback() {
			if found, ferr := o.chain.TransactionByHashFallback(ctx, txHash); ferr == nil && found {
				return nil, true, nil
			}
		}
		return nil, false, fmt.Errorf("transaction %s not confirmed, verify manually: %w", txHash.Hex(), err)
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, false, &RevertError{TxHash: txHash}
	}

	return receipt, false, nil
}

// refreshQuote kicks off a quote refresh so the next attempt starts from
// fresh parameters. Best effort.
func (o *Orchestrator) refreshQuote(log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if _, err := o.quotes.FetchQuote(ctx); err != nil {
		log.WithError(err).Warn("post-failure quote refresh failed")
	}
}

func (o *Orchestrator) fail(err error) (*Result, error) {
	return o.failWith(err, &Result{})
}

func (o *Orchestrator) failWith(err error, result *Result) (*Result, error) {
	o.setState(StateFailed)
	result.State = StateFailed
	result.Err = err
	return result, err
}

func (o *Orchestrator) cancelled() (*Result, error) {
	return &Result{State: StateIdle, Cancelled: true}, nil
}
