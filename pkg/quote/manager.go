package quote

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"debtswitch/pkg/client"
	"debtswitch/pkg/types"
)

const (
	// DebounceDelay is how long the repay amount must settle before a fetch
	// is issued.
	DebounceDelay = 500 * time.Millisecond

	// RefreshInterval is the auto-refresh cadence for a live quote.
	RefreshInterval = 30 * time.Second

	fetchTimeout = 20 * time.Second
)

// Backend fetches routes from the quote-routing service.
type Backend interface {
	GetQuote(ctx context.Context, req *client.QuoteRequest) (*client.QuoteResponse, error)
}

// Manager maintains at most one current quote for a
// (fromAsset, toAsset, repayAmount) tuple. Amount changes are debounced, a
// live quote auto-refreshes on a fixed interval, and every fetch supersedes
// any fetch still in flight.
type Manager struct {
	backend Backend
	user    common.Address
	chainID int64
	log     *logrus.Logger

	mu          sync.Mutex
	fromAsset   types.AssetRef
	toAsset     types.AssetRef
	repayAmount *big.Int
	current     *types.Quote
	generation  uint64
	autoRefresh bool
	frozen      bool
	debounce    *time.Timer

	resetChan chan struct{}
	stopChan  chan struct{}
	stopOnce  sync.Once
	now       func() time.Time
}

// NewManager creates a quote manager for the given user and chain.
func NewManager(backend Backend, user common.Address, chainID int64, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	m := &Manager{
		backend:   backend,
		user:      user,
		chainID:   chainID,
		log:       log,
		resetChan: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}

	go m.refreshLoop()

	return m
}

// SetPair sets the asset pair. Changing the pair discards the current quote
// and any in-flight or debounced fetch.
func (m *Manager) SetPair(from, to types.AssetRef) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := from.Key() != m.fromAsset.Key() || to.Key() != m.toAsset.Key()
	m.fromAsset = from
	m.toAsset = to
	if changed {
		m.dropLocked()
	}
}

// SetAmount sets the repay amount and schedules a debounced fetch once the
// amount has settled.
func (m *Manager) SetAmount(amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount == nil {
		m.repayAmount = nil
	} else {
		m.repayAmount = new(big.Int).Set(amount)
	}

	if m.debounce != nil {
		m.debounce.Stop()
	}
	m.debounce = time.AfterFunc(DebounceDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		if _, err := m.FetchQuote(ctx); err != nil {
			m.log.WithError(err).Warn("debounced quote fetch failed")
		}
	})
}

// FetchQuote fetches a fresh quote for the current tuple. It returns
// (nil, nil) when the preconditions are unmet (zero amount or unresolved
// assets) or when the result was superseded by a newer fetch. On failure the
// previous quote is preserved but auto-refresh is disabled until a fetch
// succeeds again.
func (m *Manager) FetchQuote(ctx context.Context) (*types.Quote, error) {
	m.mu.Lock()
	if m.repayAmount == nil || m.repayAmount.Sign() == 0 ||
		m.fromAsset.Address == (common.Address{}) || m.toAsset.Address == (common.Address{}) {
		m.mu.Unlock()
		return nil, nil
	}

	req := &client.QuoteRequest{
		FromAsset:   m.fromAsset.Address.Hex(),
		ToAsset:     m.toAsset.Address.Hex(),
		DestAmount:  m.repayAmount.String(),
		UserAddress: m.user.Hex(),
		ChainID:     m.chainID,
	}
	destAmount := new(big.Int).Set(m.repayAmount)

	m.generation++
	gen := m.generation
	m.mu.Unlock()

	resp, err := m.backend.GetQuote(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		// A newer fetch superseded this one; discard the result either way.
		return nil, nil
	}

	if err != nil {
		m.autoRefresh = false
		return nil, fmt.Errorf("quote fetch failed: %w", err)
	}

	quote, err := parseQuote(resp, destAmount, m.now())
	if err != nil {
		m.autoRefresh = false
		return nil, err
	}

	m.current = quote
	m.autoRefresh = true
	m.signalReset()

	m.log.WithFields(logrus.Fields{
		"src_amount":  quote.SrcAmount.String(),
		"dest_amount": quote.DestAmount.String(),
		"buffer_bps":  quote.BufferBps,
	}).Debug("quote refreshed")

	return quote, nil
}

// Current returns the current quote, possibly stale, or nil.
func (m *Manager) Current() *types.Quote {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current
}

// ClearQuote cancels auto-refresh and any pending fetch and drops the
// current quote.
func (m *Manager) ClearQuote() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropLocked()
}

// ResetCountdown restarts the auto-refresh countdown.
func (m *Manager) ResetCountdown() {
	m.signalReset()
}

// SetFrozen holds auto-refresh without dropping the quote. Diagnostic use
// only.
func (m *Manager) SetFrozen(frozen bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frozen = frozen
}

// Close stops the refresh loop and pending timers.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.debounce != nil {
		m.debounce.Stop()
	}
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopChan) })
}

// dropLocked discards the quote and supersedes in-flight work (must be
// called with the lock held).
func (m *Manager) dropLocked() {
	m.current = nil
	m.autoRefresh = false
	m.generation++
	if m.debounce != nil {
		m.debounce.Stop()
	}
}

func (m *Manager) signalReset() {
	select {
	case m.resetChan <- struct{}{}:
	default:
	}
}

// refreshLoop refetches the quote on a fixed interval while a quote is live
// and not frozen.
func (m *Manager) refreshLoop() {
	timer := time.NewTimer(RefreshInterval)
	defer timer.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-m.resetChan:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(RefreshInterval)
		case <-timer.C:
			m.mu.Lock()
			run := m.autoRefresh && !m.frozen
			m.mu.Unlock()

			if run {
				ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
				if _, err := m.FetchQuote(ctx); err != nil {
					m.log.WithError(err).Warn("quote auto-refresh failed")
				}
				cancel()
			}
			timer.Reset(RefreshInterval)
		}
	}
}

// parseQuote validates and converts a backend response into a Quote.
func parseQuote(resp *client.QuoteResponse, destAmount *big.Int, now time.Time) (*types.Quote, error) {
	srcAmount, ok := new(big.Int).SetString(resp.SrcAmount, 10)
	if !ok || srcAmount.Sign() < 0 {
		return nil, fmt.Errorf("backend returned invalid srcAmount %q", resp.SrcAmount)
	}
	if resp.BufferBps < 0 || resp.BufferBps >= 10000 {
		return nil, fmt.Errorf("backend returned invalid bufferBps %d", resp.BufferBps)
	}
	if resp.FeeBps < 0 || resp.FeeBps >= 10000 {
		return nil, fmt.Errorf("backend returned invalid feeBps %d", resp.FeeBps)
	}
	if !common.IsHexAddress(resp.SettlementContract) {
		return nil, fmt.Errorf("backend returned invalid settlement contract %q", resp.SettlementContract)
	}

	return &types.Quote{
		Route:              resp.Route,
		SrcAmount:          srcAmount,
		DestAmount:         destAmount,
		IssuedAt:           now,
		BufferBps:          resp.BufferBps,
		FeeBps:             resp.FeeBps,
		RouteVersion:       resp.RouteVersion,
		SettlementContract: common.HexToAddress(resp.SettlementContract),
	}, nil
}
