package auth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"debtswitch/pkg/retry"
	"debtswitch/pkg/types"
)

// ErrUserCancelled marks a declined signature or approval. It is not an
// error condition for the caller to report, only a flag.
var ErrUserCancelled = errors.New("authorization cancelled by user")

// Preference selects how the pull-capability is obtained.
type Preference string

const (
	PreferSignature Preference = "signature"
	PreferApproval  Preference = "approval"
)

// MaxDelegationValue is the intentionally maximal ceiling used for fresh
// delegation signatures, so one signature covers later attempts too.
var MaxDelegationValue = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Signer is the wallet capability surface the manager needs.
type Signer interface {
	BorrowAllowance(ctx context.Context, debtToken, delegatee common.Address) (*big.Int, error)
	DebtTokenNonce(ctx context.Context, debtToken common.Address) (*big.Int, error)
	SignDelegation(ctx context.Context, debtToken, delegatee common.Address, value, nonce *big.Int, deadline time.Time) (*types.Permit, error)
	ApproveDelegation(ctx context.Context, debtToken, delegatee common.Address, amount *big.Int) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	RevokeSessionGrants(ctx context.Context) error
}

// Manager guarantees that before a switch call is submitted the adapter holds
// a pull-capability covering the required ceiling for the new debt asset,
// either as a cached/fresh delegation signature or as an on-chain allowance.
type Manager struct {
	signer  Signer
	store   *Store
	adapter common.Address
	log     *logrus.Logger

	// Confirm gates the two user-facing actions (signature, approval tx).
	// A nil hook auto-confirms; a false return classifies as cancellation.
	Confirm func(action string) bool

	now func() time.Time
}

// Result is the capability the manager settled on for one attempt.
type Result struct {
	// Permit is non-nil when the adapter should be handed a signature.
	Permit *types.Permit
	// Allowance is the on-chain ceiling when no signature is used.
	Allowance *big.Int
	// FreshSignature reports that a new signature was collected this attempt.
	FreshSignature bool
}

// NewManager creates an authorization manager delegating to the adapter
// contract at the given address.
func NewManager(signer Signer, store *Store, adapter common.Address, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		signer:  signer,
		store:   store,
		adapter: adapter,
		log:     log,
		now:     time.Now,
	}
}

// CurrentAllowance reads the adapter's on-chain borrow allowance for the
// debt token.
func (m *Manager) CurrentAllowance(ctx context.Context, debtToken common.Address) (*big.Int, error) {
	return m.signer.BorrowAllowance(ctx, debtToken, m.adapter)
}

// ForceFresh reports whether the user has demanded a fresh signature.
func (m *Manager) ForceFresh() bool {
	return m.store.ForceFresh()
}

// Ensure obtains a capability covering requiredCeiling units of the debt
// token. A cached permit is reused when it is scoped to this token, unexpired,
// large enough, and the user has not forced a fresh signature.
func (m *Manager) Ensure(ctx context.Context, debtToken common.Address, requiredCeiling *big.Int, pref Preference) (*Result, error) {
	forceFresh := m.store.ForceFresh()

	if !forceFresh {
		if cached := m.store.Permit(debtToken); cached.Covers(debtToken, requiredCeiling, m.now()) {
			m.log.WithField("debt_token", debtToken.Hex()).Debug("reusing cached delegation permit")
			return &Result{Permit: cached}, nil
		}
	}

	if pref == PreferSignature {
		return m.collectSignature(ctx, debtToken)
	}
	return m.submitApproval(ctx, debtToken, requiredCeiling)
}

// collectSignature requests a fresh EIP-712 delegation signature and caches
// it keyed by debt token.
func (m *Manager) collectSignature(ctx context.Context, debtToken common.Address) (*Result, error) {
	if m.Confirm != nil && !m.Confirm("sign a credit delegation for the adapter") {
		return nil, ErrUserCancelled
	}

	nonce, err := m.signer.DebtTokenNonce(ctx, debtToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read delegation nonce: %w", err)
	}

	deadline := m.now().Add(types.PermitValidity)
	permit, err := m.signer.SignDelegation(ctx, debtToken, m.adapter, MaxDelegationValue, nonce, deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to sign delegation: %w", err)
	}

	if err := m.store.SavePermit(permit); err != nil {
		m.log.WithError(err).Warn("failed to cache delegation permit")
	}
	if err := m.store.SetForceFresh(false); err != nil {
		m.log.WithError(err).Warn("failed to clear force-fresh flag")
	}

	m.log.WithField("debt_token", debtToken.Hex()).Info("collected fresh delegation signature")
	return &Result{Permit: permit, FreshSignature: true}, nil
}

// submitApproval broadcasts an approveDelegation transaction, waits for it to
// confirm, and re-reads the resulting allowance.
func (m *Manager) submitApproval(ctx context.Context, debtToken common.Address, amount *big.Int) (*Result, error) {
	if m.Confirm != nil && !m.Confirm("submit an on-chain delegation approval") {
		return nil, ErrUserCancelled
	}

	txHash, err := m.signer.ApproveDelegation(ctx, debtToken, m.adapter, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to submit approval: %w", err)
	}

	m.log.WithField("tx_hash", txHash.Hex()).Info("approval transaction submitted")

	var receipt *ethtypes.Receipt
	policy := retry.Policy{
		MaxAttempts: 30,
		Delay:       retry.Fixed(2 * time.Second),
		Retryable: func(err error) bool {
			return errors.Is(err, ethereum.NotFound)
		},
	}
	err = policy.Do(ctx, func(ctx context.Context) error {
		r, err := m.signer.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("approval transaction %s not confirmed: %w", txHash.Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("approval transaction %s reverted", txHash.Hex())
	}

	allowance, err := m.signer.BorrowAllowance(ctx, debtToken, m.adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read allowance: %w", err)
	}

	m.log.WithField("allowance", allowance.String()).Info("on-chain delegation approved")
	return &Result{Allowance: allowance}, nil
}

// OnAssetChanged drops any cached permit scoped to a different debt token.
// A stale permit for the wrong asset must never be silently reused.
func (m *Manager) OnAssetChanged(debtToken common.Address) error {
	return m.store.DeletePermitsExcept(debtToken)
}

// DropPermit removes the cached permit for a debt token, typically after a
// successful switch consumed it.
func (m *Manager) DropPermit(debtToken common.Address) error {
	return m.store.DeletePermit(debtToken)
}

// Forget clears the cached permit, persists the force-fresh-signature flag,
// and best-effort asks the wallet provider to drop session-level grants.
func (m *Manager) Forget(ctx context.Context, debtToken common.Address) error {
	if err := m.store.DeletePermit(debtToken); err != nil {
		return fmt.Errorf("failed to clear cached permit: %w", err)
	}
	if err := m.store.SetForceFresh(true); err != nil {
		return fmt.Errorf("failed to persist force-fresh flag: %w", err)
	}
	if err := m.signer.RevokeSessionGrants(ctx); err != nil {
		m.log.WithError(err).Warn("failed to revoke wallet session grants")
	}
	return nil
}
