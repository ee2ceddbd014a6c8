package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Config holds the connection settings for the wallet provider.
type Config struct {
	RPCURL         string
	FallbackRPCURL string
	PrivateKey     string
	ChainID        int64
}

// Wallet is the chain-access port: it signs with a local key and talks to a
// primary RPC endpoint, with an optional read-only fallback endpoint used for
// diagnostic simulation and receipt probing.
type Wallet struct {
	client     *ethclient.Client
	fallback   *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// New connects to the configured RPC endpoints and validates that the primary
// endpoint serves the expected chain. A chain id mismatch is a hard error; a
// CLI cannot ask the endpoint to switch networks the way a browser wallet can.
func New(ctx context.Context, cfg Config) (*Wallet, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL not configured")
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key not configured")
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if chainID.Int64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("RPC endpoint serves chain %d, expected chain %d", chainID.Int64(), cfg.ChainID)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		client.Close()
		return nil, fmt.Errorf("failed to get public key")
	}

	w := &Wallet{
		client:     client,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		chainID:    chainID,
	}

	if cfg.FallbackRPCURL != "" {
		fallback, err := ethclient.DialContext(ctx, cfg.FallbackRPCURL)
		if err != nil {
			// The fallback endpoint is optional diagnostics capacity, not a
			// requirement for operating.
			fmt.Printf("Warning: failed to connect to fallback RPC endpoint: %v\n", err)
		} else {
			w.fallback = fallback
		}
	}

	return w, nil
}

// Address returns the wallet's account address.
func (w *Wallet) Address() common.Address {
	return w.address
}

// ChainID returns the connected chain id.
func (w *Wallet) ChainID() *big.Int {
	return new(big.Int).Set(w.chainID)
}

// HasFallback reports whether a secondary read-only endpoint is available.
func (w *Wallet) HasFallback() bool {
	return w.fallback != nil
}

// EstimateGas simulates the call on the primary endpoint.
func (w *Wallet) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return w.client.EstimateGas(ctx, msg)
}

// EstimateGasFallback simulates the call on the fallback endpoint.
func (w *Wallet) EstimateGasFallback(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if w.fallback == nil {
		return 0, fmt.Errorf("no fallback RPC endpoint configured")
	}
	return w.fallback.EstimateGas(ctx, msg)
}

// DiagnoseCall replays the call on the fallback endpoint with eth_call and
// returns whatever revert reason the node reports. Best effort: an empty
// string means no diagnosis was possible.
func (w *Wallet) DiagnoseCall(ctx context.Context, msg ethereum.CallMsg) string {
	if w.fallback == nil {
		return ""
	}
	_, err := w.fallback.CallContract(ctx, msg, nil)
	if err == nil {
		return ""
	}
	return err.Error()
}

// SendTransaction signs and broadcasts a contract call with the given gas
// limit, using the node's suggested gas price.
func (w *Wallet) SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (common.Hash, error) {
	nonce, err := w.client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	if value == nil {
		value = big.NewInt(0)
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(w.chainID), w.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := w.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash(), nil
}

// TransactionReceipt fetches the receipt for a broadcast transaction.
func (w *Wallet) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return w.client.TransactionReceipt(ctx, hash)
}

// TransactionByHash reports whether the primary endpoint knows the
// transaction at all, pending or mined.
func (w *Wallet) TransactionByHash(ctx context.Context, hash common.Hash) (bool, error) {
	_, _, err := w.client.TransactionByHash(ctx, hash)
	if err == ethereum.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get transaction: %w", err)
	}
	return true, nil
}

// TransactionByHashFallback is TransactionByHash against the fallback
// endpoint.
func (w *Wallet) TransactionByHashFallback(ctx context.Context, hash common.Hash) (bool, error) {
	if w.fallback == nil {
		return false, fmt.Errorf("no fallback RPC endpoint configured")
	}
	_, _, err := w.fallback.TransactionByHash(ctx, hash)
	if err == ethereum.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get transaction: %w", err)
	}
	return true, nil
}

// RevokeSessionGrants asks the wallet provider to drop session-level trust
// grants. A local key holds no provider session, so there is nothing to
// revoke.
func (w *Wallet) RevokeSessionGrants(ctx context.Context) error {
	return nil
}

// Close closes the RPC connections.
func (w *Wallet) Close() {
	if w.client != nil {
		w.client.Close()
	}
	if w.fallback != nil {
		w.fallback.Close()
	}
}
