package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Debt token functions used by the authorization flow
const debtTokenABI = `[
{"constant":true,"inputs":[{"name":"fromUser","type":"address"},{"name":"toUser","type":"address"}],"name":"borrowAllowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
{"constant":false,"inputs":[{"name":"delegatee","type":"address"},{"name":"amount","type":"uint256"}],"name":"approveDelegation","outputs":[],"type":"function"},
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"nonces","outputs":[{"name":"","type":"uint256"}],"type":"function"},
{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}]`

// Protocol data provider lookup for reserves whose debt token address the
// backend did not supply
const dataProviderABI = `[
{"constant":true,"inputs":[{"name":"asset","type":"address"}],"name":"getReserveTokensAddresses","outputs":[{"name":"aTokenAddress","type":"address"},{"name":"stableDebtTokenAddress","type":"address"},{"name":"variableDebtTokenAddress","type":"address"}],"type":"function"}]`

// BorrowAllowance reads the current credit-delegation ceiling the holder has
// granted to the delegatee on a debt token.
func (w *Wallet) BorrowAllowance(ctx context.Context, debtToken, delegatee common.Address) (*big.Int, error) {
	parsedABI, err := abi.JSON(strings.NewReader(debtTokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse debt token ABI: %w", err)
	}

	data, err := parsedABI.Pack("borrowAllowance", w.address, delegatee)
	if err != nil {
		return nil, fmt.Errorf("failed to pack borrowAllowance data: %w", err)
	}

	result, err := w.client.CallContract(ctx, ethereum.CallMsg{To: &debtToken, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call borrowAllowance: %w", err)
	}

	return new(big.Int).SetBytes(result), nil
}

// DebtTokenNonce reads the holder's current signature nonce on a debt token.
func (w *Wallet) DebtTokenNonce(ctx context.Context, debtToken common.Address) (*big.Int, error) {
	parsedABI, err := abi.JSON(strings.NewReader(debtTokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse debt token ABI: %w", err)
	}

	data, err := parsedABI.Pack("nonces", w.address)
	if err != nil {
		return nil, fmt.Errorf("failed to pack nonces data: %w", err)
	}

	result, err := w.client.CallContract(ctx, ethereum.CallMsg{To: &debtToken, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call nonces: %w", err)
	}

	return new(big.Int).SetBytes(result), nil
}

// DebtTokenName reads the EIP-712 domain name of a debt token.
func (w *Wallet) DebtTokenName(ctx context.Context, debtToken common.Address) (string, error) {
	parsedABI, err := abi.JSON(strings.NewReader(debtTokenABI))
	if err != nil {
		return "", fmt.Errorf("failed to parse debt token ABI: %w", err)
	}

	data, err := parsedABI.Pack("name")
	if err != nil {
		return "", fmt.Errorf("failed to pack name data: %w", err)
	}

	result, err := w.client.CallContract(ctx, ethereum.CallMsg{To: &debtToken, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to call name: %w", err)
	}

	unpacked, err := parsedABI.Unpack("name", result)
	if err != nil {
		return "", fmt.Errorf("failed to unpack name: %w", err)
	}
	name, ok := unpacked[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected name return type")
	}

	return name, nil
}

// ApproveDelegation broadcasts an on-chain approval granting the delegatee a
// borrow allowance on the debt token. Returns the transaction hash; the
// caller awaits confirmation.
func (w *Wallet) ApproveDelegation(ctx context.Context, debtToken, delegatee common.Address, amount *big.Int) (common.Hash, error) {
	parsedABI, err := abi.JSON(strings.NewReader(debtTokenABI))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to parse debt token ABI: %w", err)
	}

	data, err := parsedABI.Pack("approveDelegation", delegatee, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack approveDelegation data: %w", err)
	}

	gasLimit, err := w.client.EstimateGas(ctx, ethereum.CallMsg{
		From: w.address,
		To:   &debtToken,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate approval gas: %w", err)
	}
	gasLimit = gasLimit * 120 / 100

	return w.SendTransaction(ctx, debtToken, nil, data, gasLimit)
}

// ResolveDebtToken returns the variable debt token for an underlying asset by
// querying the protocol data provider.
func (w *Wallet) ResolveDebtToken(ctx context.Context, dataProvider, asset common.Address) (common.Address, error) {
	parsedABI, err := abi.JSON(strings.NewReader(dataProviderABI))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to parse data provider ABI: %w", err)
	}

	data, err := parsedABI.Pack("getReserveTokensAddresses", asset)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack getReserveTokensAddresses data: %w", err)
	}

	result, err := w.client.CallContract(ctx, ethereum.CallMsg{To: &dataProvider, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to call getReserveTokensAddresses: %w", err)
	}

	unpacked, err := parsedABI.Unpack("getReserveTokensAddresses", result)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack getReserveTokensAddresses: %w", err)
	}
	if len(unpacked) != 3 {
		return common.Address{}, fmt.Errorf("unexpected getReserveTokensAddresses return length %d", len(unpacked))
	}

	variableDebtToken, ok := unpacked[2].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected variableDebtTokenAddress return type")
	}
	if variableDebtToken == (common.Address{}) {
		return common.Address{}, fmt.Errorf("asset %s has no variable debt token", asset.Hex())
	}

	return variableDebtToken, nil
}
