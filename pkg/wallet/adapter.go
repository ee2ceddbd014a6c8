package wallet

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Adapter entry point: one atomic call that pulls the new debt, swaps it via
// the route and repays the old debt
const adapterABI = `[{"inputs":[
{"components":[
{"name":"debtAsset","type":"address"},
{"name":"debtRepayAmount","type":"uint256"},
{"name":"debtRateMode","type":"uint256"},
{"name":"newDebtAsset","type":"address"},
{"name":"maxNewDebtAmount","type":"uint256"},
{"name":"extraCollateralAsset","type":"address"},
{"name":"extraCollateralAmount","type":"uint256"},
{"name":"offset","type":"uint256"},
{"name":"routeData","type":"bytes"}],
"name":"swapParams","type":"tuple"},
{"components":[
{"name":"debtToken","type":"address"},
{"name":"value","type":"uint256"},
{"name":"deadline","type":"uint256"},
{"name":"v","type":"uint8"},
{"name":"r","type":"bytes32"},
{"name":"s","type":"bytes32"}],
"name":"creditPermit","type":"tuple"},
{"components":[
{"name":"debtToken","type":"address"},
{"name":"value","type":"uint256"},
{"name":"deadline","type":"uint256"},
{"name":"v","type":"uint8"},
{"name":"r","type":"bytes32"},
{"name":"s","type":"bytes32"}],
"name":"collateralPermit","type":"tuple"}],
"name":"swapDebt","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// SwapParams mirrors the adapter's swapParams tuple.
type SwapParams struct {
	DebtAsset             common.Address
	DebtRepayAmount       *big.Int
	DebtRateMode          *big.Int
	NewDebtAsset          common.Address
	MaxNewDebtAmount      *big.Int
	ExtraCollateralAsset  common.Address
	ExtraCollateralAmount *big.Int
	Offset                *big.Int
	RouteData             []byte
}

// CreditPermit mirrors the adapter's permit tuple. A zero value relies on the
// on-chain allowance instead of a signature.
type CreditPermit struct {
	DebtToken common.Address
	Value     *big.Int
	Deadline  *big.Int
	V         uint8
	R         [32]byte
	S         [32]byte
}

// ZeroCreditPermit returns the permit tuple used when the adapter should rely
// on an on-chain allowance.
func ZeroCreditPermit() CreditPermit {
	return CreditPermit{Value: big.NewInt(0), Deadline: big.NewInt(0)}
}

// PackSwapDebtCall encodes the adapter swapDebt call for the given parameters.
func PackSwapDebtCall(params SwapParams, creditPermit, collateralPermit CreditPermit) ([]byte, error) {
	parsedABI, err := abi.JSON(strings.NewReader(adapterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse adapter ABI: %w", err)
	}

	data, err := parsedABI.Pack("swapDebt", params, creditPermit, collateralPermit)
	if err != nil {
		return nil, fmt.Errorf("failed to pack swapDebt call: %w", err)
	}

	return data, nil
}

// DecodeCallData decodes backend-supplied hex calldata, rejecting empty or
// malformed payloads.
func DecodeCallData(callData string) ([]byte, error) {
	callData = strings.TrimSpace(callData)
	if callData == "" || callData == "0x" {
		return nil, fmt.Errorf("empty call data")
	}
	if !strings.HasPrefix(callData, "0x") {
		callData = "0x" + callData
	}
	data, err := hexutil.Decode(callData)
	if err != nil {
		return nil, fmt.Errorf("malformed call data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty call data")
	}
	return data, nil
}
