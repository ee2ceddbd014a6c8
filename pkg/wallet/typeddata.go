package wallet

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"debtswitch/pkg/types"
)

// SignDelegation produces an EIP-712 credit-delegation signature scoped to
// the given debt token. The domain name is read from the token contract, so
// the signature binds to the exact deployed token.
func (w *Wallet) SignDelegation(ctx context.Context, debtToken, delegatee common.Address, value, nonce *big.Int, deadline time.Time) (*types.Permit, error) {
	name, err := w.DebtTokenName(ctx, debtToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read debt token name: %w", err)
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"DelegationWithSig": []apitypes.Type{
				{Name: "delegatee", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "DelegationWithSig",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(w.chainID),
			VerifyingContract: debtToken.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"delegatee": delegatee.Hex(),
			"value":     (*math.HexOrDecimal256)(value),
			"nonce":     (*math.HexOrDecimal256)(nonce),
			"deadline":  (*math.HexOrDecimal256)(big.NewInt(deadline.Unix())),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}

	signature, err := crypto.Sign(hash, w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %w", err)
	}

	permit := &types.Permit{
		ScopeToken:       debtToken,
		AuthorizedAmount: new(big.Int).Set(value),
		Deadline:         deadline,
	}
	copy(permit.Signature.R[:], signature[:32])
	copy(permit.Signature.S[:], signature[32:64])
	permit.Signature.V = signature[64] + 27

	return permit, nil
}
