package amount

import (
	"fmt"
	"math/big"
)

const bpsDenominator = 10000

// BufferedCeiling returns src scaled up by bufferBps basis points, rounded
// towards positive infinity. The result is never below src, so an
// authorization sized by it always covers the literal quoted requirement even
// when the division truncates.
//
// src must be non-negative and bufferBps must be in [0, 10000); anything else
// is a caller error and panics.
func BufferedCeiling(src *big.Int, bufferBps int64) *big.Int {
	checkArgs(src, bufferBps, "bufferBps")

	num := new(big.Int).Mul(src, big.NewInt(bpsDenominator+bufferBps))
	quo, rem := new(big.Int).QuoRem(num, big.NewInt(bpsDenominator), new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// MinimumOut returns dest scaled down by slippageBps basis points, rounded
// towards zero. It bounds the worst acceptable execution price.
//
// dest must be non-negative and slippageBps must be in [0, 10000); anything
// else is a caller error and panics.
func MinimumOut(dest *big.Int, slippageBps int64) *big.Int {
	checkArgs(dest, slippageBps, "slippageBps")

	num := new(big.Int).Mul(dest, big.NewInt(bpsDenominator-slippageBps))
	return num.Quo(num, big.NewInt(bpsDenominator))
}

func checkArgs(v *big.Int, bps int64, name string) {
	if v == nil || v.Sign() < 0 {
		panic("amount: value must be a non-negative integer")
	}
	if bps < 0 || bps >= bpsDenominator {
		panic(fmt.Sprintf("amount: %s %d out of range [0, %d)", name, bps, bpsDenominator))
	}
}
