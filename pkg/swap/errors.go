package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrAttemptInFlight is returned when Run is called while another switch
	// attempt is still active on the same orchestrator.
	ErrAttemptInFlight = errors.New("a switch attempt is already in flight")

	// ErrNoQuote is returned when no usable quote could be obtained.
	ErrNoQuote = errors.New("no quote available")

	// ErrStaleQuote is returned when the quote kept expiring faster than the
	// authorization step could complete.
	ErrStaleQuote = errors.New("quote expired before authorization completed")
)

// SimulationError is a fatal gas-estimation failure for one attempt, carrying
// the best human-readable revert reason available.
type SimulationError struct {
	Reason string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("transaction simulation failed: %s", e.Reason)
}

// RevertError marks a mined transaction whose receipt reports failure.
type RevertError struct {
	TxHash common.Hash
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("transaction %s reverted on chain", e.TxHash.Hex())
}

// isTransientRPC classifies errors worth another attempt: missing results and
// timeouts, not definitive failures.
func isTransientRPC(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "timed out", "connection", "eof", "no result", "not found"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isUserRejection detects a declined broadcast surfaced through the provider
// error rather than the local prompt.
func isUserRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user denied") || strings.Contains(msg, "user rejected")
}
