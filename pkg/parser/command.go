package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// SwitchRequest is a parsed debt-switch command before asset resolution.
type SwitchRequest struct {
	Amount    string
	FromToken string
	ToToken   string
}

// ParseSwitchCommand parses a natural language debt-switch command
// Examples:
//   - "switch 100 USDC to DAI"
//   - "100 USDC to DAI"
//   - "0.5 WETH to USDT"
func ParseSwitchCommand(command string) (*SwitchRequest, error) {
	// Normalize the command
	command = strings.TrimSpace(strings.ToUpper(command))

	// Remove the word "SWITCH" if present at the beginning
	command = strings.TrimPrefix(command, "SWITCH ")

	// Pattern: <amount> <from_token> TO <to_token>
	// Matches: "100 USDC TO DAI", "0.5 WETH TO USDT"
	pattern := regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Z0-9.]+)\s+TO\s+([A-Z0-9.]+)$`)

	matches := pattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid switch command format. Expected: 'switch <amount> <token> to <token>' (e.g., 'switch 100 USDC to DAI')")
	}

	if matches[2] == matches[3] {
		return nil, fmt.Errorf("source and destination debt assets must differ")
	}

	return &SwitchRequest{
		Amount:    matches[1],
		FromToken: matches[2],
		ToToken:   matches[3],
	}, nil
}

// ValidateSwitchRequest validates that a switch request has all required fields
func ValidateSwitchRequest(req *SwitchRequest) error {
	if req.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	if req.FromToken == "" {
		return fmt.Errorf("source debt asset is required")
	}
	if req.ToToken == "" {
		return fmt.Errorf("destination debt asset is required")
	}
	return nil
}
