package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"debtswitch/pkg/amount"
	"debtswitch/pkg/auth"
	"debtswitch/pkg/parser"
	"debtswitch/pkg/swap"
	"debtswitch/pkg/types"
)

var (
	slippageBpsFlag int64
	useApproval     bool
	noConfirm       bool
)

var switchCmd = &cobra.Command{
	Use:   "switch <amount> <from-asset> to <to-asset>",
	Short: "Switch a borrowed asset for another inside your lending position",
	Long: `Switch part of your debt from one asset to another in a single atomic
transaction. The amount is the old debt being repaid, in human units.

The adapter contract needs permission to pull the new debt on your behalf.
By default that permission is a gasless EIP-712 delegation signature; pass
--approval to grant an on-chain allowance instead.

Examples:
  debtswitch switch 100 USDC to DAI
  debtswitch switch 0.5 WETH to USDT --slippage-bps 50
  debtswitch switch 100 USDC to DAI --approval --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSwitch,
}

func init() {
	rootCmd.AddCommand(switchCmd)

	switchCmd.Flags().Int64Var(&slippageBpsFlag, "slippage-bps", -1, "Slippage tolerance in basis points (default from config)")
	switchCmd.Flags().BoolVar(&useApproval, "approval", false, "Use an on-chain approval transaction instead of a signature")
	switchCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompts")
}

func runSwitch(cmd *cobra.Command, args []string) {
	// Parse the command
	commandStr := strings.Join(args, " ")
	switchReq, err := parser.ParseSwitchCommand(commandStr)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx := context.Background()
	a, err := newApp(ctx, verbose)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()

	slippageBps := a.cfg.SlippageBps
	if slippageBpsFlag >= 0 {
		if slippageBpsFlag >= 10000 {
			printError(fmt.Errorf("slippage-bps must be below 10000"))
			os.Exit(1)
		}
		slippageBps = slippageBpsFlag
	}

	// Resolve both assets, debt tokens included
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Resolving assets..."
		s.Start()
	}

	fromAsset, err := a.resolveAsset(ctx, switchReq.FromToken)
	if err != nil {
		if !jsonOutput {
			s.Stop()
		}
		printError(err)
		os.Exit(1)
	}
	toAsset, err := a.resolveAsset(ctx, switchReq.ToToken)
	if err != nil {
		if !jsonOutput {
			s.Stop()
		}
		printError(err)
		os.Exit(1)
	}

	if err := runResolvedSwitch(ctx, a, s, switchReq.Amount, fromAsset, toAsset, slippageBps, jsonOutput); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func runResolvedSwitch(ctx context.Context, a *app, s *spinner.Spinner, humanAmount string, fromAsset, toAsset types.AssetRef, slippageBps int64, jsonOutput bool) error {
	repayAmount, err := amount.ToBaseUnits(humanAmount, fromAsset.Decimals)
	if err != nil {
		if !jsonOutput {
			s.Stop()
		}
		return err
	}
	if repayAmount.Sign() == 0 {
		if !jsonOutput {
			s.Stop()
		}
		return fmt.Errorf("amount must be greater than 0")
	}

	// Invalidate any cached permit scoped to a different debt token before
	// this attempt.
	if err := a.authMgr.OnAssetChanged(toAsset.DebtTokenAddress); err != nil {
		a.log.WithError(err).Warn("failed to invalidate stale permits")
	}

	// Fetch the quote up front so the user can see it before confirming
	a.quoteMgr.SetPair(fromAsset, toAsset)
	a.quoteMgr.SetAmount(repayAmount)
	if !jsonOutput {
		s.Suffix = " Fetching quote..."
	}
	quote, err := a.quoteMgr.FetchQuote(ctx)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return err
	}
	if quote == nil {
		return fmt.Errorf("no quote available for %s -> %s", fromAsset.Symbol, toAsset.Symbol)
	}

	if !jsonOutput {
		displaySwitchQuote(quote, fromAsset, toAsset, slippageBps)
		if !noConfirm && !a.cfg.AutoConfirm {
			if !confirmPrompt("Proceed with debt switch?") {
				fmt.Println("\nSwitch cancelled.")
				return nil
			}
		}
	}

	orch := a.orchestrator()
	if noConfirm || a.cfg.AutoConfirm || jsonOutput {
		orch.ConfirmSend = nil
		a.authMgr.Confirm = nil
	} else {
		orch.ConfirmSend = func(summary string) bool {
			return confirmPrompt("Submit transaction: " + summary + "?")
		}
		a.authMgr.Confirm = func(action string) bool {
			return confirmPrompt("The adapter needs permission to pull new debt. Proceed to " + action + "?")
		}
	}

	if !jsonOutput {
		s.Suffix = " Switching debt..."
		s.Start()
		orch.OnState = func(state swap.State) {
			s.Suffix = " " + stateLabel(state)
		}
	}

	pref := auth.PreferSignature
	if useApproval {
		pref = auth.PreferApproval
	}

	result, err := orch.Run(ctx, swap.Request{
		FromAsset:   fromAsset,
		ToAsset:     toAsset,
		RepayAmount: repayAmount,
		SlippageBps: slippageBps,
		RateMode:    types.RateMode(a.cfg.RateMode),
		Preference:  pref,
	})
	if !jsonOutput {
		s.Stop()
	}

	if jsonOutput {
		return printSwitchJSON(result, err)
	}

	if err != nil {
		return err
	}
	if result.Cancelled {
		fmt.Println("\nSwitch cancelled.")
		return nil
	}

	color.Green("\n✓ Debt switch confirmed!")
	fmt.Printf("  Transaction: %s\n", color.CyanString(result.TxHash.Hex()))
	if result.ManuallyVerified {
		color.Yellow("  Receipt unavailable; inclusion verified by transaction lookup. Check the explorer for final status.")
	} else {
		fmt.Printf("  Gas used:    %d\n", result.GasUsed)
	}
	fmt.Println("\nYou can check the transaction later using:")
	color.Cyan("  debtswitch status %s\n", result.TxHash.Hex())

	return nil
}

func printSwitchJSON(result *swap.Result, err error) error {
	output := map[string]interface{}{}
	if err != nil {
		output["status"] = "failed"
		output["error"] = err.Error()
	} else if result.Cancelled {
		output["status"] = "cancelled"
	} else {
		output["status"] = "succeeded"
		output["tx_hash"] = result.TxHash.Hex()
		output["gas_used"] = result.GasUsed
		output["transaction_id"] = result.TransactionID
		output["manually_verified"] = result.ManuallyVerified
	}
	jsonData, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(string(jsonData))
	if err != nil {
		os.Exit(1)
	}
	return nil
}

func displaySwitchQuote(quote *types.Quote, fromAsset, toAsset types.AssetRef, slippageBps int64) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                    DEBT SWITCH QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Repaying:        %s %s\n",
		amount.FormatUnits(quote.DestAmount, fromAsset.Decimals), color.YellowString(fromAsset.Symbol))
	fmt.Printf("  New debt:        %s %s\n",
		amount.FormatUnits(quote.SrcAmount, toAsset.Decimals), color.YellowString(toAsset.Symbol))
	fmt.Printf("  Max new debt:    %s %s (buffer %d bps)\n",
		amount.FormatUnits(amount.BufferedCeiling(quote.SrcAmount, quote.BufferBps), toAsset.Decimals),
		toAsset.Symbol, quote.BufferBps)
	fmt.Printf("  Min repaid:      %s %s (slippage %d bps)\n",
		amount.FormatUnits(amount.MinimumOut(quote.DestAmount, slippageBps), fromAsset.Decimals),
		fromAsset.Symbol, slippageBps)
	fmt.Printf("  Fee:             %d bps\n", quote.FeeBps)
	fmt.Printf("  Settlement:      %s\n", color.HiBlackString(quote.SettlementContract.Hex()))

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func stateLabel(state swap.State) string {
	switch state {
	case swap.StateQuoteCheck:
		return "Validating quote..."
	case swap.StateAuthorizing:
		return "Authorizing adapter..."
	case swap.StateBuildingCalldata:
		return "Building transaction..."
	case swap.StateEstimatingGas:
		return "Estimating gas..."
	case swap.StateAwaitingConfirmation:
		return "Awaiting confirmation..."
	case swap.StateSubmitted:
		return "Transaction submitted..."
	case swap.StateConfirmingReceipt:
		return "Waiting for receipt..."
	default:
		return "Working..."
	}
}
