package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"debtswitch/pkg/amount"
	"debtswitch/pkg/parser"
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <from-asset> to <to-asset>",
	Short: "Preview a debt switch quote without executing it",
	Long: `Fetch the current route for a debt switch and show the required new debt,
without authorizing or submitting anything.

Examples:
  debtswitch quote 100 USDC to DAI
  debtswitch quote 0.5 WETH to USDT --json`,
	Args: cobra.MinimumNArgs(1),
	Run:  runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)
}

func runQuote(cmd *cobra.Command, args []string) {
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

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quote..."
		s.Start()
	}

	fail := func(err error) {
		if !jsonOutput {
			s.Stop()
		}
		printError(err)
		os.Exit(1)
	}

	fromAsset, err := a.resolveAsset(ctx, switchReq.FromToken)
	if err != nil {
		fail(err)
	}
	toAsset, err := a.resolveAsset(ctx, switchReq.ToToken)
	if err != nil {
		fail(err)
	}

	repayAmount, err := amount.ToBaseUnits(switchReq.Amount, fromAsset.Decimals)
	if err != nil {
		fail(err)
	}

	a.quoteMgr.SetPair(fromAsset, toAsset)
	a.quoteMgr.SetAmount(repayAmount)
	quote, err := a.quoteMgr.FetchQuote(ctx)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if quote == nil {
		printError(fmt.Errorf("no quote available for %s -> %s", fromAsset.Symbol, toAsset.Symbol))
		os.Exit(1)
	}

	if jsonOutput {
		output := map[string]interface{}{
			"src_amount":          quote.SrcAmount.String(),
			"dest_amount":         quote.DestAmount.String(),
			"buffer_bps":          quote.BufferBps,
			"fee_bps":             quote.FeeBps,
			"route_version":       quote.RouteVersion,
			"settlement_contract": quote.SettlementContract.Hex(),
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	displaySwitchQuote(quote, fromAsset, toAsset, a.cfg.SlippageBps)
}
