package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"debtswitch/pkg/amount"
	"debtswitch/pkg/auth"
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Manage the adapter's permission to pull new debt",
}

var authorizeApproveCmd = &cobra.Command{
	Use:   "approve <asset> <amount>",
	Short: "Grant the adapter an on-chain borrow allowance",
	Long: `Submit an on-chain approveDelegation transaction granting the adapter
contract an allowance on the asset's debt token, and wait for it to confirm.

Examples:
  debtswitch authorize approve DAI 1000
  debtswitch authorize approve DAI 1000 --yes`,
	Args: cobra.ExactArgs(2),
	Run:  runAuthorizeApprove,
}

var authorizeForgetCmd = &cobra.Command{
	Use:   "forget <asset>",
	Short: "Forget the cached authorization for an asset",
	Long: `Drop the cached delegation signature for the asset's debt token and force
the next switch to collect a fresh one. The flag survives restarts.

Examples:
  debtswitch authorize forget DAI`,
	Args: cobra.ExactArgs(1),
	Run:  runAuthorizeForget,
}

var approveNoConfirm bool

func init() {
	rootCmd.AddCommand(authorizeCmd)
	authorizeCmd.AddCommand(authorizeApproveCmd)
	authorizeCmd.AddCommand(authorizeForgetCmd)

	authorizeApproveCmd.Flags().BoolVarP(&approveNoConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runAuthorizeApprove(cmd *cobra.Command, args []string) {
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx := context.Background()
	a, err := newApp(ctx, verbose)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()

	asset, err := a.resolveAsset(ctx, args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	ceiling, err := amount.ToBaseUnits(args[1], asset.Decimals)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if !approveNoConfirm && !a.cfg.AutoConfirm {
		a.authMgr.Confirm = confirmPrompt
	}

	result, err := a.authMgr.Ensure(ctx, asset.DebtTokenAddress, ceiling, auth.PreferApproval)
	if err != nil {
		if err == auth.ErrUserCancelled {
			fmt.Println("\nApproval cancelled.")
			return
		}
		printError(err)
		os.Exit(1)
	}

	if result.Allowance != nil {
		printSuccess(fmt.Sprintf("Adapter allowance for %s is now %s", asset.Symbol,
			amount.FormatUnits(result.Allowance, asset.Decimals)))
	} else {
		// A cached signature already covered the ceiling.
		color.Yellow("\nA cached delegation signature already covers %s %s; no approval needed.\n",
			args[1], asset.Symbol)
	}
}

func runAuthorizeForget(cmd *cobra.Command, args []string) {
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx := context.Background()
	a, err := newApp(ctx, verbose)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()

	asset, err := a.resolveAsset(ctx, args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if err := a.authMgr.Forget(ctx, asset.DebtTokenAddress); err != nil {
		printError(err)
		os.Exit(1)
	}

	printSuccess(fmt.Sprintf("Cached authorization for %s forgotten. The next switch will request a fresh signature.", asset.Symbol))
}
