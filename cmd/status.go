package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"debtswitch/pkg/wallet"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <tx-hash>",
	Short: "Check the status of a switch transaction",
	Long: `Look up a switch transaction by hash and report whether it is pending,
confirmed, or reverted.

Examples:
  debtswitch status 0x1234...abcd
  debtswitch status 0x1234...abcd --watch
  debtswitch status 0x1234...abcd --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates continuously")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func runStatus(cmd *cobra.Command, args []string) {
	txHashArg := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")
	verbose, _ := cmd.Flags().GetBool("verbose")

	if !strings.HasPrefix(txHashArg, "0x") || len(txHashArg) != 66 {
		printError(fmt.Errorf("invalid transaction hash: %s", txHashArg))
		os.Exit(1)
	}
	txHash := common.HexToHash(txHashArg)

	ctx := context.Background()
	a, err := newApp(ctx, verbose)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()

	if watchStatus {
		watchTxStatus(ctx, a.wallet, txHash, jsonOutput)
	} else {
		checkTxStatus(ctx, a.wallet, txHash, jsonOutput)
	}
}

func checkTxStatus(ctx context.Context, w *wallet.Wallet, txHash common.Hash, jsonOutput bool) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking transaction status..."
		s.Start()
	}

	receipt, pending, err := lookupTx(ctx, w, txHash)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		output := map[string]interface{}{
			"tx_hash": txHash.Hex(),
			"status":  statusString(receipt, pending),
		}
		if receipt != nil {
			output["block_number"] = receipt.BlockNumber.Uint64()
			output["gas_used"] = receipt.GasUsed
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayTxStatus(txHash, receipt, pending)
	}
}

func watchTxStatus(ctx context.Context, w *wallet.Wallet, txHash common.Hash, jsonOutput bool) {
	if jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		os.Exit(1)
	}

	fmt.Printf("\nWatching transaction %s\n", color.CyanString(txHash.Hex()))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	// Check immediately first
	if done := checkAndDisplayTxStatus(ctx, w, txHash); done {
		return
	}

	// Then check periodically
	for range ticker.C {
		if done := checkAndDisplayTxStatus(ctx, w, txHash); done {
			return
		}
	}
}

func checkAndDisplayTxStatus(ctx context.Context, w *wallet.Wallet, txHash common.Hash) bool {
	receipt, pending, err := lookupTx(ctx, w, txHash)
	if err != nil {
		color.Red("Error: %v", err)
		return false
	}

	displayTxStatus(txHash, receipt, pending)
	return receipt != nil
}

// lookupTx fetches the receipt if mined, falling back to transaction-by-hash
// to distinguish pending from unknown.
func lookupTx(ctx context.Context, w *wallet.Wallet, txHash common.Hash) (*ethtypes.Receipt, bool, error) {
	receipt, err := w.TransactionReceipt(ctx, txHash)
	if err == nil {
		return receipt, false, nil
	}

	found, err := w.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, false, err
	}
	if !found && w.HasFallback() {
		found, _ = w.TransactionByHashFallback(ctx, txHash)
	}
	if !found {
		return nil, false, fmt.Errorf("transaction %s not known to any configured endpoint", txHash.Hex())
	}

	return nil, true, nil
}

func statusString(receipt *ethtypes.Receipt, pending bool) string {
	switch {
	case pending:
		return "PENDING"
	case receipt == nil:
		return "UNKNOWN"
	case receipt.Status == ethtypes.ReceiptStatusSuccessful:
		return "CONFIRMED"
	default:
		return "REVERTED"
	}
}

func displayTxStatus(txHash common.Hash, receipt *ethtypes.Receipt, pending bool) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                     TRANSACTION STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Transaction: %s\n", color.CyanString(txHash.Hex()))
	fmt.Printf("  Status:      %s\n", coloredTxStatus(statusString(receipt, pending)))

	if receipt != nil {
		fmt.Printf("  Block:       %d\n", receipt.BlockNumber.Uint64())
		fmt.Printf("  Gas Used:    %d\n", receipt.GasUsed)
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func coloredTxStatus(status string) string {
	switch status {
	case "CONFIRMED":
		return color.GreenString(status)
	case "PENDING":
		return color.YellowString(status)
	case "REVERTED":
		return color.RedString(status)
	default:
		return status
	}
}
