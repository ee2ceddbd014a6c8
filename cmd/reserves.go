package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"debtswitch/config"
	"debtswitch/pkg/client"
	"debtswitch/pkg/types"
)

var filterSymbol string

var reservesCmd = &cobra.Command{
	Use:     "reserves",
	Aliases: []string{"list-reserves", "ls"},
	Short:   "List borrowable reserves",
	Long: `List the reserves you can hold debt in on the configured chain.

Examples:
  debtswitch reserves
  debtswitch reserves --symbol USD`,
	Run: runListReserves,
}

func init() {
	rootCmd.AddCommand(reservesCmd)

	reservesCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by reserve symbol")
}

func runListReserves(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	// Create client
	apiClient := client.New(cfg.APIBaseURL)

	// Get reserves with spinner
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching reserves..."
		s.Start()
	}

	reserves, err := apiClient.GetReserves(context.Background(), cfg.ChainID)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	// Apply filter
	if filterSymbol != "" {
		var filtered []types.Reserve
		for _, reserve := range reserves {
			if strings.Contains(strings.ToUpper(reserve.Symbol), strings.ToUpper(filterSymbol)) {
				filtered = append(filtered, reserve)
			}
		}
		reserves = filtered
	}

	// Output
	if jsonOutput {
		jsonData, _ := json.MarshalIndent(reserves, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayReserves(reserves, cfg.ChainID)
	}
}

func displayReserves(reserves []types.Reserve, chainID int64) {
	if len(reserves) == 0 {
		fmt.Println("\nNo reserves found matching the criteria.")
		return
	}

	sort.Slice(reserves, func(i, j int) bool {
		return reserves[i].Symbol < reserves[j].Symbol
	})

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                          BORROWABLE RESERVES")
	fmt.Println(strings.Repeat("=", 90))

	for _, reserve := range reserves {
		apy := reserve.BorrowAPY
		if apy == "" {
			apy = "-"
		}
		fmt.Printf("  %-10s  %2d decimals  APY %-8s  %s\n",
			color.YellowString(reserve.Symbol),
			reserve.Decimals,
			apy,
			color.HiBlackString(reserve.Address))
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d reserves on chain %d\n\n", len(reserves), chainID)
}
