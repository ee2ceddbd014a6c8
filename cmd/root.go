package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "debtswitch",
	Short: "A CLI for switching borrowed assets inside a lending position",
	Long: `debtswitch is a command-line tool that replaces one borrowed asset with
another inside a lending-protocol position without repaying out of pocket.
It sources a swap route, authorizes the protocol adapter to pull a bounded
amount of new debt, and submits a single atomic transaction that repays the
old debt with the swapped proceeds.

Examples:
  debtswitch switch 100 USDC to DAI
  debtswitch quote 100 USDC to DAI
  debtswitch reserves
  debtswitch authorize forget DAI
  debtswitch status <tx-hash>`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

// newLogger builds the logger shared by the library packages.
func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}
