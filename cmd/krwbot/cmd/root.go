package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "krwbot",
	Short: "An automated USDT/KRW trading bot for the Coinone exchange",
	Long: `Krwbot trades the USDT/KRW pair on Coinone using an RSI/EMA momentum
strategy with limit entries, a fixed profit target and time-based exits.

It provides tools for:
  - Running the live trading loop (real or paper orders)
  - Backtesting the strategy against historical candle data
  - Journaling trades and equity curves to SQLite or CSV
  - Generating org-mode run reports

Complete documentation is available at https://github.com/rustyeddy/krwbot`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
