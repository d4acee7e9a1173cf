package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("krwbot version %s\n", version)
		fmt.Println("An automated USDT/KRW trading bot for the Coinone exchange")
		fmt.Println("https://github.com/rustyeddy/krwbot")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
