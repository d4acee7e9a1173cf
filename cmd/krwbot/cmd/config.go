package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/krwbot/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage configuration files for the trading bot.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  krwbot config init -o bot.yaml
  krwbot config validate -f bot.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "bot.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  krwbot run -f %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	params, err := cfg.Strategy.Params()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	mode := "live"
	if cfg.Exchange.DryRun {
		mode = "paper"
	}
	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Mode: %s\n", mode)
	fmt.Printf("  Strategy: %s %s %s (target +%.0f KRW, max hold %s)\n",
		variantName(cfg.Strategy.Variant), params.Symbol, params.Interval,
		params.ProfitTarget, params.MaxHold)
	fmt.Printf("  Journal: %s\n", journalName(cfg.Journal.Type))
	return nil
}

func journalName(t string) string {
	if t == "" {
		return "none"
	}
	return t
}
