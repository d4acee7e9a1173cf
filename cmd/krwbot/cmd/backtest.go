package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/krwbot/backtest"
	"github.com/rustyeddy/krwbot/config"
	"github.com/rustyeddy/krwbot/journal"
	"github.com/rustyeddy/krwbot/logging"
	"github.com/rustyeddy/krwbot/market"
	"github.com/rustyeddy/krwbot/pkg/id"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay the strategy against historical candles",
	Long: `Backtest replays the trading strategy bar by bar over a candle CSV
(time,open,high,low,close,volume; plain or xz-compressed) and prints a
performance summary. Replays are deterministic: the same dataset and
parameters always produce the same result.

Example:
  krwbot backtest -t data/usdt_krw_1h.csv -s split_buy -r report.org`,
	RunE: runBacktest,
}

var (
	btDataset    string
	btConfigPath string
	btVariant    string
	btBalance    float64
	btSlippage   float64
	btDBPath     string
	btReportPath string

	btSynthetic  int
	btSynthBase  float64
	btSynthVol   float64
	btSynthDrift float64
	btSynthSeed  int64
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&btDataset, "candles", "t", "", "path to candle CSV (required unless set in config)")
	backtestCmd.Flags().StringVarP(&btConfigPath, "config", "f", "", "optional config file overriding strategy defaults")
	backtestCmd.Flags().StringVarP(&btVariant, "strategy", "s", "", "strategy variant (single, split_buy)")
	backtestCmd.Flags().Float64VarP(&btBalance, "balance", "b", backtest.DefaultInitialBalance, "starting KRW balance")
	backtestCmd.Flags().Float64Var(&btSlippage, "slippage", backtest.DefaultSlippageRate, "market order slippage rate")
	backtestCmd.Flags().StringVarP(&btDBPath, "db", "d", "", "optional SQLite journal DB for trades and equity")
	backtestCmd.Flags().StringVarP(&btReportPath, "report", "r", "", "optional org-mode report output path")

	backtestCmd.Flags().IntVar(&btSynthetic, "synthetic", 0, "generate N random-walk bars instead of loading a dataset")
	backtestCmd.Flags().Float64Var(&btSynthBase, "base", 1330, "synthetic: starting price")
	backtestCmd.Flags().Float64Var(&btSynthVol, "vol", 1.5, "synthetic: per-bar volatility in KRW")
	backtestCmd.Flags().Float64Var(&btSynthDrift, "drift", 0, "synthetic: per-bar mean price change")
	backtestCmd.Flags().Int64Var(&btSynthSeed, "seed", 42, "synthetic: random seed")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if btConfigPath != "" {
		loaded, err := config.LoadFromFile(btConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if btVariant != "" {
		cfg.Strategy.Variant = btVariant
	}
	params, err := cfg.Strategy.Params()
	if err != nil {
		return fmt.Errorf("strategy params: %w", err)
	}

	dataset := btDataset
	if dataset == "" {
		dataset = cfg.Backtest.Dataset
	}

	var series market.Series
	switch {
	case btSynthetic > 0:
		dataset = fmt.Sprintf("synthetic(bars=%d seed=%d)", btSynthetic, btSynthSeed)
		series = market.Synthetic(market.SyntheticConfig{
			Bars:       btSynthetic,
			BasePrice:  btSynthBase,
			Volatility: btSynthVol,
			Drift:      btSynthDrift,
			Seed:       btSynthSeed,
		})
	case dataset != "":
		series, err = market.LoadCSV(dataset)
		if err != nil {
			return fmt.Errorf("load dataset: %w", err)
		}
	default:
		return fmt.Errorf("no dataset: pass --candles or --synthetic, or set backtest.dataset in the config")
	}

	balance := btBalance
	if !cmd.Flags().Changed("balance") && cfg.Backtest.InitialBalance > 0 {
		balance = cfg.Backtest.InitialBalance
	}
	slippage := btSlippage
	if !cmd.Flags().Changed("slippage") && cfg.Backtest.SlippageRate > 0 {
		slippage = cfg.Backtest.SlippageRate
	}
	reportPath := btReportPath
	if reportPath == "" {
		reportPath = cfg.Backtest.ReportPath
	}

	var j journal.Journal = journal.Nop{}
	if btDBPath != "" {
		sj, err := journal.NewSQLite(btDBPath)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sj.Close()
		j = sj
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	engine, err := backtest.NewEngine(backtest.Config{
		Params:         params,
		InitialBalance: balance,
		SlippageRate:   slippage,
		Dataset:        dataset,
		Journal:        j,
		Log:            logger.WithField("symbol", params.Symbol),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Running backtest: %s %s\n", params.Symbol, params.Interval)
	fmt.Printf("  Dataset: %s (%d bars)\n", dataset, series.Len())
	fmt.Printf("  Variant: %s\n\n", variantName(cfg.Strategy.Variant))

	result, err := engine.Run(context.Background(), series)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	printResult(result)

	if reportPath != "" {
		report := result.Report(id.New(), variantName(cfg.Strategy.Variant), params.Interval, dataset)
		if err := report.WriteOrg(reportPath); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("\n✓ Report written: %s\n", reportPath)
	}
	return nil
}

func variantName(v string) string {
	if v == "" {
		return "single"
	}
	return v
}

func printResult(r backtest.Result) {
	fmt.Printf("Backtest Complete!\n")
	fmt.Printf("  Period: %s .. %s (%d bars)\n",
		r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339), r.Bars)
	fmt.Printf("  Balance: %.0f -> %.0f KRW\n", r.StartBalance, r.EndBalance)
	fmt.Printf("  Net P/L: %.0f KRW (%.2f%%)\n", r.NetPNL, r.ReturnPct)
	fmt.Printf("  Trades: %d (%d wins, %d losses, win rate %.1f%%)\n",
		len(r.Trades), r.Wins, r.Losses, r.WinRate*100)
	fmt.Printf("  Fees: %.0f KRW\n", r.TotalFees)
	fmt.Printf("  Max Drawdown: %.2f%%\n", r.MaxDrawdownPct)

	if len(r.ExitReasons) > 0 {
		reasons := make([]string, 0, len(r.ExitReasons))
		for reason := range r.ExitReasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)

		fmt.Printf("  Exits:\n")
		for _, reason := range reasons {
			fmt.Printf("    %-16s %d\n", reason, r.ExitReasons[reason])
		}
	}
}
