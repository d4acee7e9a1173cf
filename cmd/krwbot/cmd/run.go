package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/krwbot/config"
	"github.com/rustyeddy/krwbot/exchange"
	"github.com/rustyeddy/krwbot/exchange/coinone"
	"github.com/rustyeddy/krwbot/exchange/paper"
	"github.com/rustyeddy/krwbot/journal"
	"github.com/rustyeddy/krwbot/logging"
	"github.com/rustyeddy/krwbot/order"
	"github.com/rustyeddy/krwbot/position"
	"github.com/rustyeddy/krwbot/strategy"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the live trading loop",
	Long: `Run the trading loop against Coinone using settings from a configuration file.

With exchange.dry_run enabled (the default) quotes come from the live public
API but orders are simulated in memory, so no real money moves. Live trading
requires COINONE_ACCESS_TOKEN and COINONE_SECRET_KEY in the environment.

Example:
  krwbot run -f bot.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	params, err := cfg.Strategy.Params()
	if err != nil {
		return fmt.Errorf("strategy params: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logger.WithField("symbol", params.Symbol)

	gw, err := buildGateway(cfg, log)
	if err != nil {
		return err
	}

	j, err := buildJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	defer j.Close()

	ledger := position.NewLedger(params.ProfitTarget)
	orders := order.NewManager(gw, params.Symbol, log)
	m, err := strategy.New(params, gw, orders, ledger, log)
	if err != nil {
		return err
	}

	mode := "live"
	if cfg.Exchange.DryRun {
		mode = "paper"
	}
	log.WithFields(logrus.Fields{
		"mode":     mode,
		"variant":  cfg.Strategy.Variant,
		"interval": params.Interval,
	}).Info("starting trading loop")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	journalLoop(ctx, m, gw, j, params, log)

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("trading loop stopped")
	return nil
}

// buildGateway returns the live Coinone gateway, or the paper gateway wrapping
// Coinone's public market data when dry_run is set.
func buildGateway(cfg *config.Config, log *logrus.Entry) (exchange.Gateway, error) {
	if cfg.Exchange.DryRun {
		quotes := coinone.New("", "")
		if cfg.Exchange.BaseURL != "" {
			quotes.SetBaseURL(cfg.Exchange.BaseURL)
		}
		balance := cfg.Exchange.PaperBalance
		if balance == 0 {
			balance = 1_000_000
		}
		log.WithField("balance_krw", balance).Info("dry run, orders are simulated")
		return paper.New(quotes, map[string]float64{"KRW": balance}), nil
	}

	token, secret, err := cfg.Exchange.Credentials()
	if err != nil {
		return nil, err
	}
	gw := coinone.New(token, secret)
	if cfg.Exchange.BaseURL != "" {
		gw.SetBaseURL(cfg.Exchange.BaseURL)
	}
	return gw, nil
}

func buildJournal(cfg config.JournalConfig) (journal.Journal, error) {
	switch cfg.Type {
	case "csv":
		return journal.NewCSV(cfg.TradesFile, cfg.EquityFile)
	case "sqlite":
		return journal.NewSQLite(cfg.DBPath)
	default:
		return journal.Nop{}, nil
	}
}

// journalLoop persists completed trades and an equity snapshot once per
// strategy cycle until the context is cancelled. It reads only the machine's
// published Snapshot; the ledger itself belongs to the strategy goroutine.
func journalLoop(ctx context.Context, m *strategy.Machine, gw exchange.Gateway, j journal.Journal, params strategy.Params, log *logrus.Entry) {
	ticker := time.NewTicker(params.CycleInterval)
	defer ticker.Stop()

	recorded := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := m.Snapshot()
		if n := snap.TotalTrades - recorded; n > 0 {
			if n > len(snap.RecentTrades) {
				n = len(snap.RecentTrades)
			}
			for _, t := range snap.RecentTrades[len(snap.RecentTrades)-n:] {
				if err := j.RecordTrade(journal.FromPosition(t, params.Symbol)); err != nil {
					log.WithError(err).Warn("record trade")
				}
			}
			recorded = snap.TotalTrades
		}

		if eq, err := equityNow(ctx, snap, gw, params.Symbol); err == nil {
			if err := j.RecordEquity(eq); err != nil {
				log.WithError(err).Warn("record equity")
			}
		}
	}
}

func equityNow(ctx context.Context, snap strategy.Snapshot, gw exchange.Gateway, symbol string) (journal.EquitySnapshot, error) {
	balances, err := gw.Balances(ctx)
	if err != nil {
		return journal.EquitySnapshot{}, err
	}
	tick, err := gw.Ticker(ctx, symbol)
	if err != nil {
		return journal.EquitySnapshot{}, err
	}

	pos := snap.Position
	value := pos.Quantity * tick.Last
	balance := balances["KRW"].Available
	return journal.EquitySnapshot{
		Time:          time.Now(),
		Balance:       balance,
		PositionQty:   pos.Quantity,
		PositionValue: value,
		Equity:        balance + value,
		UnrealizedPNL: (tick.Last - pos.AveragePrice) * pos.Quantity,
	}, nil
}
