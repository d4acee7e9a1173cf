package strategy

import (
	"fmt"
	"time"
)

// TrancheSpec describes one entry tranche. Ratio is the share of the KRW
// balance committed at entry time; PriceOffset is added to the running
// average price to set the tranche's limit price. The first tranche always
// buys at the best ask, so its offset is ignored.
type TrancheSpec struct {
	Ratio       float64
	PriceOffset float64
}

// Params is the pluggable rule-set a Machine runs. The live bot, the
// split-buy variant and the backtests all share one Machine and differ only
// in this value object.
type Params struct {
	Symbol   string
	Interval string

	RSIPeriod int
	EMAPeriod int

	// CandleLimit is how many bars are fetched per cycle. It must cover the
	// indicator warmup.
	CandleLimit int

	EMASlope3Min float64
	EMASlope5Min float64

	ProfitTarget  float64 // KRW above average entry
	MaxHold       time.Duration
	RSIOverbought float64
	Cooldown      time.Duration

	FillWait     time.Duration
	PollInterval time.Duration

	// CycleInterval is the live loop's pace; each tick fetches candles and
	// runs one state-machine step.
	CycleInterval time.Duration

	// MinOrderKRW skips entries the exchange would reject as dust;
	// MaxOrderKRW caps any single order's notional.
	MinOrderKRW float64
	MaxOrderKRW float64

	// Exchange fee table. Limit orders are free on this venue; market
	// orders pay 2 bps.
	LimitFeeRate  float64
	MarketFeeRate float64

	Tranches []TrancheSpec
}

// DefaultParams is the single-shot rule set: the whole balance in one
// tranche at the best ask.
func DefaultParams() Params {
	return Params{
		Symbol:        "USDT",
		Interval:      "1h",
		RSIPeriod:     14,
		EMAPeriod:     20,
		CandleLimit:   100,
		EMASlope3Min:  0.3,
		EMASlope5Min:  0.2,
		ProfitTarget:  4,
		MaxHold:       24 * time.Hour,
		RSIOverbought: 70,
		Cooldown:      time.Hour,
		FillWait:      10 * time.Minute,
		PollInterval:  5 * time.Second,
		CycleInterval: time.Minute,
		MinOrderKRW:   1000,
		MaxOrderKRW:   10_000_000,
		LimitFeeRate:  0,
		MarketFeeRate: 0.0002,
		Tranches:      []TrancheSpec{{Ratio: 1.0}},
	}
}

// SplitBuyParams is the three-tranche variant: 30% at the ask, then 30% and
// 40% as resting limit buys 2 KRW under the running average.
func SplitBuyParams() Params {
	p := DefaultParams()
	p.Tranches = []TrancheSpec{
		{Ratio: 0.30},
		{Ratio: 0.30, PriceOffset: -2},
		{Ratio: 0.40, PriceOffset: -2},
	}
	return p
}

// Validate rejects parameter sets the machine cannot run.
func (p Params) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if p.RSIPeriod <= 0 || p.EMAPeriod <= 0 {
		return fmt.Errorf("indicator periods must be positive")
	}
	if p.CandleLimit < p.RSIPeriod+6 || p.CandleLimit < p.EMAPeriod {
		return fmt.Errorf("candle_limit %d too small for indicator warmup", p.CandleLimit)
	}
	if p.ProfitTarget <= 0 {
		return fmt.Errorf("profit_target must be positive")
	}
	if p.MaxHold <= 0 || p.Cooldown < 0 {
		return fmt.Errorf("max_hold must be positive and cooldown non-negative")
	}
	if p.RSIOverbought <= 0 || p.RSIOverbought > 100 {
		return fmt.Errorf("rsi_overbought must be in (0,100]")
	}
	if p.MinOrderKRW < 0 || (p.MaxOrderKRW > 0 && p.MaxOrderKRW < p.MinOrderKRW) {
		return fmt.Errorf("order size bounds min=%v max=%v are inconsistent", p.MinOrderKRW, p.MaxOrderKRW)
	}
	if len(p.Tranches) == 0 {
		return fmt.Errorf("at least one entry tranche is required")
	}
	total := 0.0
	for i, tr := range p.Tranches {
		if tr.Ratio <= 0 || tr.Ratio > 1 {
			return fmt.Errorf("tranche %d ratio %v out of (0,1]", i, tr.Ratio)
		}
		total += tr.Ratio
	}
	if total > 1.0+1e-9 {
		return fmt.Errorf("tranche ratios sum to %v, exceeding the balance", total)
	}
	return nil
}
