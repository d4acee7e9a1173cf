package journal

import (
	"bytes"
	"os"
	"text/template"
	"time"
)

// RunReport summarizes one backtest run for the org-mode export.
type RunReport struct {
	RunID     string
	Created   time.Time
	Symbol    string
	Variant   string
	Timeframe string
	Dataset   string

	Start time.Time
	End   time.Time

	StartBalance float64
	EndBalance   float64

	Trades int
	Wins   int
	Losses int

	NetPNL      float64
	ReturnPct   float64
	WinRate     float64
	MaxDDPct    float64
	TotalFees   float64
	ExitReasons map[string]int
}

var reportFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
}

// WriteOrg renders the run as an org-mode block at path.
func (r *RunReport) WriteOrg(path string) error {
	t, err := template.New("report").Funcs(reportFuncs).Parse(runOrgTemplate)
	if err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	if err := t.Execute(buf, r); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

const runOrgTemplate = `
* BACKTEST: {{.Variant}} {{.Symbol}}/KRW {{if .Timeframe}}{{.Timeframe}}{{else}}(timeframe?){{end}}
:PROPERTIES:
:RUN_ID:      {{if .RunID}}{{.RunID}}{{else}}(run-id?){{end}}
:VARIANT:     {{.Variant}}
:TIMEFRAME:   {{if .Timeframe}}{{.Timeframe}}{{else}}(timeframe?){{end}}
:SYMBOL:      {{.Symbol}}
:DATASET:     {{if .Dataset}}{{.Dataset}}{{else}}(dataset?){{end}}
:START_DATE:  {{.Start.Format "2006-01-02"}}
:END_DATE:    {{.End.Format "2006-01-02"}}
:START_BAL:   {{printf "%.0f" .StartBalance}}
:END_BAL:     {{printf "%.0f" .EndBalance}}
:NET_PNL:     {{printf "%.0f" .NetPNL}}
:RETURN_PCT:  {{printf "%.2f" .ReturnPct}}
:MAX_DD_PCT:  {{printf "%.2f" .MaxDDPct}}
:TRADES:      {{.Trades}}
:WINS:        {{.Wins}}
:LOSSES:      {{.Losses}}
:WIN_RATE:    {{printf "%.2f" (mul100 .WinRate)}}
:FEES:        {{printf "%.0f" .TotalFees}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Performance Summary
- Net P/L:      *{{printf "%.0f" .NetPNL}} KRW*
- Return:       *{{printf "%.2f" .ReturnPct}}%*
- Max Drawdown: *{{printf "%.2f" .MaxDDPct}}%*
- Win Rate:     *{{printf "%.2f" (mul100 .WinRate)}}%*
- Fees Paid:    *{{printf "%.0f" .TotalFees}} KRW*

** Exit Reasons
| Reason | Count |
|--------+-------|
{{- range $reason, $count := .ExitReasons }}
| {{$reason}} | {{$count}} |
{{- end }}

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Wins    | {{.Wins}} |
| Losses  | {{.Losses}} |
| Total   | {{.Trades}} |
`
