package settlement

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/stat"

	"github.com/minitrade/binarybot/core"
)

// Summary collects statistics about settled trades on a single market
type Summary struct {
	Market     string
	WinUp      []float64
	WinDown    []float64
	LossUp     []float64
	LossDown   []float64
	Pushes     int
	Volume     float64
	ReviewFlag int
}

// Win returns the profits of all winning trades in either direction
func (s Summary) Win() []float64 {
	return append(s.WinUp, s.WinDown...)
}

// Loss returns the losses of all losing trades in either direction
func (s Summary) Loss() []float64 {
	return append(s.LossUp, s.LossDown...)
}

// Profit calculates the net profit across all settled trades
func (s Summary) Profit() float64 {
	all := append(s.Win(), s.Loss()...)
	sum := 0.0
	for _, v := range all {
		sum += v
	}
	return sum
}

// WinRate calculates the percentage of winning trades among decided ones
func (s Summary) WinRate() float64 {
	wins := len(s.Win())
	total := wins + len(s.Loss())
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total) * 100
}

// Payoff calculates the ratio of average win to average loss
func (s Summary) Payoff() float64 {
	wins, losses := s.Win(), s.Loss()
	if len(wins) == 0 || len(losses) == 0 {
		return 0
	}

	avgLoss := stat.Mean(losses, nil)
	if avgLoss == 0 {
		return 0
	}

	return math.Abs(stat.Mean(wins, nil) / avgLoss)
}

// ProfitFactor calculates the ratio of gross profits to gross losses
func (s Summary) ProfitFactor() float64 {
	var grossWin, grossLoss float64
	for _, v := range s.Win() {
		grossWin += v
	}
	for _, v := range s.Loss() {
		grossLoss += v
	}

	if grossLoss == 0 {
		return 0
	}
	return math.Abs(grossWin / grossLoss)
}

// SQN (System Quality Number) measures the consistency of the outcomes
// SQN = sqrt(n) * (average profit / standard deviation)
func (s Summary) SQN() float64 {
	all := append(s.Win(), s.Loss()...)
	if len(all) < 2 {
		return 0
	}

	mean, std := stat.MeanStdDev(all, nil)
	if std == 0 {
		return 0
	}

	return math.Sqrt(float64(len(all))) * (mean / std)
}

// String formats the summary as a text table
func (s Summary) String() string {
	tableString := &strings.Builder{}
	table := tablewriter.NewWriter(tableString)

	data := [][]string{
		{"Market", s.Market},
		{"Trades", strconv.Itoa(len(s.Win()) + len(s.Loss()) + s.Pushes)},
		{"Win", strconv.Itoa(len(s.Win()))},
		{"Loss", strconv.Itoa(len(s.Loss()))},
		{"Push", strconv.Itoa(s.Pushes)},
		{"% Win", fmt.Sprintf("%.1f", s.WinRate())},
		{"Payoff", fmt.Sprintf("%.1f", s.Payoff()*100)},
		{"Pr.Fact", fmt.Sprintf("%.1f", s.ProfitFactor()*100)},
		{"SQN", fmt.Sprintf("%.2f", s.SQN())},
		{"Profit", fmt.Sprintf("%.2f USD", s.Profit())},
		{"Volume", fmt.Sprintf("%.2f USD", s.Volume)},
	}

	if s.ReviewFlag > 0 {
		data = append(data, []string{"Review", strconv.Itoa(s.ReviewFlag)})
	}

	table.AppendBulk(data)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	table.Render()

	return tableString.String()
}

// BuildSummary aggregates the ledger's settled trades for a market
func BuildSummary(ctx context.Context, ledger core.Ledger, market string) (*Summary, error) {
	trades, err := ledger.Trades(ctx, core.WithMarket(market))
	if err != nil {
		return nil, err
	}

	summary := &Summary{Market: market}
	for _, trade := range trades {
		if !trade.Settled() {
			continue
		}

		summary.Volume += trade.Amount
		if trade.NeedsReview {
			summary.ReviewFlag++
		}

		switch trade.Result {
		case core.TradeResultPush:
			summary.Pushes++
		case core.TradeResultWin:
			if trade.Direction == core.DirectionUp {
				summary.WinUp = append(summary.WinUp, trade.Profit)
			} else {
				summary.WinDown = append(summary.WinDown, trade.Profit)
			}
		case core.TradeResultLoss:
			if trade.Direction == core.DirectionUp {
				summary.LossUp = append(summary.LossUp, trade.Profit)
			} else {
				summary.LossDown = append(summary.LossDown, trade.Profit)
			}
		}
	}

	return summary, nil
}
