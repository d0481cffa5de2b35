package settlement

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/minitrade/binarybot/core"
	"github.com/minitrade/binarybot/ledger"
)

func settledTrade(id, market string, direction core.DirectionType, result core.TradeResultType, amount, profit float64) *core.Trade {
	return &core.Trade{
		ID:        id,
		UserID:    "u1",
		Market:    market,
		Amount:    amount,
		Direction: direction,
		Mode:      core.ModeDemo,
		Status:    core.TradeStatusSettled,
		Result:    result,
		Profit:    profit,
		SettledAt: time.Now(),
	}
}

func TestBuildSummary(t *testing.T) {
	book, err := ledger.NewFromMemory()
	require.NoError(t, err)
	t.Cleanup(func() { book.Close() })
	ctx := context.Background()

	require.NoError(t, book.AppendTrade(ctx, settledTrade("t1", "BTCUSDT", core.DirectionUp, core.TradeResultWin, 100, 85)))
	require.NoError(t, book.AppendTrade(ctx, settledTrade("t2", "BTCUSDT", core.DirectionDown, core.TradeResultLoss, 50, -50)))
	require.NoError(t, book.AppendTrade(ctx, settledTrade("t3", "BTCUSDT", core.DirectionUp, core.TradeResultPush, 25, 0)))
	require.NoError(t, book.AppendTrade(ctx, settledTrade("t4", "ETHUSDT", core.DirectionUp, core.TradeResultWin, 10, 8.5)))

	summary, err := BuildSummary(ctx, book, "BTCUSDT")
	require.NoError(t, err)

	require.Len(t, summary.Win(), 1)
	require.Len(t, summary.Loss(), 1)
	require.Equal(t, 1, summary.Pushes)
	require.InDelta(t, 175, summary.Volume, 1e-9)
	require.InDelta(t, 35, summary.Profit(), 1e-9)
	require.InDelta(t, 50, summary.WinRate(), 1e-9)
	require.InDelta(t, 1.7, summary.Payoff(), 1e-9)
	require.InDelta(t, 1.7, summary.ProfitFactor(), 1e-9)
}

func TestSummaryStringRendersTable(t *testing.T) {
	summary := Summary{
		Market: "BTCUSDT",
		WinUp:  []float64{85, 85},
		LossUp: []float64{-100},
		Volume: 300,
	}

	out := summary.String()
	require.Contains(t, out, "BTCUSDT")
	require.Contains(t, out, "% Win")
	require.True(t, strings.Contains(out, "66.7"))
}

func TestSummaryEmpty(t *testing.T) {
	summary := Summary{Market: "BTCUSDT"}
	require.Zero(t, summary.Profit())
	require.Zero(t, summary.WinRate())
	require.Zero(t, summary.Payoff())
	require.Zero(t, summary.SQN())
}
