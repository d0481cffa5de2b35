package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/minitrade/binarybot/core"
	"github.com/minitrade/binarybot/ledger"
	adapter "github.com/minitrade/binarybot/logger/zerolog"
	"github.com/minitrade/binarybot/oracle"
)

func nopLogger() core.Logger {
	nop := zerolog.Nop()
	return adapter.NewAdapter(&nop)
}

func newTestEngine(t *testing.T, settings core.TradingSettings) (*Engine, *ledger.BuntLedger, *oracle.StaticOracle) {
	t.Helper()

	book, err := ledger.NewFromMemory()
	require.NoError(t, err)
	t.Cleanup(func() { book.Close() })

	prices := oracle.NewStaticOracle(map[string]float64{"BTCUSDT": 50000})
	engine := NewEngine(book, prices, nopLogger(), nil, settings)
	return engine, book, prices
}

func demoInput(userID string, amount float64) core.PlaceTradeInput {
	return core.PlaceTradeInput{
		UserID:     userID,
		Market:     "BTCUSDT",
		Amount:     amount,
		Direction:  core.DirectionUp,
		Mode:       core.ModeDemo,
		Resolution: core.TimerResolution(),
	}
}

func TestPlaceTradeBounds(t *testing.T) {
	engine, book, _ := newTestEngine(t, core.DefaultTradingSettings())
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "u1", "alice")
	require.NoError(t, err)

	_, err = engine.PlaceTrade(ctx, demoInput("u1", 0.5))
	require.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = engine.PlaceTrade(ctx, demoInput("u1", 1001))
	require.ErrorIs(t, err, core.ErrInvalidAmount)

	require.Zero(t, engine.registry.Len())
}

func TestPlaceTradeUnknownMarket(t *testing.T) {
	engine, book, _ := newTestEngine(t, core.DefaultTradingSettings())
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "u1", "alice")
	require.NoError(t, err)

	input := demoInput("u1", 10)
	input.Market = "DOGEUSDT"
	_, err = engine.PlaceTrade(ctx, input)
	require.ErrorIs(t, err, core.ErrNoPriceAvailable)
}

func TestPlaceTradeInsufficientFunds(t *testing.T) {
	engine, book, _ := newTestEngine(t, core.DefaultTradingSettings())
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "u1", "alice")
	require.NoError(t, err)

	input := demoInput("u1", 10)
	input.Mode = core.ModeReal // real balance starts at zero
	_, err = engine.PlaceTrade(ctx, input)
	require.ErrorIs(t, err, core.ErrInsufficientFunds)
	require.Zero(t, engine.registry.Len())
}

func TestPlaceTradeDoesNotTouchBalance(t *testing.T) {
	engine, book, _ := newTestEngine(t, core.DefaultTradingSettings())
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "u1", "alice")
	require.NoError(t, err)

	trade, err := engine.PlaceTrade(ctx, demoInput("u1", 100))
	require.NoError(t, err)
	require.Equal(t, core.TradeStatusPending, trade.Status)
	require.Equal(t, 50000.0, trade.EntryPrice)
	require.NotZero(t, trade.Expiry)

	// funds are only earmarked until settlement
	user, err := book.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, core.InitialDemoBalance, user.DemoBalance)

	pending := engine.PendingTrades("u1")
	require.Len(t, pending, 1)
	require.Equal(t, trade.ID, pending[0].ID)
}

func TestTimerSettlementWin(t *testing.T) {
	settings := core.DefaultTradingSettings()
	settings.DemoWinProbability = 1 // force the coin flip
	engine, book, _ := newTestEngine(t, settings)
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "u1", "alice")
	require.NoError(t, err)

	trade, err := engine.PlaceTrade(ctx, demoInput("u1", 100))
	require.NoError(t, err)

	engine.OnTimerFired(ctx, trade.ID)

	user, err := book.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.InDelta(t, core.InitialDemoBalance+85, user.DemoBalance, 1e-9)

	history, err := engine.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, core.TradeResultWin, history[0].Result)
	require.Equal(t, core.TradeStatusSettled, history[0].Status)
	require.InDelta(t, 85, history[0].Profit, 1e-9)
	require.Empty(t, engine.PendingTrades("u1"))
}

func TestTimerSettlementLoss(t *testing.T) {
	settings := core.DefaultTradingSettings()
	settings.DemoWinProbability = 0
	engine, book, _ := newTestEngine(t, settings)
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "u1", "alice")
	require.NoError(t, err)

	trade, err := engine.PlaceTrade(ctx, demoInput("u1", 100))
	require.NoError(t, err)

	engine.OnTimerFired(ctx, trade.ID)

	user, err := book.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.InDelta(t, core.InitialDemoBalance-100, user.DemoBalance, 1e-9)
}

func TestTimerSettlementIdempotent(t *testing.T) {
	settings := core.DefaultTradingSettings()
	settings.DemoWinProbability = 1
	engine, book, _ := newTestEngine(t, settings)
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "u1", "alice")
	require.NoError(t, err)

	trade, err := engine.PlaceTrade(ctx, demoInput("u1", 100))
	require.NoError(t, err)

	engine.OnTimerFired(ctx, trade.ID)
	engine.OnTimerFired(ctx, trade.ID) // duplicate trigger

	user, err := book.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.InDelta(t, core.InitialDemoBalance+85, user.DemoBalance, 1e-9)

	history, err := engine.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestRealTimerUsesExitPrice(t *testing.T) {
	engine, book, prices := newTestEngine(t, core.DefaultTradingSettings())
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "u1", "alice")
	require.NoError(t, err)
	_, err = book.ApplyBalanceDelta(ctx, "u1", core.FieldRealBalance, 500)
	require.NoError(t, err)

	input := demoInput("u1", 100)
	input.Mode = core.ModeReal
	trade, err := engine.PlaceTrade(ctx, input)
	require.NoError(t, err)

	// price moved in the predicted direction, the win must stand
	prices.SetPrice("BTCUSDT", 51000)
	engine.OnTimerFired(ctx, trade.ID)

	user, err := book.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.InDelta(t, 585, user.RealBalance, 1e-9)

	history, err := engine.History(ctx, "u1", 1)
	require.NoError(t, err)
	require.Equal(t, core.TradeResultWin, history[0].Result)
	require.Equal(t, 51000.0, history[0].ExitPrice)
}

func TestRealTimerTieLoses(t *testing.T) {
	engine, book, _ := newTestEngine(t, core.DefaultTradingSettings())
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "u1", "alice")
	require.NoError(t, err)
	_, err = book.ApplyBalanceDelta(ctx, "u1", core.FieldRealBalance, 500)
	require.NoError(t, err)

	input := demoInput("u1", 100)
	input.Mode = core.ModeReal
	trade, err := engine.PlaceTrade(ctx, input)
	require.NoError(t, err)

	// exit equals entry: no movement in the predicted direction
	engine.OnTimerFired(ctx, trade.ID)

	user, err := book.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.InDelta(t, 400, user.RealBalance, 1e-9)
}

// brokenOracle quotes once for placement, then fails every call
type brokenOracle struct {
	inner  *oracle.StaticOracle
	quotes int
}

func (b *brokenOracle) LastQuote(ctx context.Context, symbol string) (float64, error) {
	b.quotes++
	if b.quotes > 1 {
		return 0, errors.New("upstream unavailable")
	}
	return b.inner.LastQuote(ctx, symbol)
}

func (b *brokenOracle) CandlesSubscription(ctx context.Context, symbol, interval string) (chan core.Candle, chan error) {
	return b.inner.CandlesSubscription(ctx, symbol, interval)
}

func TestRealTimerPushOnPriceFailure(t *testing.T) {
	settings := core.DefaultTradingSettings()
	settings.PriceRetries = 0

	book, err := ledger.NewFromMemory()
	require.NoError(t, err)
	t.Cleanup(func() { book.Close() })

	prices := &brokenOracle{inner: oracle.NewStaticOracle(map[string]float64{"BTCUSDT": 50000})}
	engine := NewEngine(book, prices, nopLogger(), nil, settings)
	ctx := context.Background()

	_, err = book.CreateUser(ctx, "u1", "alice")
	require.NoError(t, err)
	_, err = book.ApplyBalanceDelta(ctx, "u1", core.FieldRealBalance, 500)
	require.NoError(t, err)

	input := demoInput("u1", 100)
	input.Mode = core.ModeReal
	trade, err := engine.PlaceTrade(ctx, input)
	require.NoError(t, err)

	engine.OnTimerFired(ctx, trade.ID)

	// stake returned, trade flagged for manual review
	user, err := book.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.InDelta(t, 500, user.RealBalance, 1e-9)

	history, err := engine.History(ctx, "u1", 1)
	require.NoError(t, err)
	require.Equal(t, core.TradeResultPush, history[0].Result)
	require.True(t, history[0].NeedsReview)
	require.Zero(t, history[0].Profit)
}

func TestCandleSettlementBatch(t *testing.T) {
	engine, book, _ := newTestEngine(t, core.DefaultTradingSettings())
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "u1", "alice")
	require.NoError(t, err)
	_, err = book.CreateUser(ctx, "u2", "bob")
	require.NoError(t, err)

	place := func(userID string, direction core.DirectionType) *core.Trade {
		trade, err := engine.PlaceTrade(ctx, core.PlaceTradeInput{
			UserID:     userID,
			Market:     "BTCUSDT",
			Amount:     100,
			Direction:  direction,
			Mode:       core.ModeDemo,
			Resolution: core.CandleResolution("1m"),
		})
		require.NoError(t, err)
		return trade
	}

	first := place("u1", core.DirectionUp)
	second := place("u2", core.DirectionDown)

	closeTime := time.Now().Add(time.Second)
	engine.OnCandleClosed(ctx, "BTCUSDT", "1m", closeTime, 51000)

	// up wins, down loses against the higher close
	alice, err := book.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.InDelta(t, core.InitialDemoBalance+85, alice.DemoBalance, 1e-9)

	bob, err := book.GetUser(ctx, "u2")
	require.NoError(t, err)
	require.InDelta(t, core.InitialDemoBalance-100, bob.DemoBalance, 1e-9)

	// placement order is preserved in the global ledger
	trades, err := book.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.Equal(t, first.ID, trades[0].ID)
	require.Equal(t, second.ID, trades[1].ID)

	// duplicate candle event finds an empty registry
	engine.OnCandleClosed(ctx, "BTCUSDT", "1m", closeTime, 51000)
	alice, err = book.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.InDelta(t, core.InitialDemoBalance+85, alice.DemoBalance, 1e-9)
}

func TestReferralCreditOnWin(t *testing.T) {
	settings := core.DefaultTradingSettings()
	settings.DemoWinProbability = 1
	engine, book, _ := newTestEngine(t, settings)
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "referrer", "alice")
	require.NoError(t, err)
	_, err = book.CreateUser(ctx, "referee", "bob")
	require.NoError(t, err)
	require.NoError(t, book.SetReferrer(ctx, "referee", "referrer"))

	trade, err := engine.PlaceTrade(ctx, demoInput("referee", 100))
	require.NoError(t, err)
	engine.OnTimerFired(ctx, trade.ID)

	referrer, err := book.GetUser(ctx, "referrer")
	require.NoError(t, err)
	require.InDelta(t, 2, referrer.ReferralEarned, 1e-9) // 2% of the stake
}

func TestReferralSkippedOnLoss(t *testing.T) {
	settings := core.DefaultTradingSettings()
	settings.DemoWinProbability = 0
	engine, book, _ := newTestEngine(t, settings)
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "referrer", "alice")
	require.NoError(t, err)
	_, err = book.CreateUser(ctx, "referee", "bob")
	require.NoError(t, err)
	require.NoError(t, book.SetReferrer(ctx, "referee", "referrer"))

	trade, err := engine.PlaceTrade(ctx, demoInput("referee", 100))
	require.NoError(t, err)
	engine.OnTimerFired(ctx, trade.ID)

	referrer, err := book.GetUser(ctx, "referrer")
	require.NoError(t, err)
	require.Zero(t, referrer.ReferralEarned)
}

func TestOrphanedTradeDoesNotPanic(t *testing.T) {
	settings := core.DefaultTradingSettings()
	settings.DemoWinProbability = 1
	engine, book, _ := newTestEngine(t, settings)
	ctx := context.Background()

	// the registry can outlive its user after a storage wipe
	engine.registry.Add(pendingTrade("ghost", "vanished", "BTCUSDT", "", time.Now()))
	engine.OnTimerFired(ctx, "ghost")

	require.Zero(t, engine.registry.Len())
	trades, err := book.Trades(ctx)
	require.NoError(t, err)
	require.Empty(t, trades)
}

func TestEngineStartStop(t *testing.T) {
	settings := core.DefaultTradingSettings()
	settings.DemoWinProbability = 1
	settings.ExpiryChoices = []time.Duration{10 * time.Millisecond}
	engine, book, _ := newTestEngine(t, settings)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := book.CreateUser(ctx, "u1", "alice")
	require.NoError(t, err)

	engine.Start(ctx)
	require.Equal(t, StatusRunning, engine.Status())

	_, err = engine.PlaceTrade(ctx, demoInput("u1", 100))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		user, err := book.GetUser(ctx, "u1")
		return err == nil && user.DemoBalance > core.InitialDemoBalance
	}, 2*time.Second, 10*time.Millisecond)

	engine.Stop()
	require.Equal(t, StatusStopped, engine.Status())
}
