package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/minitrade/binarybot/core"
	adapter "github.com/minitrade/binarybot/logger/zerolog"
)

// scriptedOracle replays a fixed candle sequence on subscription
type scriptedOracle struct {
	candles []core.Candle
}

func (s *scriptedOracle) LastQuote(context.Context, string) (float64, error) {
	return 0, core.ErrNoPriceAvailable
}

func (s *scriptedOracle) CandlesSubscription(ctx context.Context, _, _ string) (chan core.Candle, chan error) {
	candleChan := make(chan core.Candle, len(s.candles))
	errChan := make(chan error)

	for _, candle := range s.candles {
		candleChan <- candle
	}
	close(candleChan)

	return candleChan, errChan
}

func TestCandleFeedDeliversClosedCandlesOnly(t *testing.T) {
	source := &scriptedOracle{candles: []core.Candle{
		{Market: "BTCUSDT", Interval: "1m", Close: 50000, Complete: false},
		{Market: "BTCUSDT", Interval: "1m", Close: 50100, Complete: true},
	}}

	nop := zerolog.Nop()
	feed := NewCandleFeed(source, adapter.NewAdapter(&nop))

	received := make(chan core.Candle, 2)
	feed.Subscribe("BTCUSDT", "1m", func(candle core.Candle) {
		received <- candle
	}, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Start(ctx, false)

	select {
	case candle := <-received:
		require.True(t, candle.Complete)
		require.Equal(t, 50100.0, candle.Close)
	case <-time.After(time.Second):
		t.Fatal("closed candle not delivered")
	}

	select {
	case candle := <-received:
		t.Fatalf("partial candle delivered: %+v", candle)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCandleFeedFanOut(t *testing.T) {
	source := &scriptedOracle{candles: []core.Candle{
		{Market: "BTCUSDT", Interval: "1m", Close: 50000, Complete: true},
	}}

	nop := zerolog.Nop()
	feed := NewCandleFeed(source, adapter.NewAdapter(&nop))

	first := make(chan core.Candle, 1)
	second := make(chan core.Candle, 1)
	feed.Subscribe("BTCUSDT", "1m", func(c core.Candle) { first <- c }, true)
	feed.Subscribe("BTCUSDT", "1m", func(c core.Candle) { second <- c }, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Start(ctx, false)

	for _, ch := range []chan core.Candle{first, second} {
		select {
		case candle := <-ch:
			require.Equal(t, 50000.0, candle.Close)
		case <-time.After(time.Second):
			t.Fatal("candle not fanned out to all subscribers")
		}
	}
}
