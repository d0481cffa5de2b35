// Package binance provides the Binance-backed price oracle.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/jpillora/backoff"

	"github.com/minitrade/binarybot/core"
)

// Oracle implements core.PriceOracle over the Binance spot market
type Oracle struct {
	ctx    context.Context
	client *binance.Client
	log    core.Logger
}

// Option is a function that configures an Oracle
type Option func(*Oracle)

// WithCredentials sets the API credentials for the client
func WithCredentials(key, secret string) Option {
	return func(o *Oracle) {
		o.client = binance.NewClient(key, secret)
	}
}

// WithTestNet enables the Binance testnet
func WithTestNet() Option {
	return func(_ *Oracle) {
		binance.UseTestnet = true
	}
}

// NewOracle creates a Binance price oracle and verifies connectivity
func NewOracle(ctx context.Context, log core.Logger, options ...Option) (*Oracle, error) {
	binance.WebsocketKeepalive = true

	oracle := &Oracle{
		ctx:    ctx,
		client: binance.NewClient("", ""),
		log:    log,
	}

	for _, option := range options {
		option(oracle)
	}

	if err := oracle.client.NewPingService().Do(ctx); err != nil {
		return nil, fmt.Errorf("binance ping fail: %w", err)
	}

	log.Info("[SETUP] Using binance price oracle")

	return oracle, nil
}

// LastQuote gets the latest ticker price for a symbol
func (o *Oracle) LastQuote(ctx context.Context, symbol string) (float64, error) {
	prices, err := o.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil || len(prices) < 1 {
		return 0, fmt.Errorf("%w: %s", core.ErrNoPriceAvailable, symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad ticker price for %s", core.ErrNoPriceAvailable, symbol)
	}

	return price, nil
}

// CandlesSubscription subscribes to kline updates for a symbol. The
// websocket is reconnected with backoff when the server drops it.
func (o *Oracle) CandlesSubscription(ctx context.Context, symbol, interval string) (chan core.Candle, chan error) {
	candleChan := make(chan core.Candle)
	errChan := make(chan error)
	retry := setupBackoffRetry()

	go func() {
		for {
			done, _, err := binance.WsKlineServe(symbol, interval, func(event *binance.WsKlineEvent) {
				retry.Reset()
				candleChan <- convertWsKlineToCandle(symbol, interval, event.Kline)
			}, func(err error) {
				errChan <- err
			})

			if err != nil {
				errChan <- err
				close(errChan)
				close(candleChan)
				return
			}

			select {
			case <-ctx.Done():
				close(errChan)
				close(candleChan)
				return
			case <-done:
				time.Sleep(retry.Duration())
			}
		}
	}()

	return candleChan, errChan
}

// setupBackoffRetry creates a backoff with sensible defaults
func setupBackoffRetry() *backoff.Backoff {
	return &backoff.Backoff{
		Min: 100 * time.Millisecond,
		Max: 1 * time.Second,
	}
}

// convertWsKlineToCandle converts a Binance websocket kline to a core.Candle
func convertWsKlineToCandle(symbol, interval string, k binance.WsKline) core.Candle {
	candle := core.Candle{
		Market:   symbol,
		Interval: interval,
		Time:     time.Unix(0, k.StartTime*int64(time.Millisecond)),
		Complete: k.IsFinal,
	}

	candle.Open, _ = strconv.ParseFloat(k.Open, 64)
	candle.Close, _ = strconv.ParseFloat(k.Close, 64)
	candle.High, _ = strconv.ParseFloat(k.High, 64)
	candle.Low, _ = strconv.ParseFloat(k.Low, 64)
	candle.Volume, _ = strconv.ParseFloat(k.Volume, 64)

	return candle
}
