package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/minitrade/binarybot/core"
)

// StaticOracle serves prices from a fixed in-memory table. It backs
// offline demo deployments and tests, where timer-resolved trades need
// an entry price but no live market feed exists.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewStaticOracle creates a static oracle with the given price table
func NewStaticOracle(prices map[string]float64) *StaticOracle {
	if prices == nil {
		prices = make(map[string]float64)
	}
	return &StaticOracle{prices: prices}
}

// SetPrice updates the quoted price for a symbol
func (s *StaticOracle) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// LastQuote returns the configured price for a symbol
func (s *StaticOracle) LastQuote(_ context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", core.ErrNoPriceAvailable, symbol)
	}
	return price, nil
}

// CandlesSubscription returns channels that never produce, the static
// oracle has no market feed
func (s *StaticOracle) CandlesSubscription(ctx context.Context, _, _ string) (chan core.Candle, chan error) {
	candleChan := make(chan core.Candle)
	errChan := make(chan error)

	go func() {
		<-ctx.Done()
		close(candleChan)
		close(errChan)
	}()

	return candleChan, errChan
}
