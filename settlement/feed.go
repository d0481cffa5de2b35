package settlement

import (
	"sync"

	"github.com/minitrade/binarybot/core"
)

// FeedConsumer is a function type that processes settled trade events
type FeedConsumer func(trade core.Trade)

// TradeFeed represents channels for settled trade data and errors
type TradeFeed struct {
	Data chan core.Trade
	Err  chan error
}

// FeedSubscription represents a consumer subscription to trade updates
type FeedSubscription struct {
	consumer FeedConsumer
}

// Feed fans settled trades out to subscribers, one feed per market
type Feed struct {
	mu                    sync.RWMutex
	TradeFeeds            map[string]*TradeFeed
	SubscriptionsByMarket map[string][]FeedSubscription
}

// NewTradeFeed creates a new settled-trade feed manager
func NewTradeFeed() *Feed {
	return &Feed{
		TradeFeeds:            make(map[string]*TradeFeed),
		SubscriptionsByMarket: make(map[string][]FeedSubscription),
	}
}

// Subscribe registers a consumer to receive settled trades for a market
func (f *Feed) Subscribe(market string, consumer FeedConsumer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.TradeFeeds[market]; !ok {
		f.TradeFeeds[market] = &TradeFeed{
			Data: make(chan core.Trade, 100), // buffered to prevent blocking settlement
			Err:  make(chan error, 100),
		}
	}

	f.SubscriptionsByMarket[market] = append(f.SubscriptionsByMarket[market], FeedSubscription{
		consumer: consumer,
	})
}

// Publish sends a settled trade to all subscribers for its market
func (f *Feed) Publish(trade core.Trade) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if feed, ok := f.TradeFeeds[trade.Market]; ok {
		// Non-blocking send, drop updates if no one is listening
		select {
		case feed.Data <- trade:
		default:
		}
	}
}

// Start begins processing trade updates for all registered feeds
func (f *Feed) Start() {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for market, feed := range f.TradeFeeds {
		go f.processTradesForMarket(market, feed)
	}
}

// processTradesForMarket handles settled trades for a specific market
func (f *Feed) processTradesForMarket(market string, feed *TradeFeed) {
	for trade := range feed.Data {
		f.mu.RLock()
		subscriptions := f.SubscriptionsByMarket[market]
		f.mu.RUnlock()

		for _, subscription := range subscriptions {
			subscription.consumer(trade)
		}
	}
}

// Stop gracefully shuts down all feed channels
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for market, feed := range f.TradeFeeds {
		close(feed.Data)
		close(feed.Err)
		delete(f.TradeFeeds, market)
	}

	f.SubscriptionsByMarket = make(map[string][]FeedSubscription)
}
