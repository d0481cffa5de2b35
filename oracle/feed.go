// Package oracle provides price oracles and the candle feed plumbing that
// connects them to the settlement engine.
package oracle

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/StudioSol/set"
	"github.com/minitrade/binarybot/core"
)

// CandleFeedConsumer is a function type that processes candle data
type CandleFeedConsumer func(core.Candle)

// Subscription represents a consumer subscription to a candle feed
type Subscription struct {
	onCandleClose bool // Only deliver complete candles if true
	consumer      CandleFeedConsumer
}

// CandleFeed represents a feed with channels for candles and errors
type CandleFeed struct {
	Data chan core.Candle
	Err  chan error
}

// CandleFeedSubscription manages subscriptions to candle feeds, one feed
// per (market, interval) pair
type CandleFeedSubscription struct {
	oracle              core.PriceOracle
	feeds               *set.LinkedHashSetString
	candleFeeds         map[string]*CandleFeed
	subscriptionsByFeed map[string][]Subscription
	log                 core.Logger
	mu                  sync.RWMutex
}

// NewCandleFeed creates a new instance of CandleFeedSubscription
func NewCandleFeed(oracle core.PriceOracle, log core.Logger) *CandleFeedSubscription {
	return &CandleFeedSubscription{
		oracle:              oracle,
		feeds:               set.NewLinkedHashSetString(),
		log:                 log,
		candleFeeds:         make(map[string]*CandleFeed),
		subscriptionsByFeed: make(map[string][]Subscription),
	}
}

// Subscribe adds a new subscription for a market and interval
func (c *CandleFeedSubscription) Subscribe(market, interval string, consumer CandleFeedConsumer, onCandleClose bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.feedKey(market, interval)
	c.feeds.Add(key)
	c.subscriptionsByFeed[key] = append(c.subscriptionsByFeed[key], Subscription{
		onCandleClose: onCandleClose,
		consumer:      consumer,
	})
}

// Connect opens an oracle subscription for every registered feed
func (c *CandleFeedSubscription) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Infof("Connecting to the price oracle.")

	for feed := range c.feeds.Iter() {
		market, interval := c.splitFeedKey(feed)
		candleChan, errChan := c.oracle.CandlesSubscription(ctx, market, interval)
		c.candleFeeds[feed] = &CandleFeed{
			Data: candleChan,
			Err:  errChan,
		}
	}
}

// Start begins processing all feeds
func (c *CandleFeedSubscription) Start(ctx context.Context, waitForCompletion bool) {
	c.Connect(ctx)

	var wg sync.WaitGroup

	c.mu.RLock()
	for key, feed := range c.candleFeeds {
		wg.Add(1)
		go c.processFeed(ctx, key, feed, &wg)
	}
	c.mu.RUnlock()

	c.log.Infof("Candle feed connected.")

	if waitForCompletion {
		wg.Wait()
	}
}

// processFeed processes candles received from a feed
func (c *CandleFeedSubscription) processFeed(ctx context.Context, key string, feed *CandleFeed, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case candle, ok := <-feed.Data:
			if !ok {
				return
			}

			c.processCandle(key, candle)

		case err, ok := <-feed.Err:
			if !ok {
				return
			}

			if err != nil {
				c.log.Error("candleFeedSubscription/processFeed: ", err)
			}
		}
	}
}

// processCandle sends a candle to all subscribed consumers
func (c *CandleFeedSubscription) processCandle(key string, candle core.Candle) {
	c.mu.RLock()
	subscriptions := c.subscriptionsByFeed[key]
	c.mu.RUnlock()

	for _, subscription := range subscriptions {
		if subscription.onCandleClose && !candle.Complete {
			continue
		}
		subscription.consumer(candle)
	}
}

// feedKey generates a unique key for a market and interval
func (c *CandleFeedSubscription) feedKey(market, interval string) string {
	return fmt.Sprintf("%s--%s", market, interval)
}

// splitFeedKey extracts the market and interval from a feed key
func (c *CandleFeedSubscription) splitFeedKey(key string) (market, interval string) {
	parts := strings.Split(key, "--")
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
