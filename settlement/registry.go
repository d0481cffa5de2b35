// Package settlement implements the trade lifecycle: placement, pending
// trade tracking, resolution triggers and exactly-once balance settlement.
package settlement

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/minitrade/binarybot/core"
)

// PendingRegistry tracks pending trades by id and by (market, interval)
// for batch resolution on candle-close events. Entries are created at
// placement and removed exactly once at settlement; removal is the
// idempotency guard against duplicate resolution triggers.
type PendingRegistry struct {
	mu     sync.RWMutex
	trades map[string]*core.Trade
	byFeed map[string][]string // feed key -> trade ids in placement order
}

// NewPendingRegistry creates an empty registry
func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{
		trades: make(map[string]*core.Trade),
		byFeed: make(map[string][]string),
	}
}

func feedKey(market, interval string) string {
	return fmt.Sprintf("%s--%s", market, interval)
}

// Add registers a pending trade
func (r *PendingRegistry) Add(trade *core.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trades[trade.ID] = trade

	if trade.Interval != "" {
		key := feedKey(trade.Market, trade.Interval)
		r.byFeed[key] = append(r.byFeed[key], trade.ID)
	}
}

// Take removes and returns the trade with the given id. The second
// return value is false if the trade is unknown or already taken.
func (r *PendingRegistry) Take(id string) (*core.Trade, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	trade, ok := r.trades[id]
	if !ok {
		return nil, false
	}

	r.remove(trade)
	return trade, true
}

// TakeDue removes and returns, in placement order, all pending trades on
// (market, interval) whose entry time is strictly before closeTime
func (r *PendingRegistry) TakeDue(market, interval string, closeTime time.Time) []*core.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := feedKey(market, interval)
	var due []*core.Trade
	var remaining []string

	for _, id := range r.byFeed[key] {
		trade, ok := r.trades[id]
		if !ok {
			continue
		}

		if trade.EntryTime.Before(closeTime) {
			due = append(due, trade)
			delete(r.trades, id)
		} else {
			remaining = append(remaining, id)
		}
	}

	if len(remaining) == 0 {
		delete(r.byFeed, key)
	} else {
		r.byFeed[key] = remaining
	}

	return due
}

// ByUser returns copies of the user's pending trades in placement order
func (r *PendingRegistry) ByUser(userID string) []*core.Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()

	trades := make([]*core.Trade, 0)
	for _, trade := range r.trades {
		if trade.UserID == userID {
			clone := *trade
			trades = append(trades, &clone)
		}
	}

	sort.Slice(trades, func(i, j int) bool {
		return trades[i].EntryTime.Before(trades[j].EntryTime)
	})
	return trades
}

// Len returns the number of pending trades
func (r *PendingRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trades)
}

// remove drops the trade from both indexes, caller holds the lock
func (r *PendingRegistry) remove(trade *core.Trade) {
	delete(r.trades, trade.ID)

	if trade.Interval == "" {
		return
	}

	key := feedKey(trade.Market, trade.Interval)
	ids := r.byFeed[key]
	for i, id := range ids {
		if id == trade.ID {
			r.byFeed[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byFeed[key]) == 0 {
		delete(r.byFeed, key)
	}
}
