package core

import (
	"context"
)

// PriceOracle provides market prices and candle streams for a symbol.
// Implementations may be network-bound; callers must not hold settlement
// locks across oracle calls.
type PriceOracle interface {
	LastQuote(ctx context.Context, symbol string) (float64, error)
	CandlesSubscription(ctx context.Context, symbol, interval string) (chan Candle, chan error)
}

// Ledger holds user balances and trade/deposit/withdrawal records.
// ApplyBalanceDelta is an atomic read-modify-write on a single user record.
type Ledger interface {
	// CreateUser registers a new user with the initial demo balance.
	// Creating an existing user is a no-op that returns the stored record.
	CreateUser(ctx context.Context, id, username string) (*User, error)

	// GetUser retrieves a user record, ErrUserNotFound if absent
	GetUser(ctx context.Context, id string) (*User, error)

	// ApplyBalanceDelta atomically adds delta to the given balance field
	ApplyBalanceDelta(ctx context.Context, id string, field BalanceField, delta float64) (*User, error)

	// SetReferrer sets the user's referrer, first write wins.
	// Self-referral is rejected with ErrSelfReferral.
	SetReferrer(ctx context.Context, id, referrerID string) error

	// AddReferralEarned accrues referral commission to a referrer
	AddReferralEarned(ctx context.Context, id string, amount float64) (*User, error)

	// AppendTrade appends a settled trade to the global ledger and
	// to the owning user's history
	AppendTrade(ctx context.Context, trade *Trade) error

	// UserTrades returns the most recent limit trades of a user in
	// reverse-chronological order; limit <= 0 returns all
	UserTrades(ctx context.Context, id string, limit int) ([]*Trade, error)

	// Trades retrieves trades from the global ledger in settlement order
	Trades(ctx context.Context, filters ...TradeFilter) ([]*Trade, error)

	// RecordDeposit stores a pending deposit request
	RecordDeposit(ctx context.Context, deposit *Deposit) error

	// RecordWithdrawal stores a pending withdrawal request
	RecordWithdrawal(ctx context.Context, withdrawal *Withdrawal) error
}

// TradePlacer is the surface exposed to session layers (Telegram, HTTP)
type TradePlacer interface {
	PlaceTrade(ctx context.Context, input PlaceTradeInput) (*Trade, error)
	PendingTrades(userID string) []*Trade
	History(ctx context.Context, userID string, limit int) ([]*Trade, error)
}

// PlaceTradeInput carries the parameters of a trade placement
type PlaceTradeInput struct {
	UserID     string
	Market     string
	Amount     float64
	Direction  DirectionType
	Mode       ModeType
	Resolution ResolutionSpec
}

// TradeSubscriber receives settled trades
type TradeSubscriber interface {
	OnTrade(trade Trade)
}

// CandleSubscriber receives closed candles
type CandleSubscriber interface {
	OnCandle(candle Candle)
}

// Notifier delivers user-facing events
type Notifier interface {
	Notify(string)
	OnTrade(trade Trade)
	OnError(err error)
}

// NotifierWithStart is a notifier with its own polling loop
type NotifierWithStart interface {
	Notifier
	Start()
}
