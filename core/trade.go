package core

import (
	"fmt"
	"time"
)

// TradeFilter defines a function type for filtering trades
type TradeFilter func(trade Trade) bool

// DirectionType represents the predicted price direction (up or down)
type DirectionType string

// ModeType represents the balance a trade is played against
type ModeType string

// TradeStatusType represents the lifecycle state of a trade
type TradeStatusType string

// TradeResultType represents the outcome of a settled trade
type TradeResultType string

// Direction constants
const (
	DirectionUp   DirectionType = "up"
	DirectionDown DirectionType = "down"
)

// Mode constants
const (
	ModeDemo ModeType = "demo"
	ModeReal ModeType = "real"
)

// Trade status constants. A trade is created pending and settled exactly
// once; there are no other transitions.
const (
	TradeStatusPending TradeStatusType = "pending"
	TradeStatusSettled TradeStatusType = "settled"
)

// Trade result constants. Push means the stake was returned because the
// outcome could not be determined; such trades are flagged for review.
const (
	TradeResultWin  TradeResultType = "win"
	TradeResultLoss TradeResultType = "loss"
	TradeResultPush TradeResultType = "push"
)

// Trade represents a single binary-options trade from placement to settlement
type Trade struct {
	ID        string          `db:"id" json:"id" gorm:"primaryKey"`
	UserID    string          `db:"user_id" json:"user_id" gorm:"index"`
	Market    string          `db:"market" json:"market"`
	Amount    float64         `db:"amount" json:"amount"`
	Direction DirectionType   `db:"direction" json:"direction"`
	Mode      ModeType        `db:"mode" json:"mode"`
	Status    TradeStatusType `db:"status" json:"status"`

	EntryPrice float64   `db:"entry_price" json:"entry_price"`
	EntryTime  time.Time `db:"entry_time" json:"entry_time"`

	// Resolution parameters captured at placement
	Interval string        `db:"interval" json:"interval,omitempty"`
	Expiry   time.Duration `db:"expiry" json:"expiry,omitempty"`

	// Set at settlement, zero values while pending
	Result      TradeResultType `db:"result" json:"result,omitempty"`
	Profit      float64         `db:"profit" json:"profit"`
	ExitPrice   float64         `db:"exit_price" json:"exit_price"`
	SettledAt   time.Time       `db:"settled_at" json:"settled_at"`
	NeedsReview bool            `db:"needs_review" json:"needs_review,omitempty"`
}

// BalanceField returns the user balance field this trade plays against
func (t Trade) BalanceField() BalanceField {
	if t.Mode == ModeReal {
		return FieldRealBalance
	}
	return FieldDemoBalance
}

// Settled reports whether the trade reached its terminal state
func (t Trade) Settled() bool {
	return t.Status == TradeStatusSettled
}

// String returns a human readable representation of the trade
func (t Trade) String() string {
	if t.Settled() {
		return fmt.Sprintf("%s %s $%.2f %s [%s] %s %+.2f",
			t.Market, t.Direction, t.Amount, t.Mode, t.Status, t.Result, t.Profit)
	}
	return fmt.Sprintf("%s %s $%.2f %s [%s] entry %.2f",
		t.Market, t.Direction, t.Amount, t.Mode, t.Status, t.EntryPrice)
}

// ResolutionSpec selects how a pending trade is resolved: by a timer expiry
// or by the close of the next candle on the given interval. Exactly one of
// the two should be set.
type ResolutionSpec struct {
	// Timer resolves the trade after an expiry chosen uniformly at random
	// from the configured expiry set
	Timer bool

	// Interval resolves the trade on the next closed candle of the
	// trade's market with this interval, e.g. "1m"
	Interval string
}

// TimerResolution resolves by timer expiry
func TimerResolution() ResolutionSpec {
	return ResolutionSpec{Timer: true}
}

// CandleResolution resolves on the next closed candle of the interval
func CandleResolution(interval string) ResolutionSpec {
	return ResolutionSpec{Interval: interval}
}

// WithUser filters trades belonging to a user
func WithUser(id string) TradeFilter {
	return func(trade Trade) bool {
		return trade.UserID == id
	}
}

// WithMarket filters trades on a market symbol
func WithMarket(market string) TradeFilter {
	return func(trade Trade) bool {
		return trade.Market == market
	}
}

// WithResult filters trades by settlement result
func WithResult(result TradeResultType) TradeFilter {
	return func(trade Trade) bool {
		return trade.Result == result
	}
}

// WithMode filters trades by balance mode
func WithMode(mode ModeType) TradeFilter {
	return func(trade Trade) bool {
		return trade.Mode == mode
	}
}
