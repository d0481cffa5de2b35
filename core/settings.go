package core

import "time"

// Settings represents the main configuration for the application
type Settings struct {
	Markets  []string         // Market symbols available for trading
	Interval string           // Candle interval used for price-based resolution
	Trading  TradingSettings  // Trade bounds and payout policy
	Telegram TelegramSettings // Telegram bot settings
	API      APISettings      // HTTP API settings
}

// TradingSettings holds trade bounds and the outcome policy knobs.
// Win probabilities are explicit configuration, not hidden randomness,
// so outcomes stay testable and auditable.
type TradingSettings struct {
	MinTrade      float64 // Minimum trade amount
	MaxTrade      float64 // Maximum trade amount
	PayoutPercent float64 // Fraction of the stake credited on a win
	LossPercent   float64 // Fraction of the stake debited on a loss
	ReferralRate  float64 // Fraction of a winning stake paid to the referrer

	// Coin-flip win probability per mode, used for timer-resolved trades
	DemoWinProbability float64
	RealWinProbability float64

	// ApplyWinProbability additionally gates price-comparison wins with
	// the mode's win probability. Off by default: a genuine price win
	// then stands on its own.
	ApplyWinProbability bool

	// ExpiryChoices are the candidate expiries for timer-resolved trades,
	// one is picked uniformly at random at placement
	ExpiryChoices []time.Duration

	// PriceRetries bounds the exit-price fetch retries before a pending
	// trade is settled as a push and flagged for review
	PriceRetries int

	MinDeposit float64 // Minimum deposit / withdrawal amount
	MaxDeposit float64 // Maximum deposit / withdrawal amount
}

// TelegramSettings holds configuration for the Telegram session layer
type TelegramSettings struct {
	Enabled bool    // Whether the Telegram bot is enabled
	Token   string  // Telegram bot token
	Name    string  // Bot username, used to build referral deep links
	Users   []int64 // Operator chat ids that receive error notifications
}

// APISettings holds configuration for the HTTP API
type APISettings struct {
	Enabled bool
	Addr    string
}

// DefaultTradingSettings mirrors the published mini-app defaults
func DefaultTradingSettings() TradingSettings {
	return TradingSettings{
		MinTrade:           1,
		MaxTrade:           1000,
		PayoutPercent:      0.85,
		LossPercent:        1.0,
		ReferralRate:       0.02,
		DemoWinProbability: 0.75,
		RealWinProbability: 0.22,
		ExpiryChoices:      []time.Duration{time.Minute, 2 * time.Minute},
		PriceRetries:       5,
		MinDeposit:         10,
		MaxDeposit:         10000,
	}
}
