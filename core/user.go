package core

import "time"

// BalanceField identifies which of a user's balances a mutation targets
type BalanceField string

// Balance field constants
const (
	FieldDemoBalance BalanceField = "demo_balance"
	FieldRealBalance BalanceField = "real_balance"
)

// InitialDemoBalance is credited to every new user for risk-free practice
const InitialDemoBalance = 1000.0

// User represents a registered user and their balances
type User struct {
	ID       string `db:"id" json:"id" gorm:"primaryKey"`
	Username string `db:"username" json:"username"`

	// DemoBalance is non-withdrawable simulated funds, RealBalance
	// represents deposited user money
	DemoBalance float64 `db:"demo_balance" json:"demo_balance"`
	RealBalance float64 `db:"real_balance" json:"real_balance"`

	// ReferrerID is set at most once and never references the user itself
	ReferrerID     string  `db:"referrer_id" json:"referrer_id,omitempty"`
	ReferralEarned float64 `db:"referral_earned" json:"referral_earned"`

	Notifications bool      `db:"notifications" json:"notifications"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Balance returns the value of the given balance field
func (u User) Balance(field BalanceField) float64 {
	if field == FieldRealBalance {
		return u.RealBalance
	}
	return u.DemoBalance
}

// Deposit represents a deposit request awaiting admin processing
type Deposit struct {
	ID        string    `db:"id" json:"id" gorm:"primaryKey"`
	UserID    string    `db:"user_id" json:"user_id" gorm:"index"`
	Amount    float64   `db:"amount" json:"amount"`
	Method    string    `db:"method" json:"method"`
	TxID      string    `db:"tx_id" json:"tx_id"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Withdrawal represents a withdrawal request awaiting admin processing
type Withdrawal struct {
	ID        string    `db:"id" json:"id" gorm:"primaryKey"`
	UserID    string    `db:"user_id" json:"user_id" gorm:"index"`
	Amount    float64   `db:"amount" json:"amount"`
	Address   string    `db:"address" json:"address"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// StatusPending marks deposit and withdrawal requests not yet processed
const StatusPending = "pending"
