package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount reports a trade amount outside the configured bounds
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds reports a stake the relevant balance cannot cover
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoPriceAvailable reports that the price oracle could not be reached
	ErrNoPriceAvailable = errors.New("no price available")

	// ErrUserNotFound reports a missing user record
	ErrUserNotFound = errors.New("user not found")

	// ErrOrphanedTrade reports a settlement whose user record has vanished
	ErrOrphanedTrade = errors.New("orphaned trade")

	// ErrDuplicateSettlement reports a resolution trigger for an already
	// settled trade, suppressed as a no-op
	ErrDuplicateSettlement = errors.New("duplicate settlement")

	// ErrSelfReferral reports an attempt to set a user as its own referrer
	ErrSelfReferral = errors.New("self referral")

	// ErrTradeNotFound reports an unknown trade id
	ErrTradeNotFound = errors.New("trade not found")
)

// SettlementError carries the trade context of a failed settlement so
// notifiers can render something more useful than a bare message
type SettlementError struct {
	TradeID string
	Market  string
	Amount  float64
	Err     error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement failed for trade %s (%s $%.2f): %v", e.TradeID, e.Market, e.Amount, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}
