// Package ledger provides implementations of the core.Ledger interface.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/minitrade/binarybot/core"
	"github.com/tidwall/buntdb"
)

// Key prefixes and index names used by the BuntDB ledger
const (
	userPrefix       = "user:"
	tradePrefix      = "trade:"
	depositPrefix    = "deposit:"
	withdrawalPrefix = "withdrawal:"

	tradeIndexName = "trade_settled_index"
)

// BuntLedger implements the core.Ledger interface using BuntDB.
// Every mutation runs inside a single Update transaction, which makes
// the read-modify-write on a user record atomic with respect to
// concurrent settlements.
type BuntLedger struct {
	lastSeq int64
	db      *buntdb.DB
}

// BuntConfig holds configuration options for BuntDB
type BuntConfig struct {
	// SyncPolicy determines how often data is synchronized to disk
	SyncPolicy buntdb.SyncPolicy
}

// DefaultBuntConfig returns the default configuration for BuntDB
func DefaultBuntConfig() BuntConfig {
	return BuntConfig{
		SyncPolicy: buntdb.Never,
	}
}

// NewFromMemory creates an in-memory ledger with default configuration
func NewFromMemory() (*BuntLedger, error) {
	return NewBuntLedger(":memory:", DefaultBuntConfig())
}

// NewFromFile creates a file-based ledger with default configuration
func NewFromFile(file string) (*BuntLedger, error) {
	return NewBuntLedger(file, DefaultBuntConfig())
}

// NewBuntLedger creates a new BuntDB ledger instance with the specified configuration
func NewBuntLedger(sourceFile string, config BuntConfig) (*BuntLedger, error) {
	db, err := buntdb.Open(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}

	if err := db.SetConfig(buntdb.Config{
		SyncPolicy: config.SyncPolicy,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure buntdb: %w", err)
	}

	// Trades are appended in settlement order, the index keeps reads
	// ordered by settlement timestamp
	if err := db.CreateIndex(tradeIndexName, tradePrefix+"*", buntdb.IndexJSON("settled_at")); err != nil {
		return nil, fmt.Errorf("failed to create trade index: %w", err)
	}

	ledger := &BuntLedger{db: db}

	// Restore the trade sequence counter after a reopen
	err = db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(tradePrefix+"*", func(_, _ string) bool {
			ledger.lastSeq++
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to restore trade sequence: %w", err)
	}

	return ledger, nil
}

// nextSeq generates a monotonic sequence number for trade keys
func (b *BuntLedger) nextSeq() int64 {
	return atomic.AddInt64(&b.lastSeq, 1)
}

func userKey(id string) string {
	return userPrefix + id
}

// CreateUser registers a new user, a no-op for an existing id
func (b *BuntLedger) CreateUser(_ context.Context, id, username string) (*core.User, error) {
	var user core.User
	err := b.db.Update(func(tx *buntdb.Tx) error {
		if value, err := tx.Get(userKey(id)); err == nil {
			return json.Unmarshal([]byte(value), &user)
		}

		now := time.Now()
		user = core.User{
			ID:            id,
			Username:      username,
			DemoBalance:   core.InitialDemoBalance,
			Notifications: true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		content, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("failed to marshal user: %w", err)
		}

		_, _, err = tx.Set(userKey(id), string(content), nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &user, nil
}

// GetUser retrieves a user record
func (b *BuntLedger) GetUser(_ context.Context, id string) (*core.User, error) {
	var user core.User
	err := b.db.View(func(tx *buntdb.Tx) error {
		value, err := tx.Get(userKey(id))
		if err != nil {
			return core.ErrUserNotFound
		}
		return json.Unmarshal([]byte(value), &user)
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// updateUser applies fn to the stored user record inside a single transaction
func (b *BuntLedger) updateUser(id string, fn func(user *core.User) error) (*core.User, error) {
	var user core.User
	err := b.db.Update(func(tx *buntdb.Tx) error {
		value, err := tx.Get(userKey(id))
		if err != nil {
			return core.ErrUserNotFound
		}

		if err := json.Unmarshal([]byte(value), &user); err != nil {
			return fmt.Errorf("failed to unmarshal user: %w", err)
		}

		if err := fn(&user); err != nil {
			return err
		}
		user.UpdatedAt = time.Now()

		content, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("failed to marshal user: %w", err)
		}

		_, _, err = tx.Set(userKey(id), string(content), nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// ApplyBalanceDelta atomically adds delta to the given balance field
func (b *BuntLedger) ApplyBalanceDelta(_ context.Context, id string, field core.BalanceField, delta float64) (*core.User, error) {
	return b.updateUser(id, func(user *core.User) error {
		switch field {
		case core.FieldRealBalance:
			user.RealBalance += delta
		default:
			user.DemoBalance += delta
		}
		return nil
	})
}

// SetReferrer sets the user's referrer once, later writes are no-ops
func (b *BuntLedger) SetReferrer(_ context.Context, id, referrerID string) error {
	if id == referrerID {
		return core.ErrSelfReferral
	}

	_, err := b.updateUser(id, func(user *core.User) error {
		if user.ReferrerID == "" {
			user.ReferrerID = referrerID
		}
		return nil
	})
	return err
}

// AddReferralEarned accrues referral commission to a referrer
func (b *BuntLedger) AddReferralEarned(_ context.Context, id string, amount float64) (*core.User, error) {
	return b.updateUser(id, func(user *core.User) error {
		user.ReferralEarned += amount
		return nil
	})
}

// AppendTrade appends a settled trade to the global ledger. The user's
// history is the per-user view of the same records.
func (b *BuntLedger) AppendTrade(_ context.Context, trade *core.Trade) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		content, err := json.Marshal(trade)
		if err != nil {
			return fmt.Errorf("failed to marshal trade: %w", err)
		}

		key := fmt.Sprintf("%s%020d", tradePrefix, b.nextSeq())
		_, _, err = tx.Set(key, string(content), nil)
		if err != nil {
			return fmt.Errorf("failed to store trade: %w", err)
		}

		return nil
	})
}

// UserTrades returns the most recent trades of a user, newest first
func (b *BuntLedger) UserTrades(_ context.Context, id string, limit int) ([]*core.Trade, error) {
	trades := make([]*core.Trade, 0)

	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.Descend(tradeIndexName, func(key, value string) bool {
			var trade core.Trade
			if err := json.Unmarshal([]byte(value), &trade); err != nil {
				return true // skip malformed records
			}

			if trade.UserID != id {
				return true
			}

			trades = append(trades, &trade)
			return limit <= 0 || len(trades) < limit
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query user trades: %w", err)
	}

	return trades, nil
}

// Trades retrieves trades from the global ledger in settlement order
func (b *BuntLedger) Trades(_ context.Context, filters ...core.TradeFilter) ([]*core.Trade, error) {
	trades := make([]*core.Trade, 0)

	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend(tradeIndexName, func(key, value string) bool {
			var trade core.Trade
			if err := json.Unmarshal([]byte(value), &trade); err != nil {
				return true
			}

			for _, filter := range filters {
				if !filter(trade) {
					return true
				}
			}

			trades = append(trades, &trade)
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}

	return trades, nil
}

// RecordDeposit stores a pending deposit request
func (b *BuntLedger) RecordDeposit(_ context.Context, deposit *core.Deposit) error {
	return b.setJSON(depositPrefix+deposit.ID, deposit)
}

// RecordWithdrawal stores a pending withdrawal request
func (b *BuntLedger) RecordWithdrawal(_ context.Context, withdrawal *core.Withdrawal) error {
	return b.setJSON(withdrawalPrefix+withdrawal.ID, withdrawal)
}

func (b *BuntLedger) setJSON(key string, value any) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		content, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", strings.SplitN(key, ":", 2)[0], err)
		}

		_, _, err = tx.Set(key, string(content), nil)
		return err
	})
}

// Close closes the database connection
func (b *BuntLedger) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
