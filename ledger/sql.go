package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minitrade/binarybot/core"
	"github.com/samber/lo"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SQLLedger implements the core.Ledger interface using a SQL database via GORM.
// Per-user atomicity comes from wrapping each read-modify-write in a
// database transaction.
type SQLLedger struct {
	db *gorm.DB
}

// Config holds the configuration for SQL database connections
type Config struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a default configuration for SQL connections
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:    5,
		MaxOpenConns:    10,
		ConnMaxLifetime: time.Hour,
	}
}

// NewFromSQLite creates a new SQLite ledger instance
func NewFromSQLite(dbPath string, config Config, opts ...gorm.Option) (*SQLLedger, error) {
	dialect := sqlite.Open(dbPath)
	return newFromSQL(dialect, config, opts...)
}

// newFromSQL creates a new SQL ledger instance with the specified configuration
func newFromSQL(dialect gorm.Dialector, config Config, opts ...gorm.Option) (*SQLLedger, error) {
	db, err := gorm.Open(dialect, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err = db.AutoMigrate(&core.User{}, &core.Trade{}, &core.Deposit{}, &core.Withdrawal{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLLedger{db: db}, nil
}

// CreateUser registers a new user, a no-op for an existing id
func (s *SQLLedger) CreateUser(ctx context.Context, id, username string) (*core.User, error) {
	tx := s.db.WithContext(ctx)

	var user core.User
	if result := tx.First(&user, "id = ?", id); result.Error == nil {
		return &user, nil
	} else if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch user: %w", result.Error)
	}

	user = core.User{
		ID:            id,
		Username:      username,
		DemoBalance:   core.InitialDemoBalance,
		Notifications: true,
	}
	if result := tx.Create(&user); result.Error != nil {
		return nil, fmt.Errorf("failed to create user: %w", result.Error)
	}

	return &user, nil
}

// GetUser retrieves a user record
func (s *SQLLedger) GetUser(ctx context.Context, id string) (*core.User, error) {
	var user core.User
	result := s.db.WithContext(ctx).First(&user, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, core.ErrUserNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", result.Error)
	}

	return &user, nil
}

// updateUser applies fn to the stored user record inside a transaction
func (s *SQLLedger) updateUser(ctx context.Context, id string, fn func(user *core.User) error) (*core.User, error) {
	var user core.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.First(&user, "id = ?", id)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return core.ErrUserNotFound
		}
		if result.Error != nil {
			return fmt.Errorf("failed to fetch user: %w", result.Error)
		}

		if err := fn(&user); err != nil {
			return err
		}

		if result := tx.Save(&user); result.Error != nil {
			return fmt.Errorf("failed to update user: %w", result.Error)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// ApplyBalanceDelta atomically adds delta to the given balance field
func (s *SQLLedger) ApplyBalanceDelta(ctx context.Context, id string, field core.BalanceField, delta float64) (*core.User, error) {
	return s.updateUser(ctx, id, func(user *core.User) error {
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
func (s *SQLLedger) SetReferrer(ctx context.Context, id, referrerID string) error {
	if id == referrerID {
		return core.ErrSelfReferral
	}

	_, err := s.updateUser(ctx, id, func(user *core.User) error {
		if user.ReferrerID == "" {
			user.ReferrerID = referrerID
		}
		return nil
	})
	return err
}

// AddReferralEarned accrues referral commission to a referrer
func (s *SQLLedger) AddReferralEarned(ctx context.Context, id string, amount float64) (*core.User, error) {
	return s.updateUser(ctx, id, func(user *core.User) error {
		user.ReferralEarned += amount
		return nil
	})
}

// AppendTrade appends a settled trade to the global ledger
func (s *SQLLedger) AppendTrade(ctx context.Context, trade *core.Trade) error {
	if result := s.db.WithContext(ctx).Create(trade); result.Error != nil {
		return fmt.Errorf("failed to store trade: %w", result.Error)
	}
	return nil
}

// UserTrades returns the most recent trades of a user, newest first
func (s *SQLLedger) UserTrades(ctx context.Context, id string, limit int) ([]*core.Trade, error) {
	query := s.db.WithContext(ctx).
		Where("user_id = ?", id).
		Order("settled_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var trades []*core.Trade
	if result := query.Find(&trades); result.Error != nil {
		return nil, fmt.Errorf("failed to fetch user trades: %w", result.Error)
	}

	return trades, nil
}

// Trades retrieves trades from the global ledger in settlement order
func (s *SQLLedger) Trades(ctx context.Context, filters ...core.TradeFilter) ([]*core.Trade, error) {
	var trades []*core.Trade
	result := s.db.WithContext(ctx).Order("settled_at ASC").Find(&trades)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch trades: %w", result.Error)
	}

	if len(filters) > 0 {
		trades = lo.Filter(trades, func(trade *core.Trade, _ int) bool {
			for _, filter := range filters {
				if !filter(*trade) {
					return false
				}
			}
			return true
		})
	}

	return trades, nil
}

// RecordDeposit stores a pending deposit request
func (s *SQLLedger) RecordDeposit(ctx context.Context, deposit *core.Deposit) error {
	if result := s.db.WithContext(ctx).Create(deposit); result.Error != nil {
		return fmt.Errorf("failed to store deposit: %w", result.Error)
	}
	return nil
}

// RecordWithdrawal stores a pending withdrawal request
func (s *SQLLedger) RecordWithdrawal(ctx context.Context, withdrawal *core.Withdrawal) error {
	if result := s.db.WithContext(ctx).Create(withdrawal); result.Error != nil {
		return fmt.Errorf("failed to store withdrawal: %w", result.Error)
	}
	return nil
}

// Close closes the database connection
func (s *SQLLedger) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
