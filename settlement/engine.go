package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"github.com/minitrade/binarybot/core"
)

// Status represents the current state of the settlement engine
type Status string

// Available engine statuses
const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Engine owns the pending-trade registry, resolution timing, outcome
// determination and balance mutation. Placement is synchronous; resolution
// arrives asynchronously from the expiry scheduler or from candle-close
// events, and every settlement path serializes on a per-user lock.
type Engine struct {
	ledger    core.Ledger
	oracle    core.PriceOracle
	log       core.Logger
	settings  core.TradingSettings
	registry  *PendingRegistry
	scheduler *ExpiryScheduler
	accrual   *Accrual
	tradeFeed *Feed
	notifier  core.Notifier

	userLocks sync.Map // user id -> *sync.Mutex

	randMu sync.Mutex
	rand   *rand.Rand

	statusMu sync.Mutex
	status   Status
}

// NewEngine creates a new settlement engine
func NewEngine(ledger core.Ledger, oracle core.PriceOracle, log core.Logger,
	tradeFeed *Feed, settings core.TradingSettings) *Engine {

	return &Engine{
		ledger:    ledger,
		oracle:    oracle,
		log:       log,
		settings:  settings,
		registry:  NewPendingRegistry(),
		scheduler: NewExpiryScheduler(),
		accrual:   NewAccrual(ledger, log, settings.ReferralRate),
		tradeFeed: tradeFeed,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		status:    StatusStopped,
	}
}

// SetNotifier configures a notifier for the engine
func (e *Engine) SetNotifier(notifier core.Notifier) {
	e.notifier = notifier
}

// SetRandom replaces the randomness source, used by tests to force outcomes
func (e *Engine) SetRandom(r *rand.Rand) {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	e.rand = r
}

// Status returns the current engine status
func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

// Start begins consuming expiry events from the scheduler
func (e *Engine) Start(ctx context.Context) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	if e.status == StatusRunning {
		return
	}
	e.status = StatusRunning

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-e.scheduler.Expirations():
				e.OnTimerFired(ctx, event.TradeID)
			}
		}
	}()

	e.log.Info("Settlement engine started.")
}

// Stop disarms pending timers and halts the engine
func (e *Engine) Stop() {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	if e.status == StatusStopped {
		return
	}
	e.status = StatusStopped

	e.scheduler.Stop()
	e.log.Info("Settlement engine stopped")
}

// PlaceTrade validates and registers a new pending trade. Funds are
// earmarked only: the balance is adjusted at settlement, not placement.
func (e *Engine) PlaceTrade(ctx context.Context, input core.PlaceTradeInput) (*core.Trade, error) {
	if input.Amount < e.settings.MinTrade || input.Amount > e.settings.MaxTrade {
		return nil, fmt.Errorf("%w: %.2f not in [%.2f, %.2f]",
			core.ErrInvalidAmount, input.Amount, e.settings.MinTrade, e.settings.MaxTrade)
	}

	// Entry price is captured before the user lock, the oracle call may
	// be network-bound
	entryPrice, err := e.oracle.LastQuote(ctx, input.Market)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrNoPriceAvailable, input.Market)
	}

	lock := e.userLock(input.UserID)
	lock.Lock()
	defer lock.Unlock()

	user, err := e.ledger.GetUser(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	trade := &core.Trade{
		ID:         uuid.NewString(),
		UserID:     input.UserID,
		Market:     input.Market,
		Amount:     input.Amount,
		Direction:  input.Direction,
		Mode:       input.Mode,
		Status:     core.TradeStatusPending,
		EntryPrice: entryPrice,
		EntryTime:  time.Now(),
	}

	if user.Balance(trade.BalanceField()) < input.Amount {
		return nil, fmt.Errorf("%w: %s balance %.2f below stake %.2f",
			core.ErrInsufficientFunds, input.Mode, user.Balance(trade.BalanceField()), input.Amount)
	}

	if input.Resolution.Interval != "" {
		trade.Interval = input.Resolution.Interval
	} else {
		trade.Expiry = e.randomExpiry()
	}

	e.registry.Add(trade)

	if trade.Interval == "" {
		e.scheduler.Schedule(trade.ID, trade.Expiry)
	}

	e.log.Infof("[TRADE PLACED] %s", trade)

	placed := *trade
	return &placed, nil
}

// OnTimerFired resolves a timer-based trade. A second event for the same
// trade id is a no-op.
func (e *Engine) OnTimerFired(ctx context.Context, tradeID string) {
	trade, ok := e.registry.Take(tradeID)
	if !ok {
		e.log.WithField("id", tradeID).Debugf("duplicate settlement trigger suppressed")
		return
	}

	var (
		exitPrice float64
		hasPrice  bool
	)

	// Demo timer trades are resolved by the configured coin flip alone,
	// real trades compare against a live exit price
	if trade.Mode == core.ModeReal {
		price, err := e.fetchExitPrice(ctx, trade.Market)
		if err != nil {
			e.settlePush(ctx, trade)
			return
		}
		exitPrice = price
		hasPrice = true
	}

	result := e.determineOutcome(trade, exitPrice, hasPrice)
	if err := e.settle(ctx, trade, exitPrice, result); err != nil {
		e.notifyError(e.settlementError(trade, err))
	}
}

// OnCandleClosed resolves all pending trades on (market, interval) whose
// entry time precedes closeTime, in placement order. Duplicate delivery of
// the same event finds an empty registry slice and changes nothing.
func (e *Engine) OnCandleClosed(ctx context.Context, market, interval string, closeTime time.Time, closePrice float64) {
	due := e.registry.TakeDue(market, interval, closeTime)
	if len(due) == 0 {
		return
	}

	e.log.WithFields(map[string]any{"market": market, "interval": interval}).
		Infof("[CANDLE CLOSE] resolving %d trade(s) at %.2f", len(due), closePrice)

	for _, trade := range due {
		result := e.determineOutcome(trade, closePrice, true)
		if err := e.settle(ctx, trade, closePrice, result); err != nil {
			e.notifyError(e.settlementError(trade, err))
		}
	}
}

// PendingTrades returns the user's pending trades in placement order
func (e *Engine) PendingTrades(userID string) []*core.Trade {
	return e.registry.ByUser(userID)
}

// History returns the user's most recent settled trades, newest first
func (e *Engine) History(ctx context.Context, userID string, limit int) ([]*core.Trade, error) {
	return e.ledger.UserTrades(ctx, userID, limit)
}

// determineOutcome decides win or loss. Without a price the outcome is the
// configured coin flip for the trade's mode; with one it is the direction
// comparison, ties lose, optionally gated by the same probability knob.
func (e *Engine) determineOutcome(trade *core.Trade, exitPrice float64, hasPrice bool) core.TradeResultType {
	if !hasPrice {
		if e.chance(e.winProbability(trade.Mode)) {
			return core.TradeResultWin
		}
		return core.TradeResultLoss
	}

	won := (trade.Direction == core.DirectionUp && exitPrice > trade.EntryPrice) ||
		(trade.Direction == core.DirectionDown && exitPrice < trade.EntryPrice)

	if won && e.settings.ApplyWinProbability {
		won = e.chance(e.winProbability(trade.Mode))
	}

	if won {
		return core.TradeResultWin
	}
	return core.TradeResultLoss
}

// settle applies the outcome of a trade exactly once: balance delta,
// terminal status, history append, referral accrual and notification.
// The caller must already have removed the trade from the registry.
func (e *Engine) settle(ctx context.Context, trade *core.Trade, exitPrice float64, result core.TradeResultType) error {
	lock := e.userLock(trade.UserID)
	lock.Lock()
	defer lock.Unlock()

	user, err := e.ledger.GetUser(ctx, trade.UserID)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			// Registry entry is already gone, never leave it dangling
			e.log.WithField("id", trade.ID).Error("settlement for vanished user: ", trade)
			return fmt.Errorf("%w: trade %s user %s", core.ErrOrphanedTrade, trade.ID, trade.UserID)
		}
		return err
	}

	trade.Status = core.TradeStatusSettled
	trade.Result = result
	trade.ExitPrice = exitPrice
	trade.SettledAt = time.Now()

	switch result {
	case core.TradeResultWin:
		trade.Profit = trade.Amount * e.settings.PayoutPercent
	case core.TradeResultLoss:
		trade.Profit = -trade.Amount * e.settings.LossPercent
	case core.TradeResultPush:
		trade.Profit = 0
		trade.NeedsReview = true
	}

	if trade.Profit != 0 {
		if _, err := e.ledger.ApplyBalanceDelta(ctx, trade.UserID, trade.BalanceField(), trade.Profit); err != nil {
			return fmt.Errorf("failed to apply settlement delta: %w", err)
		}
	}

	if err := e.ledger.AppendTrade(ctx, trade); err != nil {
		e.notifyError(fmt.Errorf("failed to record trade history: %w", err))
	}

	if result == core.TradeResultWin && user.ReferrerID != "" {
		e.accrual.Credit(ctx, user.ReferrerID, trade.Amount)
	}

	e.log.Infof("[TRADE %s] %s", trade.Result, trade)

	if e.tradeFeed != nil {
		go e.tradeFeed.Publish(*trade)
	}
	if e.notifier != nil {
		e.notifier.OnTrade(*trade)
	}

	return nil
}

// settlePush settles a trade as a push after the exit price could not be
// obtained: the stake is returned and the trade is flagged for review.
func (e *Engine) settlePush(ctx context.Context, trade *core.Trade) {
	e.log.WithField("id", trade.ID).Warn("exit price unavailable, settling as push: ", trade.Market)
	if err := e.settle(ctx, trade, 0, core.TradeResultPush); err != nil {
		e.notifyError(e.settlementError(trade, err))
	}
}

// settlementError wraps a settlement failure with its trade context
func (e *Engine) settlementError(trade *core.Trade, err error) error {
	return &core.SettlementError{
		TradeID: trade.ID,
		Market:  trade.Market,
		Amount:  trade.Amount,
		Err:     err,
	}
}

// fetchExitPrice retrieves the exit price with bounded backoff retries
func (e *Engine) fetchExitPrice(ctx context.Context, market string) (float64, error) {
	retry := &backoff.Backoff{
		Min: 100 * time.Millisecond,
		Max: 2 * time.Second,
	}

	for attempt := 0; attempt <= e.settings.PriceRetries; attempt++ {
		price, err := e.oracle.LastQuote(ctx, market)
		if err == nil {
			return price, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(retry.Duration()):
		}
	}

	return 0, fmt.Errorf("%w: %s after %d retries", core.ErrNoPriceAvailable, market, e.settings.PriceRetries)
}

// userLock returns the mutex serializing placements and settlements for a user
func (e *Engine) userLock(userID string) *sync.Mutex {
	lock, _ := e.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// winProbability returns the coin-flip probability for a mode
func (e *Engine) winProbability(mode core.ModeType) float64 {
	if mode == core.ModeReal {
		return e.settings.RealWinProbability
	}
	return e.settings.DemoWinProbability
}

// chance returns true with probability p
func (e *Engine) chance(p float64) bool {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Float64() < p
}

// randomExpiry picks one of the configured expiries uniformly at random
func (e *Engine) randomExpiry() time.Duration {
	choices := e.settings.ExpiryChoices
	if len(choices) == 0 {
		return time.Minute
	}

	e.randMu.Lock()
	defer e.randMu.Unlock()
	return choices[e.rand.Intn(len(choices))]
}

// notifyError sends an error through the logging system and notifier
func (e *Engine) notifyError(err error) {
	e.log.Error(err)
	if e.notifier != nil {
		e.notifier.OnError(err)
	}
}
