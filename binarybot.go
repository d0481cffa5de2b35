package binarybot

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/minitrade/binarybot/api"
	"github.com/minitrade/binarybot/core"
	"github.com/minitrade/binarybot/ledger"
	"github.com/minitrade/binarybot/logger/zerolog"
	"github.com/minitrade/binarybot/notification"
	"github.com/minitrade/binarybot/oracle"
	"github.com/minitrade/binarybot/settlement"
)

const defaultDatabase = "binarybot.db"

// BinaryBot wires the price oracle, the settlement engine, the balance
// ledger and the session layers into one runnable application.
type BinaryBot struct {
	settings core.Settings
	ledger   core.Ledger
	oracle   core.PriceOracle
	notifier core.Notifier
	telegram core.NotifierWithStart
	logger   core.Logger

	engine     *settlement.Engine
	tradeFeed  *settlement.Feed
	candleFeed *oracle.CandleFeedSubscription
	apiServer  *api.Server
}

type Option func(*BinaryBot)

// NewBot creates a new BinaryBot instance with the provided settings and dependencies
func NewBot(ctx context.Context, settings core.Settings, priceOracle core.PriceOracle,
	options ...Option) (*BinaryBot, error) {

	bot := &BinaryBot{
		settings:  settings,
		oracle:    priceOracle,
		tradeFeed: settlement.NewTradeFeed(),
	}

	if err := validateSettings(settings); err != nil {
		return nil, err
	}

	// Initialize logger before anything that needs it
	if err := initializeLogger(bot); err != nil {
		return nil, err
	}

	bot.candleFeed = oracle.NewCandleFeed(priceOracle, bot.logger)

	// Apply custom options
	for _, option := range options {
		option(bot)
	}

	if err := initializeLedger(bot); err != nil {
		return nil, err
	}

	bot.engine = settlement.NewEngine(bot.ledger, priceOracle, bot.logger, bot.tradeFeed, settings.Trading)

	if err := initializeNotifications(bot, settings); err != nil {
		return nil, err
	}

	if bot.notifier != nil {
		bot.engine.SetNotifier(bot.notifier)
		bot.SubscribeTrade(bot.notifier)
	}

	if settings.API.Enabled {
		bot.apiServer = api.NewServer(bot.ledger, bot.engine, &bot.settings, bot.logger)
	}

	return bot, nil
}

// validateSettings checks the parts of the configuration that cannot
// have sensible defaults
func validateSettings(settings core.Settings) error {
	if len(settings.Markets) == 0 {
		return fmt.Errorf("no markets configured")
	}

	for _, market := range settings.Markets {
		if market == "" {
			return fmt.Errorf("invalid market: %q", market)
		}
	}

	if settings.Interval == "" {
		return fmt.Errorf("no candle interval configured")
	}

	if _, err := str2duration.ParseDuration(settings.Interval); err != nil {
		return fmt.Errorf("invalid candle interval %q: %w", settings.Interval, err)
	}

	return nil
}

// initializeLedger sets up the bot's balance and history storage
func initializeLedger(bot *BinaryBot) error {
	var err error
	if bot.ledger == nil {
		bot.ledger, err = ledger.NewFromFile(defaultDatabase)
		if err != nil {
			return err
		}
	}
	return nil
}

// initializeNotifications sets up the Telegram session layer
func initializeNotifications(bot *BinaryBot, settings core.Settings) error {
	var err error
	if settings.Telegram.Enabled {
		bot.telegram, err = notification.NewTelegram(bot.ledger, bot.engine, &bot.settings, bot.logger)
		if err != nil {
			return err
		}
		WithNotifier(bot.telegram)(bot)
	}
	return nil
}

// initializeLogger sets up the logging system
func initializeLogger(bot *BinaryBot) error {
	if bot.logger != nil {
		return nil
	}

	log, err := zerolog.NewZerolog("debug", "2006-01-02 15:04:05", true, false)
	if err != nil {
		return err
	}
	bot.logger = &zerolog.ZerologAdapter{Logger: log.Logger}
	return nil
}

// WithLedger sets the ledger for the bot, by default it uses a local file
// called binarybot.db
func WithLedger(ledger core.Ledger) Option {
	return func(bot *BinaryBot) {
		bot.ledger = ledger
	}
}

// WithLogger replaces the default zerolog console logger
func WithLogger(logger core.Logger) Option {
	return func(bot *BinaryBot) {
		bot.logger = logger
	}
}

// WithLogLevel sets the log level. eg: core.DebugLevel, core.InfoLevel,
// core.WarnLevel, core.ErrorLevel, core.FatalLevel
func WithLogLevel(level core.Level) Option {
	return func(bot *BinaryBot) {
		bot.logger.SetLevel(level)
	}
}

// WithNotifier registers a notifier to the bot. It is attached to the
// settlement engine and the settled-trade feed once both exist.
func WithNotifier(notifier core.Notifier) Option {
	return func(bot *BinaryBot) {
		bot.notifier = notifier
	}
}

// WithCandleSubscription subscribes a given struct to the candle feed
func WithCandleSubscription(subscriber core.CandleSubscriber) Option {
	return func(bot *BinaryBot) {
		bot.SubscribeCandle(subscriber)
	}
}

// WithTradeSubscription subscribes a given struct to settled trades
func WithTradeSubscription(subscriber core.TradeSubscriber) Option {
	return func(bot *BinaryBot) {
		bot.SubscribeTrade(subscriber)
	}
}

// SubscribeCandle attaches subscribers to the closed-candle stream of
// every configured market
func (b *BinaryBot) SubscribeCandle(subscriptions ...core.CandleSubscriber) {
	for _, market := range b.settings.Markets {
		for _, subscription := range subscriptions {
			b.candleFeed.Subscribe(market, b.settings.Interval, subscription.OnCandle, true)
		}
	}
}

// SubscribeTrade attaches subscribers to the settled-trade stream of
// every configured market
func (b *BinaryBot) SubscribeTrade(subscriptions ...core.TradeSubscriber) {
	for _, market := range b.settings.Markets {
		for _, subscription := range subscriptions {
			b.tradeFeed.Subscribe(market, subscription.OnTrade)
		}
	}
}

// Engine exposes the settlement engine, the trade placement surface
func (b *BinaryBot) Engine() *settlement.Engine {
	return b.engine
}

// Ledger exposes the balance and history storage
func (b *BinaryBot) Ledger() core.Ledger {
	return b.ledger
}

// onCandleClose routes a closed candle into the settlement engine
func (b *BinaryBot) onCandleClose(candle core.Candle) {
	interval, err := str2duration.ParseDuration(candle.Interval)
	if err != nil {
		b.logger.WithError(err).Error("binarybot/onCandleClose: bad interval: ", candle.Interval)
		return
	}

	b.engine.OnCandleClosed(context.Background(), candle.Market, candle.Interval,
		candle.CloseTime(interval), candle.Close)
}

// Summary displays per-market settlement statistics in stdout
func (b *BinaryBot) Summary(ctx context.Context) {
	var (
		total  float64
		wins   int
		losses int
		pushes int
		volume float64
	)

	buffer := bytes.NewBuffer(nil)
	table := tablewriter.NewWriter(buffer)
	table.SetHeader([]string{"Market", "Trades", "Win", "Loss", "Push", "% Win", "Payoff", "Pr Fact.", "SQN", "Profit", "Volume"})
	table.SetFooterAlignment(tablewriter.ALIGN_RIGHT)

	for _, market := range b.settings.Markets {
		summary, err := settlement.BuildSummary(ctx, b.ledger, market)
		if err != nil {
			b.logger.WithError(err).Error("binarybot/summary: ", err)
			continue
		}

		table.Append([]string{
			summary.Market,
			strconv.Itoa(len(summary.Win()) + len(summary.Loss()) + summary.Pushes),
			strconv.Itoa(len(summary.Win())),
			strconv.Itoa(len(summary.Loss())),
			strconv.Itoa(summary.Pushes),
			fmt.Sprintf("%.1f %%", summary.WinRate()),
			fmt.Sprintf("%.3f", summary.Payoff()),
			fmt.Sprintf("%.3f", summary.ProfitFactor()),
			fmt.Sprintf("%.1f", summary.SQN()),
			fmt.Sprintf("%.2f", summary.Profit()),
			fmt.Sprintf("%.2f", summary.Volume),
		})

		total += summary.Profit()
		wins += len(summary.Win())
		losses += len(summary.Loss())
		pushes += summary.Pushes
		volume += summary.Volume
	}

	winRate := 0.0
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses) * 100
	}

	table.SetFooter([]string{
		"TOTAL",
		strconv.Itoa(wins + losses + pushes),
		strconv.Itoa(wins),
		strconv.Itoa(losses),
		strconv.Itoa(pushes),
		fmt.Sprintf("%.1f %%", winRate),
		"", "", "",
		fmt.Sprintf("%.2f", total),
		fmt.Sprintf("%.2f", volume),
	})
	table.Render()

	fmt.Println(buffer.String())
}

// Run starts the settlement engine, the session layers and the candle
// feed, then blocks until the feed disconnects or the context ends
func (b *BinaryBot) Run(ctx context.Context) error {
	// candle-close events drive price-based settlement
	for _, market := range b.settings.Markets {
		b.candleFeed.Subscribe(market, b.settings.Interval, b.onCandleClose, true)
	}

	b.tradeFeed.Start()
	b.engine.Start(ctx)
	defer b.engine.Stop()

	if b.telegram != nil {
		b.telegram.Start()
	}

	if b.apiServer != nil {
		go func() {
			if err := b.apiServer.Start(); err != nil {
				b.logger.WithError(err).Error("binarybot/run: api server: ", err)
			}
		}()
		defer func() {
			if err := b.apiServer.Shutdown(context.Background()); err != nil {
				b.logger.WithError(err).Error("binarybot/run: api shutdown: ", err)
			}
		}()
	}

	// blocks until every candle feed terminates
	b.candleFeed.Start(ctx, true)

	return nil
}
