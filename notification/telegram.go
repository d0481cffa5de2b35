// Package notification provides implementations for user-facing notification services
package notification

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"slices"

	"github.com/google/uuid"
	tb "gopkg.in/tucnak/telebot.v2"

	"github.com/minitrade/binarybot/core"
)

// Constants and regex patterns
const (
	pollingTimeout = 10 * time.Second
	historyLimit   = 10
)

var (
	tradeRegexp    = regexp.MustCompile(`/trade\s+(?P<market>\w+)\s+(?P<amount>\d+(?:\.\d+)?)\s+(?P<direction>up|down)(?:\s+(?P<mode>demo|real))?`)
	depositRegexp  = regexp.MustCompile(`/deposit\s+(?P<amount>\d+(?:\.\d+)?)\s+(?P<method>\w+)(?:\s+(?P<txid>\S+))?`)
	withdrawRegexp = regexp.MustCompile(`/withdraw\s+(?P<amount>\d+(?:\.\d+)?)\s+(?P<address>\S+)`)
	startPayload   = regexp.MustCompile(`^ref_(?P<referrer>\d+)$`)
)

// Telegram implements the core.NotifierWithStart interface. It is the
// session layer of the bot: every handler resolves the sender to a ledger
// user keyed by the Telegram chat id.
type Telegram struct {
	settings    *core.Settings
	ledger      core.Ledger
	placer      core.TradePlacer
	defaultMenu *tb.ReplyMarkup
	client      *tb.Bot
	log         core.Logger
}

// Option is a function that configures a telegram instance
type Option func(telegram *Telegram)

// NewTelegram creates and initializes a new Telegram service
func NewTelegram(ledger core.Ledger, placer core.TradePlacer, settings *core.Settings, log core.Logger, options ...Option) (
	core.NotifierWithStart,
	error,
) {
	menu := &tb.ReplyMarkup{ResizeReplyKeyboard: true}
	poller := &tb.LongPoller{Timeout: pollingTimeout}
	middleware := newSenderMiddleware(poller, log)

	client, err := initializeBotClient(settings, middleware)
	if err != nil {
		return nil, err
	}

	setupKeyboard(menu)
	if err := setupCommands(client); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}

	bot := &Telegram{
		ledger:      ledger,
		placer:      placer,
		client:      client,
		settings:    settings,
		defaultMenu: menu,
		log:         log,
	}

	// Apply custom options if provided
	for _, option := range options {
		option(bot)
	}

	registerHandlers(client, bot)

	return bot, nil
}

// initializeBotClient creates and configures the Telegram bot client
func initializeBotClient(settings *core.Settings, middleware *tb.MiddlewarePoller) (*tb.Bot, error) {
	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     settings.Telegram.Token,
		Poller:    middleware,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return client, nil
}

// newSenderMiddleware drops updates without an identifiable sender. The
// bot itself is public: anyone may register and trade the demo balance.
func newSenderMiddleware(poller *tb.LongPoller, log core.Logger) *tb.MiddlewarePoller {
	return tb.NewMiddlewarePoller(poller, func(u *tb.Update) bool {
		if u.Message == nil || u.Message.Sender == nil {
			log.Error("message or sender is nil ", u)
			return false
		}
		return true
	})
}

// setupKeyboard configures the reply keyboard layout
func setupKeyboard(menu *tb.ReplyMarkup) {
	var (
		balanceBtn  = menu.Text("/balance")
		pendingBtn  = menu.Text("/pending")
		historyBtn  = menu.Text("/history")
		tradeBtn    = menu.Text("/trade")
		depositBtn  = menu.Text("/deposit")
		withdrawBtn = menu.Text("/withdraw")
		referralBtn = menu.Text("/referral")
	)

	menu.Reply(
		menu.Row(balanceBtn, pendingBtn, historyBtn),
		menu.Row(tradeBtn, depositBtn, withdrawBtn, referralBtn),
	)
}

// setupCommands configures available bot commands
func setupCommands(client *tb.Bot) error {
	return client.SetCommands([]tb.Command{
		{Text: "/help", Description: "Display help instructions"},
		{Text: "/start", Description: "Register and open the main menu"},
		{Text: "/balance", Description: "Demo and real balances"},
		{Text: "/trade", Description: "Place an up/down trade"},
		{Text: "/pending", Description: "List pending trades"},
		{Text: "/history", Description: "Last settled trades"},
		{Text: "/deposit", Description: "Request a deposit"},
		{Text: "/withdraw", Description: "Request a withdrawal"},
		{Text: "/referral", Description: "Referral link and earnings"},
	})
}

// registerHandlers registers all command handlers
func registerHandlers(client *tb.Bot, bot *Telegram) {
	client.Handle("/start", bot.StartHandle)
	client.Handle("/help", bot.HelpHandle)
	client.Handle("/balance", bot.BalanceHandle)
	client.Handle("/trade", bot.TradeHandle)
	client.Handle("/pending", bot.PendingHandle)
	client.Handle("/history", bot.HistoryHandle)
	client.Handle("/deposit", bot.DepositHandle)
	client.Handle("/withdraw", bot.WithdrawHandle)
	client.Handle("/referral", bot.ReferralHandle)
}

// Start begins the Telegram bot polling loop
func (t *Telegram) Start() {
	go t.client.Start()
	t.log.Info("Telegram session layer started")
}

// Notify sends a message to all operator users
func (t *Telegram) Notify(text string) {
	for _, user := range t.settings.Telegram.Users {
		if _, err := t.client.Send(&tb.User{ID: user}, text); err != nil {
			t.log.WithError(err).Error("failed to send notification")
		}
	}
}

// sendMessage sends a message to a specific user
func (t *Telegram) sendMessage(to *tb.User, text string, options ...interface{}) {
	if _, err := t.client.Send(to, text, options...); err != nil {
		t.log.WithError(err).Error("failed to send message")
	}
}

func userID(sender *tb.User) string {
	return strconv.FormatInt(sender.ID, 10)
}

// StartHandle registers the sender, captures an optional referral deep
// link payload and opens the main menu
func (t *Telegram) StartHandle(m *tb.Message) {
	ctx := context.Background()
	id := userID(m.Sender)

	user, err := t.ledger.CreateUser(ctx, id, m.Sender.Username)
	if err != nil {
		t.reportError(m.Sender, err)
		return
	}

	if match := startPayload.FindStringSubmatch(strings.TrimSpace(m.Payload)); match != nil {
		referrerID := match[1]
		if err := t.ledger.SetReferrer(ctx, id, referrerID); err != nil {
			// referral capture is best-effort, registration still succeeded
			t.log.WithField("user", id).WithError(err).Warn("referral link not applied")
		} else if chatID, err := strconv.ParseInt(referrerID, 10, 64); err == nil {
			t.sendMessage(&tb.User{ID: chatID},
				fmt.Sprintf("🎉 *%s* joined with your referral link. You earn %.0f%% of their winning stakes.",
					user.Username, t.settings.Trading.ReferralRate*100))
		}
	}

	welcome := fmt.Sprintf("Welcome, *%s*!\nDemo balance: `$%.2f`\n\nUse /trade to place your first trade.",
		user.Username, user.DemoBalance)
	t.sendMessage(m.Sender, welcome, t.defaultMenu)
}

// HelpHandle displays available commands
func (t *Telegram) HelpHandle(m *tb.Message) {
	commands, err := t.client.GetCommands()
	if err != nil {
		t.reportError(m.Sender, err)
		return
	}

	lines := make([]string, 0, len(commands))
	for _, command := range commands {
		lines = append(lines, fmt.Sprintf("%s - %s", command.Text, command.Description))
	}

	t.sendMessage(m.Sender, strings.Join(lines, "\n"))
}

// BalanceHandle shows the sender's balances
func (t *Telegram) BalanceHandle(m *tb.Message) {
	user, err := t.ledger.GetUser(context.Background(), userID(m.Sender))
	if err != nil {
		t.reportError(m.Sender, err)
		return
	}

	message := fmt.Sprintf("*BALANCE*\nDemo: `$%.2f`\nReal: `$%.2f`\nReferral earned: `$%.2f`",
		user.DemoBalance, user.RealBalance, user.ReferralEarned)
	t.sendMessage(m.Sender, message)
}

// TradeHandle processes trade commands
func (t *Telegram) TradeHandle(m *tb.Message) {
	match := tradeRegexp.FindStringSubmatch(m.Text)
	if len(match) == 0 {
		t.sendMessage(m.Sender, "Invalid command.\nExamples of usage:\n`/trade BTCUSDT 100 up`\n\n`/trade BTCUSDT 50 down real`")
		return
	}

	if err := t.processTrade(m.Sender, match); err != nil {
		t.reportError(m.Sender, err)
	}
}

// processTrade handles the trade placement logic
func (t *Telegram) processTrade(sender *tb.User, match []string) error {
	command := extractCommandParams(tradeRegexp, match)

	amount, err := strconv.ParseFloat(command["amount"], 64)
	if err != nil {
		return fmt.Errorf("failed to parse amount: %w", err)
	}

	mode := core.ModeDemo
	if command["mode"] == string(core.ModeReal) {
		mode = core.ModeReal
	}

	trade, err := t.placer.PlaceTrade(context.Background(), core.PlaceTradeInput{
		UserID:     userID(sender),
		Market:     strings.ToUpper(command["market"]),
		Amount:     amount,
		Direction:  core.DirectionType(command["direction"]),
		Mode:       mode,
		Resolution: core.TimerResolution(),
	})
	if err != nil {
		return err
	}

	t.log.Info("[TELEGRAM]: TRADE PLACED: ", trade)
	t.sendMessage(sender, fmt.Sprintf("Trade placed.\n`%s`\nResolves in `%s`.", trade, trade.Expiry))
	return nil
}

// PendingHandle lists the sender's pending trades
func (t *Telegram) PendingHandle(m *tb.Message) {
	pending := t.placer.PendingTrades(userID(m.Sender))
	if len(pending) == 0 {
		t.sendMessage(m.Sender, "No pending trades.")
		return
	}

	lines := make([]string, 0, len(pending))
	for _, trade := range pending {
		lines = append(lines, fmt.Sprintf("`%s`", trade))
	}

	t.sendMessage(m.Sender, "*PENDING*\n"+strings.Join(lines, "\n"))
}

// HistoryHandle shows the sender's last settled trades
func (t *Telegram) HistoryHandle(m *tb.Message) {
	trades, err := t.placer.History(context.Background(), userID(m.Sender), historyLimit)
	if err != nil {
		t.reportError(m.Sender, err)
		return
	}

	if len(trades) == 0 {
		t.sendMessage(m.Sender, "No trades registered.")
		return
	}

	lines := make([]string, 0, len(trades))
	for _, trade := range trades {
		lines = append(lines, fmt.Sprintf("`%s`", trade))
	}

	t.sendMessage(m.Sender, "*HISTORY*\n"+strings.Join(lines, "\n"))
}

// DepositHandle records a deposit request for admin processing
func (t *Telegram) DepositHandle(m *tb.Message) {
	match := depositRegexp.FindStringSubmatch(m.Text)
	if len(match) == 0 {
		t.sendMessage(m.Sender, "Invalid command.\nExample of usage:\n`/deposit 100 usdt <txid>`")
		return
	}

	command := extractCommandParams(depositRegexp, match)
	amount, err := strconv.ParseFloat(command["amount"], 64)
	if err != nil {
		t.reportError(m.Sender, err)
		return
	}

	if amount < t.settings.Trading.MinDeposit || amount > t.settings.Trading.MaxDeposit {
		t.sendMessage(m.Sender, fmt.Sprintf("Amount must be between `$%.2f` and `$%.2f`.",
			t.settings.Trading.MinDeposit, t.settings.Trading.MaxDeposit))
		return
	}

	deposit := &core.Deposit{
		ID:        uuid.NewString(),
		UserID:    userID(m.Sender),
		Amount:    amount,
		Method:    strings.ToLower(command["method"]),
		TxID:      command["txid"],
		Status:    core.StatusPending,
		CreatedAt: time.Now(),
	}

	if err := t.ledger.RecordDeposit(context.Background(), deposit); err != nil {
		t.reportError(m.Sender, err)
		return
	}

	t.Notify(fmt.Sprintf("New deposit request: $%.2f via %s from %s", deposit.Amount, deposit.Method, deposit.UserID))
	t.sendMessage(m.Sender, "Deposit request received. It will be credited after confirmation.")
}

// WithdrawHandle records a withdrawal request for admin processing
func (t *Telegram) WithdrawHandle(m *tb.Message) {
	match := withdrawRegexp.FindStringSubmatch(m.Text)
	if len(match) == 0 {
		t.sendMessage(m.Sender, "Invalid command.\nExample of usage:\n`/withdraw 100 <address>`")
		return
	}

	command := extractCommandParams(withdrawRegexp, match)
	amount, err := strconv.ParseFloat(command["amount"], 64)
	if err != nil {
		t.reportError(m.Sender, err)
		return
	}

	user, err := t.ledger.GetUser(context.Background(), userID(m.Sender))
	if err != nil {
		t.reportError(m.Sender, err)
		return
	}

	if amount < t.settings.Trading.MinDeposit || amount > user.RealBalance {
		t.sendMessage(m.Sender, fmt.Sprintf("Amount must be between `$%.2f` and your real balance `$%.2f`.",
			t.settings.Trading.MinDeposit, user.RealBalance))
		return
	}

	withdrawal := &core.Withdrawal{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Amount:    amount,
		Address:   command["address"],
		Status:    core.StatusPending,
		CreatedAt: time.Now(),
	}

	if err := t.ledger.RecordWithdrawal(context.Background(), withdrawal); err != nil {
		t.reportError(m.Sender, err)
		return
	}

	t.Notify(fmt.Sprintf("New withdrawal request: $%.2f to %s from %s", withdrawal.Amount, withdrawal.Address, withdrawal.UserID))
	t.sendMessage(m.Sender, "Withdrawal request received. It will be processed manually.")
}

// ReferralHandle shows the sender's referral deep link and earnings
func (t *Telegram) ReferralHandle(m *tb.Message) {
	user, err := t.ledger.GetUser(context.Background(), userID(m.Sender))
	if err != nil {
		t.reportError(m.Sender, err)
		return
	}

	link := fmt.Sprintf("https://t.me/%s?start=ref_%s", t.settings.Telegram.Name, user.ID)
	message := fmt.Sprintf("*REFERRAL*\nYour link:\n%s\n\nEarned so far: `$%.2f`", link, user.ReferralEarned)
	t.sendMessage(m.Sender, message)
}

// OnTrade notifies the trade's owner about its settlement
func (t *Telegram) OnTrade(trade core.Trade) {
	user, err := t.ledger.GetUser(context.Background(), trade.UserID)
	if err != nil || !user.Notifications {
		return
	}

	chatID, err := strconv.ParseInt(trade.UserID, 10, 64)
	if err != nil {
		t.log.WithField("user", trade.UserID).Warn("trade owner has no telegram chat id")
		return
	}

	var title string
	switch trade.Result {
	case core.TradeResultWin:
		title = fmt.Sprintf("✅ TRADE WON - %s", trade.Market)
	case core.TradeResultLoss:
		title = fmt.Sprintf("❌ TRADE LOST - %s", trade.Market)
	case core.TradeResultPush:
		title = fmt.Sprintf("↩️ STAKE RETURNED - %s", trade.Market)
	}

	message := fmt.Sprintf("%s\n-----\n%s", title, trade)
	t.sendMessage(&tb.User{ID: chatID}, message)
}

// OnError notifies operator users about errors
func (t *Telegram) OnError(err error) {
	var sb strings.Builder
	sb.WriteString("🛑 ERROR\n")

	var settlementErr *core.SettlementError
	if errors.As(err, &settlementErr) {
		sb.WriteString("-----\n")
		fmt.Fprintf(&sb, "Trade: %s\n", settlementErr.TradeID)
		fmt.Fprintf(&sb, "Market: %s\n", settlementErr.Market)
		fmt.Fprintf(&sb, "Amount: %.2f\n", settlementErr.Amount)
		sb.WriteString("-----\n")
		sb.WriteString(settlementErr.Err.Error())

		t.Notify(sb.String())
		return
	}

	sb.WriteString("-----\n")
	sb.WriteString(err.Error())

	t.Notify(sb.String())
}

// reportError answers the sender with a readable error and logs it
func (t *Telegram) reportError(sender *tb.User, err error) {
	t.log.WithError(err).Error("telegram command failed")

	switch {
	case isUserFacing(err):
		t.sendMessage(sender, fmt.Sprintf("⚠️ %s", err.Error()))
	default:
		t.sendMessage(sender, "Something went wrong, please try again.")
	}
}

// isUserFacing reports whether the error text is safe to echo to the user
func isUserFacing(err error) bool {
	userFacing := []error{
		core.ErrInvalidAmount,
		core.ErrInsufficientFunds,
		core.ErrNoPriceAvailable,
		core.ErrUserNotFound,
	}
	return slices.ContainsFunc(userFacing, func(target error) bool {
		return errors.Is(err, target)
	})
}

// Helper function to extract named groups from regex matches
func extractCommandParams(regex *regexp.Regexp, match []string) map[string]string {
	command := make(map[string]string)
	for i, name := range regex.SubexpNames() {
		if i != 0 && name != "" {
			command[name] = match[i]
		}
	}
	return command
}
