package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/minitrade/binarybot"
	"github.com/minitrade/binarybot/config"
	"github.com/minitrade/binarybot/core"
	"github.com/minitrade/binarybot/ledger"
	"github.com/minitrade/binarybot/logger/zerolog"
	"github.com/minitrade/binarybot/oracle"
	"github.com/minitrade/binarybot/oracle/binance"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "binarybot",
		Short:   "Binary options trading bot for Telegram",
		Version: "1.0.0",
	}

	rootCmd.AddCommand(buildRunCmd())
	rootCmd.AddCommand(buildSummaryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot with the live Binance price oracle",
		RunE:  runBot,
	}
}

func buildSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print per-market settlement statistics from the ledger",
		RunE:  runSummary,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	priceOracle, err := newOracle(ctx, cfg, log)
	if err != nil {
		return err
	}

	book, err := ledger.NewFromFile(cfg.StoragePath)
	if err != nil {
		return err
	}
	defer book.Close()

	bot, err := binarybot.NewBot(ctx, cfg.Settings(), priceOracle,
		binarybot.WithLogger(log),
		binarybot.WithLedger(book),
	)
	if err != nil {
		return err
	}

	return bot.Run(ctx)
}

func runSummary(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	book, err := ledger.NewFromFile(cfg.StoragePath)
	if err != nil {
		return err
	}
	defer book.Close()

	settings := cfg.Settings()
	settings.Telegram.Enabled = false
	settings.API.Enabled = false

	prices := oracle.NewStaticOracle(nil)
	bot, err := binarybot.NewBot(cmd.Context(), settings, prices,
		binarybot.WithLogger(log),
		binarybot.WithLedger(book),
	)
	if err != nil {
		return err
	}

	bot.Summary(cmd.Context())
	return nil
}

func newLogger(level string) (core.Logger, error) {
	log, err := zerolog.NewZerolog(level, "2006-01-02 15:04:05", true, false)
	if err != nil {
		return nil, err
	}
	return &zerolog.ZerologAdapter{Logger: log.Logger}, nil
}

func newOracle(ctx context.Context, cfg *config.AppConfig, log core.Logger) (core.PriceOracle, error) {
	var options []binance.Option
	if cfg.Binance.APIKey != "" {
		options = append(options, binance.WithCredentials(cfg.Binance.APIKey, cfg.Binance.SecretKey))
	}
	if cfg.Binance.UseTestnet {
		options = append(options, binance.WithTestNet())
	}

	return binance.NewOracle(ctx, log, options...)
}
