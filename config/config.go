// Package config handles application configuration management using Viper
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/minitrade/binarybot/core"
)

// Constants for configuration
const (
	DefaultStoragePath = "./binarybot.db"
	DefaultInterval    = "1m"
	DefaultAPIAddr     = ":8080"
)

// AppConfig holds the application configuration
type AppConfig struct {
	Markets     []string
	Interval    string
	StoragePath string
	LogLevel    string
	Binance     BinanceConfig
	Telegram    TelegramConfig
	API         APIConfig
	Trading     core.TradingSettings
}

// BinanceConfig holds Binance oracle configuration
type BinanceConfig struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
}

// TelegramConfig holds Telegram session layer configuration
type TelegramConfig struct {
	Enabled bool
	Token   string
	Name    string
	Users   []int64
}

// APIConfig holds HTTP API configuration
type APIConfig struct {
	Enabled bool
	Addr    string
}

// Load reads application configuration from the environment, with an
// optional .env file
func Load() (*AppConfig, error) {
	_ = godotenv.Load() // .env is optional

	viper.AutomaticEnv()

	defaults := core.DefaultTradingSettings()

	// Set default values
	viper.SetDefault("MARKETS", "BTCUSDT")
	viper.SetDefault("INTERVAL", DefaultInterval)
	viper.SetDefault("STORAGE_PATH", DefaultStoragePath)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("BINANCE_USE_TESTNET", false)
	viper.SetDefault("TELEGRAM_ENABLED", false)
	viper.SetDefault("API_ENABLED", true)
	viper.SetDefault("API_ADDR", DefaultAPIAddr)
	viper.SetDefault("MIN_TRADE", defaults.MinTrade)
	viper.SetDefault("MAX_TRADE", defaults.MaxTrade)
	viper.SetDefault("PAYOUT_PERCENT", defaults.PayoutPercent)
	viper.SetDefault("REFERRAL_RATE", defaults.ReferralRate)
	viper.SetDefault("DEMO_WIN_PROBABILITY", defaults.DemoWinProbability)
	viper.SetDefault("REAL_WIN_PROBABILITY", defaults.RealWinProbability)
	viper.SetDefault("APPLY_WIN_PROBABILITY", defaults.ApplyWinProbability)
	viper.SetDefault("MIN_DEPOSIT", defaults.MinDeposit)
	viper.SetDefault("MAX_DEPOSIT", defaults.MaxDeposit)

	trading := defaults
	trading.MinTrade = viper.GetFloat64("MIN_TRADE")
	trading.MaxTrade = viper.GetFloat64("MAX_TRADE")
	trading.PayoutPercent = viper.GetFloat64("PAYOUT_PERCENT")
	trading.ReferralRate = viper.GetFloat64("REFERRAL_RATE")
	trading.DemoWinProbability = viper.GetFloat64("DEMO_WIN_PROBABILITY")
	trading.RealWinProbability = viper.GetFloat64("REAL_WIN_PROBABILITY")
	trading.ApplyWinProbability = viper.GetBool("APPLY_WIN_PROBABILITY")
	trading.MinDeposit = viper.GetFloat64("MIN_DEPOSIT")
	trading.MaxDeposit = viper.GetFloat64("MAX_DEPOSIT")

	users, err := parseUserList(viper.GetString("TELEGRAM_USERS"))
	if err != nil {
		return nil, err
	}

	config := &AppConfig{
		Markets:     splitList(viper.GetString("MARKETS")),
		Interval:    viper.GetString("INTERVAL"),
		StoragePath: viper.GetString("STORAGE_PATH"),
		LogLevel:    viper.GetString("LOG_LEVEL"),
		Binance: BinanceConfig{
			APIKey:     viper.GetString("BINANCE_API_KEY"),
			SecretKey:  viper.GetString("BINANCE_SECRET_KEY"),
			UseTestnet: viper.GetBool("BINANCE_USE_TESTNET"),
		},
		Telegram: TelegramConfig{
			Enabled: viper.GetBool("TELEGRAM_ENABLED"),
			Token:   viper.GetString("TELEGRAM_TOKEN"),
			Name:    viper.GetString("TELEGRAM_BOT_NAME"),
			Users:   users,
		},
		API: APIConfig{
			Enabled: viper.GetBool("API_ENABLED"),
			Addr:    viper.GetString("API_ADDR"),
		},
		Trading: trading,
	}

	return config, nil
}

// Settings converts the loaded configuration to core settings
func (c *AppConfig) Settings() core.Settings {
	return core.Settings{
		Markets:  c.Markets,
		Interval: c.Interval,
		Trading:  c.Trading,
		Telegram: core.TelegramSettings{
			Enabled: c.Telegram.Enabled,
			Token:   c.Telegram.Token,
			Name:    c.Telegram.Name,
			Users:   c.Telegram.Users,
		},
		API: core.APISettings{
			Enabled: c.API.Enabled,
			Addr:    c.API.Addr,
		},
	}
}

// splitList parses a comma separated list, dropping empty entries
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseUserList parses a comma separated list of Telegram chat ids
func parseUserList(raw string) ([]int64, error) {
	var users []int64
	for _, part := range splitList(raw) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram user id %q: %w", part, err)
		}
		users = append(users, id)
	}
	return users, nil
}
