package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBalanceField(t *testing.T) {
	require.Equal(t, FieldDemoBalance, Trade{Mode: ModeDemo}.BalanceField())
	require.Equal(t, FieldRealBalance, Trade{Mode: ModeReal}.BalanceField())
}

func TestUserBalance(t *testing.T) {
	user := User{DemoBalance: 1000, RealBalance: 50}
	require.Equal(t, 1000.0, user.Balance(FieldDemoBalance))
	require.Equal(t, 50.0, user.Balance(FieldRealBalance))
}

func TestTradeFilters(t *testing.T) {
	trade := Trade{UserID: "u1", Market: "BTCUSDT", Mode: ModeDemo, Result: TradeResultWin}

	require.True(t, WithUser("u1")(trade))
	require.False(t, WithUser("u2")(trade))
	require.True(t, WithMarket("BTCUSDT")(trade))
	require.True(t, WithResult(TradeResultWin)(trade))
	require.False(t, WithResult(TradeResultLoss)(trade))
	require.True(t, WithMode(ModeDemo)(trade))
}

func TestSettlementErrorUnwrap(t *testing.T) {
	err := &SettlementError{TradeID: "t1", Market: "BTCUSDT", Amount: 100, Err: ErrUserNotFound}

	require.ErrorIs(t, err, ErrUserNotFound)
	require.Contains(t, err.Error(), "t1")
	require.Contains(t, err.Error(), "BTCUSDT")
}

func TestResolutionSpec(t *testing.T) {
	require.True(t, TimerResolution().Timer)
	require.Empty(t, TimerResolution().Interval)
	require.Equal(t, "1m", CandleResolution("1m").Interval)
}
