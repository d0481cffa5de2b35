package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/minitrade/binarybot/core"
	"github.com/minitrade/binarybot/ledger"
	adapter "github.com/minitrade/binarybot/logger/zerolog"
	"github.com/minitrade/binarybot/oracle"
	"github.com/minitrade/binarybot/settlement"
)

func newTestServer(t *testing.T) (*Server, *ledger.BuntLedger) {
	t.Helper()

	book, err := ledger.NewFromMemory()
	require.NoError(t, err)
	t.Cleanup(func() { book.Close() })

	nop := zerolog.Nop()
	log := adapter.NewAdapter(&nop)

	settings := &core.Settings{
		Trading: core.DefaultTradingSettings(),
		API:     core.APISettings{Enabled: true, Addr: ":0"},
	}

	prices := oracle.NewStaticOracle(map[string]float64{"BTCUSDT": 50000})
	engine := settlement.NewEngine(book, prices, log, nil, settings.Trading)

	return NewServer(book, engine, settings, log), book
}

func doJSON(t *testing.T, server *Server, method, path string, reqBody any) *httptest.ResponseRecorder {
	t.Helper()

	var payload bytes.Buffer
	if reqBody != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(reqBody))
	}

	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)
	return recorder
}

func TestCreateAndGetUser(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, server, http.MethodPost, "/v1/users", body{"id": "42", "username": "alice"})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doJSON(t, server, http.MethodGet, "/v1/users/42", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var user core.User
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &user))
	require.Equal(t, "alice", user.Username)
	require.Equal(t, core.InitialDemoBalance, user.DemoBalance)
}

func TestGetUserNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, server, http.MethodGet, "/v1/users/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestPlaceTradeEndpoint(t *testing.T) {
	server, book := newTestServer(t)

	_, err := book.CreateUser(context.Background(), "42", "alice")
	require.NoError(t, err)

	resp := doJSON(t, server, http.MethodPost, "/v1/trades", body{
		"user_id":   "42",
		"market":    "BTCUSDT",
		"amount":    100,
		"direction": "up",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	var trade core.Trade
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &trade))
	require.Equal(t, core.TradeStatusPending, trade.Status)
	require.Equal(t, 50000.0, trade.EntryPrice)

	resp = doJSON(t, server, http.MethodGet, "/v1/users/42/trades/pending", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var pending []core.Trade
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
}

func TestPlaceTradeValidation(t *testing.T) {
	server, book := newTestServer(t)

	_, err := book.CreateUser(context.Background(), "42", "alice")
	require.NoError(t, err)

	// out of configured bounds
	resp := doJSON(t, server, http.MethodPost, "/v1/trades", body{
		"user_id":   "42",
		"market":    "BTCUSDT",
		"amount":    5000,
		"direction": "up",
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	// real balance starts empty
	resp = doJSON(t, server, http.MethodPost, "/v1/trades", body{
		"user_id":   "42",
		"market":    "BTCUSDT",
		"amount":    100,
		"direction": "down",
		"mode":      "real",
	})
	require.Equal(t, http.StatusPaymentRequired, resp.Code)

	// rejected by binding before reaching the engine
	resp = doJSON(t, server, http.MethodPost, "/v1/trades", body{
		"user_id":   "42",
		"market":    "BTCUSDT",
		"amount":    100,
		"direction": "sideways",
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestDepositBounds(t *testing.T) {
	server, book := newTestServer(t)

	_, err := book.CreateUser(context.Background(), "42", "alice")
	require.NoError(t, err)

	resp := doJSON(t, server, http.MethodPost, "/v1/deposits", body{
		"user_id": "42",
		"amount":  5,
		"method":  "usdt",
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doJSON(t, server, http.MethodPost, "/v1/deposits", body{
		"user_id": "42",
		"amount":  100,
		"method":  "usdt",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	var deposit core.Deposit
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &deposit))
	require.Equal(t, core.StatusPending, deposit.Status)
}

func TestWithdrawalRequiresRealFunds(t *testing.T) {
	server, book := newTestServer(t)
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "42", "alice")
	require.NoError(t, err)

	resp := doJSON(t, server, http.MethodPost, "/v1/withdrawals", body{
		"user_id": "42",
		"amount":  50,
		"address": "0xabc",
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	_, err = book.ApplyBalanceDelta(ctx, "42", core.FieldRealBalance, 200)
	require.NoError(t, err)

	resp = doJSON(t, server, http.MethodPost, "/v1/withdrawals", body{
		"user_id": "42",
		"amount":  50,
		"address": "0xabc",
	})
	require.Equal(t, http.StatusCreated, resp.Code)
}

func TestSetReferrer(t *testing.T) {
	server, book := newTestServer(t)
	ctx := context.Background()

	_, err := book.CreateUser(ctx, "1", "alice")
	require.NoError(t, err)
	_, err = book.CreateUser(ctx, "2", "bob")
	require.NoError(t, err)

	resp := doJSON(t, server, http.MethodPost, "/v1/users/2/referrer", body{"referrer_id": "1"})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(t, server, http.MethodPost, "/v1/users/2/referrer", body{"referrer_id": "2"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, server, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.Code)
}

type body = map[string]any
