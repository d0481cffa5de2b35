package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/minitrade/binarybot/core"
)

const defaultHistoryLimit = 20

func (s *Server) registerUserRoutes(router *gin.RouterGroup) {
	users := router.Group("/users")
	{
		users.POST("", s.createUser)
		users.GET("/:id", s.getUser)
		users.POST("/:id/referrer", s.setReferrer)
		users.GET("/:id/trades", s.userHistory)
		users.GET("/:id/trades/pending", s.userPending)
	}
}

func (s *Server) registerTradeRoutes(router *gin.RouterGroup) {
	router.POST("/trades", s.placeTrade)
}

func (s *Server) registerRequestRoutes(router *gin.RouterGroup) {
	router.POST("/deposits", s.createDeposit)
	router.POST("/withdrawals", s.createWithdrawal)
}

type createUserRequest struct {
	ID       string `json:"id" binding:"required"`
	Username string `json:"username"`
}

func (s *Server) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.ledger.CreateUser(c.Request.Context(), req.ID, req.Username)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (s *Server) getUser(c *gin.Context) {
	user, err := s.ledger.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

type setReferrerRequest struct {
	ReferrerID string `json:"referrer_id" binding:"required"`
}

func (s *Server) setReferrer(c *gin.Context) {
	var req setReferrerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.ledger.SetReferrer(c.Request.Context(), c.Param("id"), req.ReferrerID); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type placeTradeRequest struct {
	UserID    string  `json:"user_id" binding:"required"`
	Market    string  `json:"market" binding:"required"`
	Amount    float64 `json:"amount" binding:"required"`
	Direction string  `json:"direction" binding:"required,oneof=up down"`
	Mode      string  `json:"mode" binding:"omitempty,oneof=demo real"`
	Interval  string  `json:"interval"`
}

func (s *Server) placeTrade(c *gin.Context) {
	var req placeTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := core.ModeDemo
	if req.Mode == string(core.ModeReal) {
		mode = core.ModeReal
	}

	resolution := core.TimerResolution()
	if req.Interval != "" {
		resolution = core.CandleResolution(req.Interval)
	}

	trade, err := s.placer.PlaceTrade(c.Request.Context(), core.PlaceTradeInput{
		UserID:     req.UserID,
		Market:     req.Market,
		Amount:     req.Amount,
		Direction:  core.DirectionType(req.Direction),
		Mode:       mode,
		Resolution: resolution,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, trade)
}

func (s *Server) userPending(c *gin.Context) {
	trades := s.placer.PendingTrades(c.Param("id"))
	c.JSON(http.StatusOK, trades)
}

func (s *Server) userHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	trades, err := s.placer.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, trades)
}

type depositRequest struct {
	UserID string  `json:"user_id" binding:"required"`
	Amount float64 `json:"amount" binding:"required"`
	Method string  `json:"method" binding:"required"`
	TxID   string  `json:"tx_id"`
}

func (s *Server) createDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Amount < s.settings.Trading.MinDeposit || req.Amount > s.settings.Trading.MaxDeposit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount out of bounds"})
		return
	}

	if _, err := s.ledger.GetUser(c.Request.Context(), req.UserID); err != nil {
		s.respondError(c, err)
		return
	}

	deposit := &core.Deposit{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Amount:    req.Amount,
		Method:    req.Method,
		TxID:      req.TxID,
		Status:    core.StatusPending,
		CreatedAt: time.Now(),
	}

	if err := s.ledger.RecordDeposit(c.Request.Context(), deposit); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, deposit)
}

type withdrawalRequest struct {
	UserID  string  `json:"user_id" binding:"required"`
	Amount  float64 `json:"amount" binding:"required"`
	Address string  `json:"address" binding:"required"`
}

func (s *Server) createWithdrawal(c *gin.Context) {
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.ledger.GetUser(c.Request.Context(), req.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if req.Amount < s.settings.Trading.MinDeposit || req.Amount > user.RealBalance {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount out of bounds"})
		return
	}

	withdrawal := &core.Withdrawal{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Amount:    req.Amount,
		Address:   req.Address,
		Status:    core.StatusPending,
		CreatedAt: time.Now(),
	}

	if err := s.ledger.RecordWithdrawal(c.Request.Context(), withdrawal); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, withdrawal)
}

// respondError maps domain errors to HTTP status codes
func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrUserNotFound), errors.Is(err, core.ErrTradeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrInvalidAmount), errors.Is(err, core.ErrSelfReferral):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrNoPriceAvailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.log.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
