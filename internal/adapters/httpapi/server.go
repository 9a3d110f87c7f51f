// Package httpapi exposes the lifecycle service over a thin HTTP command
// surface. Handlers validate transport concerns only; every decision stays
// in the service.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"autotrader/internal/app"
	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// Server routes inbound trade commands to the lifecycle service.
type Server struct {
	svc     *app.Service
	intake  *app.Intake
	gateway ports.ExchangeGateway
	logger  ports.Logger
	http    *http.Server
}

// Config holds the server's dependencies.
type Config struct {
	Addr    string
	Service *app.Service
	Intake  *app.Intake
	Gateway ports.ExchangeGateway
	Logger  ports.Logger
}

// New builds the server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil || cfg.Intake == nil || cfg.Gateway == nil || cfg.Logger == nil {
		return nil, errors.New("service, intake, gateway and logger are required")
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":5001"
	}

	s := &Server{
		svc:     cfg.Service,
		intake:  cfg.Intake,
		gateway: cfg.Gateway,
		logger:  cfg.Logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", s.createOrder)
		v1.PUT("/positions/:id", s.updatePosition)
		v1.PUT("/positions/:id/stoploss", s.updateStopLoss)
		v1.POST("/positions/:id/close", s.closePosition)
		v1.POST("/cancel_order", s.cancelOrder)
		v1.GET("/trades/:id", s.getTrade)
		v1.GET("/trades/:id/updates", s.getTradeUpdates)
		v1.GET("/trades", s.listTrades)
		v1.GET("/health", s.health)
	}

	s.http = &http.Server{Addr: addr, Handler: router}
	return s, nil
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "HTTP API listening", map[string]interface{}{"addr": s.http.Addr})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// --- Handlers ---

func (s *Server) createOrder(c *gin.Context) {
	var signal app.TradeSignal
	if err := c.ShouldBindJSON(&signal); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
		return
	}

	intent, err := s.intake.Normalize(signal)
	if err != nil {
		s.respondError(c, err)
		return
	}

	trade, err := s.svc.CreateTrade(c.Request.Context(), intent)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"trade_id": trade.ID,
		"order_id": trade.OrderID,
		"status":   trade.Status,
	})
}

func (s *Server) updatePosition(c *gin.Context) {
	id, ok := s.tradeID(c)
	if !ok {
		return
	}
	var body struct {
		CurrentPrice decimal.Decimal `json:"current_price"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.CurrentPrice.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "current_price must be a positive number"})
		return
	}

	if err := s.svc.EvaluatePriceTrigger(c.Request.Context(), id, body.CurrentPrice); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) updateStopLoss(c *gin.Context) {
	id, ok := s.tradeID(c)
	if !ok {
		return
	}
	var body struct {
		NewSL decimal.Decimal `json:"new_sl"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.NewSL.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new_sl must be a positive number"})
		return
	}

	if err := s.svc.UpdateStopLoss(c.Request.Context(), id, body.NewSL); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) closePosition(c *gin.Context) {
	id, ok := s.tradeID(c)
	if !ok {
		return
	}
	body := struct {
		Percentage decimal.Decimal `json:"percentage"`
	}{Percentage: decimal.NewFromInt(1)}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
			return
		}
	}

	trade, err := s.svc.GetTrade(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	price, err := s.gateway.GetTickerPrice(c.Request.Context(), trade.Symbol)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if err := s.svc.ClosePosition(c.Request.Context(), id, body.Percentage, price); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) cancelOrder(c *gin.Context) {
	var body struct {
		Symbol  string `json:"symbol"`
		OrderID string `json:"order_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Symbol == "" || body.OrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and order_id are required"})
		return
	}

	if err := s.svc.CancelOrder(c.Request.Context(), body.Symbol, body.OrderID); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getTrade(c *gin.Context) {
	id, ok := s.tradeID(c)
	if !ok {
		return
	}
	trade, err := s.svc.GetTrade(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tradeResponse(trade))
}

func (s *Server) getTradeUpdates(c *gin.Context) {
	id, ok := s.tradeID(c)
	if !ok {
		return
	}
	updates, err := s.svc.GetTradeUpdates(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	out := make([]gin.H, 0, len(updates))
	for _, u := range updates {
		out = append(out, gin.H{
			"id":         u.ID,
			"status":     u.Status,
			"stop_loss":  u.StopLoss,
			"price":      u.Price,
			"reason":     u.Reason,
			"created_at": u.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"updates": out, "count": len(out)})
}

func (s *Server) listTrades(c *gin.Context) {
	var trades []*domain.Trade
	var err error
	if c.Query("active") == "true" {
		trades, err = s.svc.ListActiveTrades(c.Request.Context())
	} else {
		trades, err = s.svc.ListTrades(c.Request.Context(), ports.TradeFilter{
			BotName: c.Query("bot_name"),
			Status:  domain.TradeStatus(c.Query("status")),
		})
	}
	if err != nil {
		s.respondError(c, err)
		return
	}

	out := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"trades": out, "count": len(out)})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// --- Helpers ---

func (s *Server) tradeID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trade id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ports.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ports.ErrTradeNotFound), errors.Is(err, ports.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ports.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, ports.ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), err, "request failed", map[string]interface{}{"path": c.FullPath()})
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func tradeResponse(t *domain.Trade) gin.H {
	resp := gin.H{
		"id":            t.ID,
		"order_id":      t.OrderID,
		"symbol":        t.Symbol,
		"side":          t.Side,
		"entry_price":   t.EntryPrice,
		"quantity":      t.Quantity,
		"position_size": t.PositionSize,
		"leverage":      t.Leverage,
		"tp1_price":     t.TP1Price,
		"tp2_price":     t.TP2Price,
		"tp3_price":     t.TP3Price,
		"sl_price":      t.SLPrice,
		"current_sl":    t.CurrentSL,
		"current_tp":    t.CurrentTP,
		"strategy_type": t.StrategyType,
		"bot_name":      t.BotName,
		"status":        t.Status,
		"pnl":           t.PnL,
		"pnl_percent":   t.PnLPercent,
		"created_at":    t.CreatedAt,
		"updated_at":    t.UpdatedAt,
	}
	if t.FilledAt != nil {
		resp["filled_at"] = t.FilledAt
	}
	if t.ClosedAt != nil {
		resp["closed_at"] = t.ClosedAt
	}
	return resp
}
