package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// Sweeper cancels entry orders that rested unfilled for too long, moving
// their trades to CANCELLED. Failures on one trade never stop the batch
// and a repeated sweep over the same trades is a no-op.
type Sweeper struct {
	logger   ports.Logger
	gateway  ports.ExchangeGateway
	trades   ports.TradeRepository
	svc      *Service
	interval time.Duration
	maxAge   time.Duration
}

// SweeperConfig holds the sweeper's dependencies and schedule.
type SweeperConfig struct {
	Logger   ports.Logger
	Gateway  ports.ExchangeGateway
	Trades   ports.TradeRepository
	Service  *Service
	Interval time.Duration // time between sweeps
	MaxAge   time.Duration // resting age after which an entry is cancelled
}

// NewSweeper validates dependencies and creates the sweeper.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("exchange gateway is required")
	}
	if cfg.Trades == nil {
		return nil, errors.New("trade repository is required")
	}
	if cfg.Service == nil {
		return nil, errors.New("lifecycle service is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	return &Sweeper{
		logger:   cfg.Logger,
		gateway:  cfg.Gateway,
		trades:   cfg.Trades,
		svc:      cfg.Service,
		interval: cfg.Interval,
		maxAge:   cfg.MaxAge,
	}, nil
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info(ctx, "Sweeper stopped", nil)
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
	s.logger.Info(ctx, "Sweeper started", map[string]interface{}{
		"interval": s.interval.String(), "maxAge": s.maxAge.String(),
	})
}

// Sweep runs one pass over stale OPEN trades.
func (s *Sweeper) Sweep(ctx context.Context) {
	op := "Sweeper.Sweep"

	cutoff := time.Now().UTC().Add(-s.maxAge)
	stale, err := s.trades.FindOpenOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error(ctx, err, op+": failed to list stale trades", nil)
		return
	}
	if len(stale) == 0 {
		return
	}
	s.logger.Info(ctx, op+": found stale entry orders", map[string]interface{}{"count": len(stale)})

	for _, candidate := range stale {
		if err := s.sweepOne(ctx, candidate.ID); err != nil {
			s.logger.Error(ctx, err, op+": failed to sweep trade", map[string]interface{}{"tradeID": candidate.ID})
		}
	}
}

// sweepOne cancels one stale entry under the trade lock. The trade is
// re-read first: it may have filled or been cancelled since the listing.
func (s *Sweeper) sweepOne(ctx context.Context, tradeID int64) error {
	op := "Sweeper.sweepOne"

	release := s.svc.locks.Acquire(tradeKey(tradeID))
	defer release()

	trade, err := s.trades.FindByID(ctx, tradeID)
	if err != nil {
		return err
	}
	if trade == nil || trade.Status != domain.StatusOpen {
		return nil
	}

	gctx, cancel := s.svc.gwCtx(ctx)
	err = s.gateway.CancelOrder(gctx, trade.Symbol, trade.OrderID)
	cancel()
	if err != nil {
		// The order may have filled or vanished in the meantime: leave the
		// trade alone, the reconciler owns that path.
		if errors.Is(err, ports.ErrOrderNotFound) {
			s.logger.Warn(ctx, op+": stale entry no longer on exchange, leaving trade for reconciliation", map[string]interface{}{
				"tradeID": trade.ID, "orderID": trade.OrderID,
			})
			return nil
		}
		return err
	}

	trade.Status = domain.StatusCancelled
	if err := s.trades.Update(ctx, trade); err != nil {
		return err
	}
	s.svc.appendAudit(ctx, trade, decimal.Zero, "stale entry order swept")

	s.logger.Info(ctx, op+": stale entry cancelled", map[string]interface{}{
		"tradeID": trade.ID, "orderID": trade.OrderID,
	})
	return nil
}
