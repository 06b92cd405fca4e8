// Package poller drives scheduled-order execution. The engine itself has no
// timers; it only executes when asked, so this loop periodically re-invokes
// the execution path for every due time-based order and every watching
// price-based order. Duplicate or too-early attempts are absorbed by the
// engine's conditional claims.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/weetoocode1/weetoo-trading-engine/internal/engine"
)

type Poller struct {
	engine   *engine.Service
	interval time.Duration
}

func New(engineService *engine.Service, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		engine:   engineService,
		interval: interval,
	}
}

// Start begins the execution polling loop
func (p *Poller) Start(ctx context.Context) {
	logger := log.With().Str("component", "order_poller").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting order poller")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down order poller")
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				logger.Error().Err(err).Msg("poll tick failed")
			}
		}
	}
}

func (p *Poller) tick(ctx context.Context) error {
	logger := log.With().Str("component", "order_poller").Logger()

	due, err := p.engine.DueOrders(time.Now())
	if err != nil {
		return err
	}

	for _, order := range due {
		result, err := p.engine.ExecuteOrder(ctx, order.RoomID, order.OrderID, 0)
		if err != nil {
			// Not-ready is the normal answer for a watching order whose
			// trigger has not crossed yet.
			if errors.Is(err, engine.ErrOrderNotReady) {
				continue
			}
			logger.Warn().
				Err(err).
				Str("order_id", order.OrderID).
				Msg("execution attempt failed, order remains retryable")
			continue
		}

		if result.Executed {
			logger.Info().
				Str("order_id", order.OrderID).
				Str("room_id", order.RoomID).
				Msg("poller executed scheduled order")
		}
	}

	return nil
}
