// Package engine implements the scheduled-order lifecycle: creation,
// listing, cancellation, deletion and the claim/execute/finalize state
// machine invoked by the scheduler.
//
// Status flow: pending -> watching -> executed | failed, with cancelled
// reachable from pending and watching. All transitions go through
// conditional row updates so concurrent executors and cancels resolve to
// exactly one winner.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/weetoocode1/weetoo-trading-engine/internal/position"
	"github.com/weetoocode1/weetoo-trading-engine/internal/types"
	"gorm.io/gorm"
)

var (
	ErrOrderNotReady = errors.New("order is not ready to execute")
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderTerminal = errors.New("order is already in a terminal state")
)

// PriceSource supplies a fallback price when an execution request arrives
// without one. Satisfied by market.Client.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// Service handles scheduled order operations
type Service struct {
	db     *Database
	opener *position.Opener
	prices PriceSource
}

// NewService creates a new scheduled-order service with the given database
// connection and fallback price source
func NewService(gormDB *gorm.DB, prices PriceSource) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		opener: position.NewOpener(gormDB),
		prices: prices,
	}
}

// CreateOrderRequest is the creation payload. Required fields depend on
// schedule_type and order_type; see Validate.
type CreateOrderRequest struct {
	Symbol           string     `json:"symbol"`
	Side             string     `json:"side"`
	OrderType        string     `json:"order_type"`
	Quantity         float64    `json:"quantity"`
	Price            float64    `json:"price"`
	Leverage         float64    `json:"leverage"`
	ScheduleType     string     `json:"schedule_type"`
	ScheduledAt      *time.Time `json:"scheduled_at"`
	TriggerCondition string     `json:"trigger_condition"`
	TriggerPrice     float64    `json:"trigger_price"`
	CurrentPrice     float64    `json:"current_price"`
	TpEnabled        bool       `json:"tp_enabled"`
	SlEnabled        bool       `json:"sl_enabled"`
	TakeProfitPrice  float64    `json:"take_profit_price"`
	StopLossPrice    float64    `json:"stop_loss_price"`
}

// Validate returns the full list of problems with a creation request, empty
// when the request is acceptable.
func (r *CreateOrderRequest) Validate() []string {
	var errs []string

	if r.Symbol == "" {
		errs = append(errs, "symbol is required")
	}
	if r.Side != "buy" && r.Side != "sell" {
		errs = append(errs, "side must be buy or sell")
	}
	if r.OrderType != "market" && r.OrderType != "limit" {
		errs = append(errs, "order_type must be market or limit")
	}
	if r.Quantity <= 0 {
		errs = append(errs, "quantity must be greater than zero")
	}
	if r.Leverage <= 0 {
		errs = append(errs, "leverage must be greater than zero")
	}
	if r.OrderType == "limit" && r.Price <= 0 {
		errs = append(errs, "price is required for limit orders")
	}

	switch r.ScheduleType {
	case types.ScheduleTimeBased:
		if r.ScheduledAt == nil {
			errs = append(errs, "scheduled_at is required for time_based orders")
		}
	case types.SchedulePriceBased:
		if r.TriggerCondition != types.TriggerAbove && r.TriggerCondition != types.TriggerBelow {
			errs = append(errs, "trigger_condition must be above or below")
		}
		if r.TriggerPrice <= 0 {
			errs = append(errs, "trigger_price must be greater than zero")
		}
	default:
		errs = append(errs, "schedule_type must be time_based or price_based")
	}

	if r.TpEnabled && r.TakeProfitPrice <= 0 {
		errs = append(errs, "take_profit_price must be greater than zero when tp_enabled")
	}
	if r.SlEnabled && r.StopLossPrice <= 0 {
		errs = append(errs, "stop_loss_price must be greater than zero when sl_enabled")
	}

	return errs
}

// CreateOrder persists a validated scheduled order. Price-based orders start
// in watching since the poller monitors them immediately; time-based orders
// wait in pending until their scheduled time.
func (s *Service) CreateOrder(roomID, userID string, req *CreateOrderRequest) (*types.ScheduledOrder, error) {
	status := types.StatusPending
	if req.ScheduleType == types.SchedulePriceBased {
		status = types.StatusWatching
	}

	order := &types.ScheduledOrder{
		OrderID:          "SCH_" + uuid.New().String(),
		RoomID:           roomID,
		UserID:           userID,
		Symbol:           req.Symbol,
		Side:             req.Side,
		OrderType:        req.OrderType,
		Quantity:         req.Quantity,
		Price:            req.Price,
		Leverage:         req.Leverage,
		ScheduleType:     req.ScheduleType,
		ScheduledAt:      req.ScheduledAt,
		TriggerCondition: req.TriggerCondition,
		TriggerPrice:     req.TriggerPrice,
		Status:           status,
		TpEnabled:        req.TpEnabled,
		SlEnabled:        req.SlEnabled,
		TakeProfitPrice:  req.TakeProfitPrice,
		StopLossPrice:    req.StopLossPrice,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	if err := s.db.CreateOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns the owner's orders in a room, newest first.
func (s *Service) ListOrders(roomID, userID, status string, limit, offset int) ([]types.ScheduledOrder, error) {
	return s.db.ListOrders(roomID, userID, status, limit, offset)
}

// GetOrder returns an owner-scoped order, nil when not visible.
func (s *Service) GetOrder(roomID, userID, orderID string) (*types.ScheduledOrder, error) {
	return s.db.GetOrderForUser(roomID, userID, orderID)
}

// CancelOrder cancels a pending or watching order owned by the user.
func (s *Service) CancelOrder(roomID, userID, orderID string) (*types.ScheduledOrder, error) {
	order, err := s.db.GetOrderForUser(roomID, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	rows, err := s.db.CancelOrder(order.OrderID)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: %s", ErrOrderTerminal, order.Status)
	}

	order.Status = types.StatusCancelled
	return order, nil
}

// DeleteOrder hard-deletes an order owned by the user, any status.
func (s *Service) DeleteOrder(roomID, userID, orderID string) error {
	rows, err := s.db.DeleteOrder(roomID, userID, orderID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ExecuteResult reports the outcome of an execution attempt. Executed false
// with a reason is the idempotent no-op answer for duplicate scheduler ticks.
type ExecuteResult struct {
	Executed  bool                  `json:"executed"`
	Reason    string                `json:"reason,omitempty"`
	Order     *types.ScheduledOrder `json:"order,omitempty"`
	Position  *types.Position       `json:"position,omitempty"`
	OpenOrder *types.OpenOrder      `json:"open_order,omitempty"`
}

func noOp(reason string) *ExecuteResult {
	return &ExecuteResult{Executed: false, Reason: reason}
}

// ExecuteOrder runs one execution attempt for a scheduled order.
//
// The sequence is claim, readiness check, dispatch, finalize. The claim and
// the finalize are both conditional updates; every failure after a
// successful claim reverts the status so the order stays retryable. Missing,
// terminal and concurrently-claimed orders all come back as a no-op result
// with a nil error, because the semantic outcome (the order will or already
// did execute) is unaffected.
func (s *Service) ExecuteOrder(ctx context.Context, roomID, orderID string, currentPrice float64) (*ExecuteResult, error) {
	logger := log.With().
		Str("order_id", orderID).
		Str("room_id", roomID).
		Str("service", "engine").
		Logger()

	order, err := s.db.GetOrder(roomID, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return noOp("order not found"), nil
	}
	if order.Terminal() {
		return noOp("order already " + order.Status), nil
	}

	prevStatus := order.Status
	rows, err := s.db.ClaimForExecution(order.OrderID)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		logger.Debug().Msg("lost execution claim, another executor is in flight")
		return noOp("order is already being executed"), nil
	}

	evalPrice, err := s.checkReadiness(ctx, order, currentPrice)
	if err != nil {
		s.revert(order.OrderID, prevStatus, logger)
		return nil, err
	}

	result := &ExecuteResult{Executed: true, Order: order}

	switch order.OrderType {
	case "market":
		pos, err := s.opener.Open(position.OpenParams{
			RoomID:          order.RoomID,
			UserID:          order.UserID,
			Symbol:          order.Symbol,
			Side:            positionSide(order.Side),
			Quantity:        order.Quantity,
			Leverage:        order.Leverage,
			EntryPrice:      evalPrice,
			TpEnabled:       order.TpEnabled,
			TakeProfitPrice: order.TakeProfitPrice,
			SlEnabled:       order.SlEnabled,
			StopLossPrice:   order.StopLossPrice,
		})
		if err != nil {
			s.revert(order.OrderID, prevStatus, logger)
			return nil, err
		}
		result.Position = pos

	case "limit":
		// Balance debit is deferred to fill time; the order just rests
		// in the room's book.
		openOrder := &types.OpenOrder{
			OrderID:         "ORD_" + uuid.New().String(),
			RoomID:          order.RoomID,
			UserID:          order.UserID,
			Symbol:          order.Symbol,
			Side:            positionSide(order.Side),
			OrderType:       "limit",
			LimitPrice:      order.Price,
			Quantity:        order.Quantity,
			Leverage:        order.Leverage,
			Status:          types.OrderStatusOpen,
			TimeInForce:     "GTC",
			TpEnabled:       order.TpEnabled,
			SlEnabled:       order.SlEnabled,
			TakeProfitPrice: order.TakeProfitPrice,
			StopLossPrice:   order.StopLossPrice,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}
		if err := s.db.CreateOpenOrder(openOrder); err != nil {
			s.revert(order.OrderID, prevStatus, logger)
			return nil, err
		}
		evalPrice = order.Price
		result.OpenOrder = openOrder

	default:
		s.revert(order.OrderID, prevStatus, logger)
		return nil, fmt.Errorf("unsupported order type %q", order.OrderType)
	}

	executedAt := time.Now()
	rows, err = s.db.FinalizeExecution(order.OrderID, evalPrice, executedAt)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// The claim made this unreachable for duplicates; only an
		// out-of-band write could land here.
		logger.Warn().Msg("finalize found order no longer watching")
	}

	order.Status = types.StatusExecuted
	order.ExecutionPrice = evalPrice
	order.ExecutedAt = &executedAt

	logger.Info().
		Str("schedule_type", order.ScheduleType).
		Str("order_type", order.OrderType).
		Float64("execution_price", evalPrice).
		Msg("scheduled order executed")

	return result, nil
}

// checkReadiness decides whether the claimed order may execute now and
// resolves the price the execution will use. Price-based orders need a price
// satisfying their trigger; market orders always need an entry price, fetched
// from the fallback source when the caller supplied none.
func (s *Service) checkReadiness(ctx context.Context, order *types.ScheduledOrder, currentPrice float64) (float64, error) {
	evalPrice := currentPrice

	switch order.ScheduleType {
	case types.ScheduleTimeBased:
		if order.ScheduledAt == nil || time.Now().Before(*order.ScheduledAt) {
			return 0, fmt.Errorf("%w: scheduled time not reached", ErrOrderNotReady)
		}

	case types.SchedulePriceBased:
		if evalPrice <= 0 {
			fetched, err := s.prices.LastPrice(ctx, order.Symbol)
			if err != nil {
				return 0, fmt.Errorf("failed to resolve current price: %w", err)
			}
			evalPrice = fetched
		}

		triggered := false
		switch order.TriggerCondition {
		case types.TriggerAbove:
			triggered = evalPrice >= order.TriggerPrice
		case types.TriggerBelow:
			triggered = evalPrice <= order.TriggerPrice
		}
		if !triggered {
			return 0, fmt.Errorf("%w: price %.8g has not crossed %s %.8g",
				ErrOrderNotReady, evalPrice, order.TriggerCondition, order.TriggerPrice)
		}
	}

	if order.OrderType == "market" && evalPrice <= 0 {
		fetched, err := s.prices.LastPrice(ctx, order.Symbol)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve current price: %w", err)
		}
		evalPrice = fetched
	}

	return evalPrice, nil
}

func (s *Service) revert(orderID, prevStatus string, logger zerolog.Logger) {
	if err := s.db.RevertClaim(orderID, prevStatus); err != nil {
		logger.Error().Err(err).Str("prev_status", prevStatus).Msg("failed to revert execution claim")
	}
}

// DueOrders exposes the poller's work list.
func (s *Service) DueOrders(now time.Time) ([]types.ScheduledOrder, error) {
	return s.db.DueOrders(now)
}

// positionSide maps the order's buy/sell side onto the position's long/short.
func positionSide(orderSide string) string {
	if orderSide == "sell" {
		return types.SideShort
	}
	return types.SideLong
}
