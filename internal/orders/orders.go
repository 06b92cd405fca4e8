// Package orders manages the room's resting limit orders: creation,
// listing, cancellation and the fill path that turns an order into a
// position.
package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/weetoocode1/weetoo-trading-engine/internal/position"
	"github.com/weetoocode1/weetoo-trading-engine/internal/types"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderNotOpen  = errors.New("order is no longer open")
	ErrNoFillPrice   = errors.New("fill_price, or bid and ask, is required")
)

// Service handles open-order operations
type Service struct {
	gormDB *gorm.DB
	db     *Database
	opener *position.Opener
}

// NewService creates a new open-order service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		gormDB: gormDB,
		db:     NewDatabase(gormDB),
		opener: position.NewOpener(gormDB),
	}
}

// CreateOrderRequest is the creation payload for a resting limit order.
type CreateOrderRequest struct {
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"` // long or short
	LimitPrice      float64 `json:"limit_price"`
	Quantity        float64 `json:"quantity"`
	Leverage        float64 `json:"leverage"`
	TimeInForce     string  `json:"time_in_force"`
	TpEnabled       bool    `json:"tp_enabled"`
	SlEnabled       bool    `json:"sl_enabled"`
	TakeProfitPrice float64 `json:"take_profit_price"`
	StopLossPrice   float64 `json:"stop_loss_price"`
}

// Validate returns the full list of problems with a creation request.
func (r *CreateOrderRequest) Validate() []string {
	var errs []string

	if r.Symbol == "" {
		errs = append(errs, "symbol is required")
	}
	if r.Side != types.SideLong && r.Side != types.SideShort {
		errs = append(errs, "side must be long or short")
	}
	if r.LimitPrice <= 0 {
		errs = append(errs, "limit_price must be greater than zero")
	}
	if r.Quantity <= 0 {
		errs = append(errs, "quantity must be greater than zero")
	}
	if r.Leverage <= 0 {
		errs = append(errs, "leverage must be greater than zero")
	}
	if r.TpEnabled && r.TakeProfitPrice <= 0 {
		errs = append(errs, "take_profit_price must be greater than zero when tp_enabled")
	}
	if r.SlEnabled && r.StopLossPrice <= 0 {
		errs = append(errs, "stop_loss_price must be greater than zero when sl_enabled")
	}

	return errs
}

// CreateOrder persists a validated resting limit order.
func (s *Service) CreateOrder(roomID, userID string, req *CreateOrderRequest) (*types.OpenOrder, error) {
	tif := req.TimeInForce
	if tif == "" {
		tif = "GTC"
	}

	order := &types.OpenOrder{
		OrderID:         "ORD_" + uuid.New().String(),
		RoomID:          roomID,
		UserID:          userID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		OrderType:       "limit",
		LimitPrice:      req.LimitPrice,
		Quantity:        req.Quantity,
		Leverage:        req.Leverage,
		Status:          types.OrderStatusOpen,
		TimeInForce:     tif,
		TpEnabled:       req.TpEnabled,
		SlEnabled:       req.SlEnabled,
		TakeProfitPrice: req.TakeProfitPrice,
		StopLossPrice:   req.StopLossPrice,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	if err := s.db.CreateOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns the owner's open orders in a room, newest first.
func (s *Service) ListOrders(roomID, userID, status string) ([]types.OpenOrder, error) {
	return s.db.ListOrders(roomID, userID, status)
}

// CancelOrder cancels a resting order that is still open.
func (s *Service) CancelOrder(roomID, userID, orderID string) (*types.OpenOrder, error) {
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
		return nil, fmt.Errorf("%w: %s", ErrOrderNotOpen, order.Status)
	}

	order.Status = types.OrderStatusCancelled
	return order, nil
}

// FillRequest carries the price context for filling a resting order.
type FillRequest struct {
	OrderID   string  `json:"order_id"`
	FillPrice float64 `json:"fill_price"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
}

// FillOrder converts a resting order into a position at the resolved fill
// price. The status claim, balance debit, position insert and TP/SL spawn
// run in one transaction, so a failed fill rolls back without the order ever
// being observable outside open.
func (s *Service) FillOrder(roomID, userID string, req *FillRequest) (*types.OpenOrder, *types.Position, error) {
	logger := log.With().
		Str("order_id", req.OrderID).
		Str("room_id", roomID).
		Str("service", "orders").
		Logger()

	order, err := s.db.GetOrderForUser(roomID, userID, req.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, ErrOrderNotFound
	}
	if order.Status != types.OrderStatusOpen {
		return nil, nil, fmt.Errorf("%w: %s", ErrOrderNotOpen, order.Status)
	}

	fillPrice := resolveFillPrice(order, req)
	if fillPrice <= 0 {
		return nil, nil, ErrNoFillPrice
	}

	var pos *types.Position
	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		rows, err := ClaimFillTx(tx, order.OrderID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrOrderNotOpen
		}

		pos, err = s.opener.OpenTx(tx, position.OpenParams{
			RoomID:          order.RoomID,
			UserID:          order.UserID,
			Symbol:          order.Symbol,
			Side:            order.Side,
			Quantity:        order.Quantity,
			Leverage:        order.Leverage,
			EntryPrice:      fillPrice,
			TpEnabled:       order.TpEnabled,
			TakeProfitPrice: order.TakeProfitPrice,
			SlEnabled:       order.SlEnabled,
			StopLossPrice:   order.StopLossPrice,
		})
		if err != nil {
			return err
		}

		return LinkPositionTx(tx, order.OrderID, pos.PositionID, time.Now())
	})
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	order.Status = types.OrderStatusFilled
	order.PositionID = pos.PositionID
	order.FilledAt = &now

	logger.Info().
		Str("position_id", pos.PositionID).
		Float64("fill_price", fillPrice).
		Msg("open order filled")

	return order, pos, nil
}

// resolveFillPrice prefers the explicit price; otherwise a long order takes
// the ask and a short order the bid.
func resolveFillPrice(order *types.OpenOrder, req *FillRequest) float64 {
	if req.FillPrice > 0 {
		return req.FillPrice
	}
	if order.Side == types.SideLong {
		return req.Ask
	}
	return req.Bid
}
