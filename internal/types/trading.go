package types

import (
	"time"

	"gorm.io/gorm"
)

// Schedule types for scheduled orders
const (
	ScheduleTimeBased  = "time_based"
	SchedulePriceBased = "price_based"
)

// Trigger conditions for price-based scheduled orders
const (
	TriggerAbove = "above"
	TriggerBelow = "below"
)

// Scheduled order statuses. executed, cancelled and failed are terminal.
const (
	StatusPending   = "pending"
	StatusWatching  = "watching"
	StatusExecuted  = "executed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Open order statuses. Once an order leaves open it never returns.
const (
	OrderStatusOpen      = "open"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
)

// Position sides
const (
	SideLong  = "long"
	SideShort = "short"
)

// TP/SL order types
const (
	TpSlTakeProfit = "take_profit"
	TpSlStopLoss   = "stop_loss"
)

// TpSlStatusActive is the only status this engine assigns to TP/SL orders;
// closing them is a separate flow.
const TpSlStatusActive = "active"

// TradingRoom holds the shared virtual balance debited on every fill.
type TradingRoom struct {
	gorm.Model     `json:"-"`
	RoomID         string    `gorm:"uniqueIndex" json:"room_id"`
	Name           string    `json:"name"`
	Symbol         string    `json:"symbol"`
	VirtualBalance float64   `json:"virtual_balance"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ScheduledOrder is a user instruction to open a position later, either at a
// wall-clock time (time_based) or when price crosses a threshold (price_based).
type ScheduledOrder struct {
	gorm.Model       `json:"-"`
	OrderID          string     `gorm:"uniqueIndex" json:"order_id"`
	RoomID           string     `gorm:"index" json:"room_id"`
	UserID           string     `gorm:"index" json:"user_id"`
	Symbol           string     `json:"symbol"`
	Side             string     `json:"side"`       // buy or sell
	OrderType        string     `json:"order_type"` // market or limit
	Quantity         float64    `json:"quantity"`
	Price            float64    `json:"price,omitempty"` // limit price
	Leverage         float64    `json:"leverage"`
	ScheduleType     string     `json:"schedule_type"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
	TriggerCondition string     `json:"trigger_condition,omitempty"` // above or below
	TriggerPrice     float64    `json:"trigger_price,omitempty"`
	Status           string     `json:"status"`
	ExecutionPrice   float64    `json:"execution_price,omitempty"`
	ExecutedAt       *time.Time `json:"executed_at,omitempty"`
	TpEnabled        bool       `json:"tp_enabled"`
	SlEnabled        bool       `json:"sl_enabled"`
	TakeProfitPrice  float64    `json:"take_profit_price,omitempty"`
	StopLossPrice    float64    `json:"stop_loss_price,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Terminal reports whether the order status can no longer change.
func (o *ScheduledOrder) Terminal() bool {
	switch o.Status {
	case StatusExecuted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// OpenOrder is a resting limit order awaiting a matching price before it
// becomes a Position.
type OpenOrder struct {
	gorm.Model      `json:"-"`
	OrderID         string     `gorm:"uniqueIndex" json:"order_id"`
	RoomID          string     `gorm:"index" json:"room_id"`
	UserID          string     `gorm:"index" json:"user_id"`
	Symbol          string     `json:"symbol"`
	Side            string     `json:"side"`       // long or short
	OrderType       string     `json:"order_type"` // limit
	LimitPrice      float64    `json:"limit_price"`
	Quantity        float64    `json:"quantity"`
	Leverage        float64    `json:"leverage"`
	Status          string     `json:"status"` // open, filled, cancelled
	TimeInForce     string     `json:"time_in_force"`
	TpEnabled       bool       `json:"tp_enabled"`
	SlEnabled       bool       `json:"sl_enabled"`
	TakeProfitPrice float64    `json:"take_profit_price,omitempty"`
	StopLossPrice   float64    `json:"stop_loss_price,omitempty"`
	FilledAt        *time.Time `json:"filled_at,omitempty"`
	PositionID      string     `json:"position_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Position is an open simulated trade. Entry fields are immutable after
// creation; only the TP/SL linkage fields are written afterwards, once each.
type Position struct {
	gorm.Model       `json:"-"`
	PositionID       string    `gorm:"uniqueIndex" json:"position_id"`
	RoomID           string    `gorm:"index" json:"room_id"`
	UserID           string    `gorm:"index" json:"user_id"`
	Symbol           string    `json:"symbol"`
	Side             string    `json:"side"` // long or short
	Quantity         float64   `json:"quantity"`
	Size             float64   `json:"size"`
	EntryPrice       float64   `json:"entry_price"`
	InitialMargin    float64   `json:"initial_margin"`
	Leverage         float64   `json:"leverage"`
	Fee              float64   `json:"fee"`
	LiquidationPrice float64   `json:"liquidation_price"`
	Status           string    `json:"status"` // filled
	TpEnabled        bool      `json:"tp_enabled"`
	SlEnabled        bool      `json:"sl_enabled"`
	TakeProfitPrice  float64   `json:"take_profit_price,omitempty"`
	StopLossPrice    float64   `json:"stop_loss_price,omitempty"`
	TpOrderID        string    `json:"tp_order_id,omitempty"`
	TpStatus         string    `json:"tp_status,omitempty"`
	SlOrderID        string    `json:"sl_order_id,omitempty"`
	SlStatus         string    `json:"sl_status,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TpSlOrder is a take-profit or stop-loss order attached to a Position.
// At most one of each exists per position.
type TpSlOrder struct {
	gorm.Model   `json:"-"`
	TpSlOrderID  string    `gorm:"uniqueIndex" json:"tpsl_order_id"`
	PositionID   string    `gorm:"index" json:"position_id"`
	RoomID       string    `gorm:"index" json:"room_id"`
	UserID       string    `json:"user_id"`
	OrderType    string    `json:"order_type"` // take_profit or stop_loss
	Side         string    `json:"side"`       // closing side, opposite the position
	Quantity     float64   `json:"quantity"`
	TriggerPrice float64   `json:"trigger_price"`
	OrderPrice   float64   `json:"order_price"`
	Status       string    `json:"status"` // active
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
