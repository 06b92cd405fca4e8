// Package position opens simulated positions against a trading room's
// virtual balance and attaches the optional TP/SL orders.
package position

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/weetoocode1/weetoo-trading-engine/internal/margin"
	"github.com/weetoocode1/weetoo-trading-engine/internal/types"
	"gorm.io/gorm"
)

var (
	ErrRoomNotFound        = errors.New("trading room not found")
	ErrInsufficientBalance = errors.New("insufficient room balance")
)

// OpenParams describes a fill about to become a position. TP/SL fields are
// carried over from the originating order.
type OpenParams struct {
	RoomID          string
	UserID          string
	Symbol          string
	Side            string // long or short
	Quantity        float64
	Leverage        float64
	EntryPrice      float64
	TpEnabled       bool
	TakeProfitPrice float64
	SlEnabled       bool
	StopLossPrice   float64
}

// Opener turns fills into positions. All three fill paths (open-order fill,
// scheduled market execution, scheduled limit execution) go through here.
type Opener struct {
	db *gorm.DB
}

func NewOpener(db *gorm.DB) *Opener {
	return &Opener{db: db}
}

// Open creates a position in its own transaction. See OpenTx.
func (o *Opener) Open(params OpenParams) (*types.Position, error) {
	var pos *types.Position
	err := o.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		pos, txErr = o.OpenTx(tx, params)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// OpenTx debits the room balance, inserts the position and spawns its TP/SL
// orders inside the caller's transaction. The balance is checked against
// initial margin plus fee before the debit; a fill that the room cannot
// afford is rejected without touching any row. The TP/SL back-reference
// update on the position is best-effort: a failure there is logged and does
// not abort the fill, since both rows already exist and are valid on their own.
func (o *Opener) OpenTx(tx *gorm.DB, params OpenParams) (*types.Position, error) {
	breakdown, err := margin.Compute(params.EntryPrice, params.Quantity, params.Leverage, params.Side)
	if err != nil {
		return nil, err
	}

	var room types.TradingRoom
	if err := tx.Where("room_id = ?", params.RoomID).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	cost := breakdown.RequiredCost()
	if math.IsNaN(room.VirtualBalance) || math.IsInf(room.VirtualBalance, 0) || room.VirtualBalance < cost {
		return nil, ErrInsufficientBalance
	}

	// Floor at zero is a defensive clamp; the pre-check above already
	// guarantees the debit fits.
	newBalance := math.Max(0, room.VirtualBalance-cost)
	if err := tx.Model(&types.TradingRoom{}).
		Where("room_id = ?", room.RoomID).
		Updates(map[string]interface{}{
			"virtual_balance": newBalance,
			"updated_at":      time.Now(),
		}).Error; err != nil {
		return nil, err
	}

	pos := &types.Position{
		PositionID:       "POS_" + uuid.New().String(),
		RoomID:           params.RoomID,
		UserID:           params.UserID,
		Symbol:           params.Symbol,
		Side:             params.Side,
		Quantity:         params.Quantity,
		Size:             breakdown.Size,
		EntryPrice:       params.EntryPrice,
		InitialMargin:    breakdown.InitialMargin,
		Leverage:         params.Leverage,
		Fee:              breakdown.Fee,
		LiquidationPrice: breakdown.LiquidationPrice,
		Status:           types.OrderStatusFilled,
		TpEnabled:        params.TpEnabled,
		SlEnabled:        params.SlEnabled,
		TakeProfitPrice:  params.TakeProfitPrice,
		StopLossPrice:    params.StopLossPrice,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if err := tx.Create(pos).Error; err != nil {
		return nil, err
	}

	if params.TpEnabled && params.TakeProfitPrice > 0 {
		o.spawnTpSl(tx, pos, types.TpSlTakeProfit, params.TakeProfitPrice)
	}
	if params.SlEnabled && params.StopLossPrice > 0 {
		o.spawnTpSl(tx, pos, types.TpSlStopLoss, params.StopLossPrice)
	}

	return pos, nil
}

// spawnTpSl inserts one TP or SL order for the position and writes the
// back-reference onto the position row. Neither failure aborts the fill.
func (o *Opener) spawnTpSl(tx *gorm.DB, pos *types.Position, orderType string, triggerPrice float64) {
	logger := log.With().
		Str("position_id", pos.PositionID).
		Str("order_type", orderType).
		Logger()

	closeSide := types.SideShort
	if pos.Side == types.SideShort {
		closeSide = types.SideLong
	}

	order := &types.TpSlOrder{
		TpSlOrderID:  "TPSL_" + uuid.New().String(),
		PositionID:   pos.PositionID,
		RoomID:       pos.RoomID,
		UserID:       pos.UserID,
		OrderType:    orderType,
		Side:         closeSide,
		Quantity:     pos.Quantity,
		TriggerPrice: triggerPrice,
		OrderPrice:   triggerPrice,
		Status:       types.TpSlStatusActive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := tx.Create(order).Error; err != nil {
		logger.Error().Err(err).Msg("failed to create TP/SL order")
		return
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if orderType == types.TpSlTakeProfit {
		updates["tp_order_id"] = order.TpSlOrderID
		updates["tp_status"] = types.TpSlStatusActive
		pos.TpOrderID = order.TpSlOrderID
		pos.TpStatus = types.TpSlStatusActive
	} else {
		updates["sl_order_id"] = order.TpSlOrderID
		updates["sl_status"] = types.TpSlStatusActive
		pos.SlOrderID = order.TpSlOrderID
		pos.SlStatus = types.TpSlStatusActive
	}

	if err := tx.Model(&types.Position{}).
		Where("position_id = ?", pos.PositionID).
		Updates(updates).Error; err != nil {
		logger.Warn().Err(err).Msg("failed to link TP/SL order back to position")
	}
}
