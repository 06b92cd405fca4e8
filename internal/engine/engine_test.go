package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weetoocode1/weetoo-trading-engine/internal/database"
	"github.com/weetoocode1/weetoo-trading-engine/internal/position"
	"github.com/weetoocode1/weetoo-trading-engine/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubPrices struct {
	price float64
	err   error
}

func (s stubPrices) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return s.price, s.err
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func createRoom(t *testing.T, db *gorm.DB, balance float64) {
	t.Helper()
	require.NoError(t, db.Create(&types.TradingRoom{
		RoomID:         "room-1",
		Name:           "Test Room",
		Symbol:         "BTCUSDT",
		VirtualBalance: balance,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}).Error)
}

func newTestService(t *testing.T, db *gorm.DB, prices PriceSource) *Service {
	t.Helper()
	if prices == nil {
		prices = stubPrices{price: 50000}
	}
	return NewService(db, prices)
}

func orderStatus(t *testing.T, db *gorm.DB, orderID string) string {
	t.Helper()
	var order types.ScheduledOrder
	require.NoError(t, db.Where("order_id = ?", orderID).First(&order).Error)
	return order.Status
}

func positionCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&types.Position{}).Count(&count).Error)
	return count
}

func roomBalance(t *testing.T, db *gorm.DB) float64 {
	t.Helper()
	var room types.TradingRoom
	require.NoError(t, db.Where("room_id = ?", "room-1").First(&room).Error)
	return room.VirtualBalance
}

func priceBasedRequest() *CreateOrderRequest {
	return &CreateOrderRequest{
		Symbol:           "BTCUSDT",
		Side:             "buy",
		OrderType:        "market",
		Quantity:         0.1,
		Leverage:         10,
		ScheduleType:     types.SchedulePriceBased,
		TriggerCondition: types.TriggerAbove,
		TriggerPrice:     50000,
	}
}

func timeBasedRequest(at time.Time) *CreateOrderRequest {
	return &CreateOrderRequest{
		Symbol:       "BTCUSDT",
		Side:         "buy",
		OrderType:    "market",
		Quantity:     0.1,
		Leverage:     10,
		ScheduleType: types.ScheduleTimeBased,
		ScheduledAt:  &at,
	}
}

func TestCreateOrderInitialStatus(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 100000)
	svc := newTestService(t, db, nil)

	priceOrder, err := svc.CreateOrder("room-1", "user-1", priceBasedRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StatusWatching, priceOrder.Status)

	at := time.Now().Add(time.Hour)
	timeOrder, err := svc.CreateOrder("room-1", "user-1", timeBasedRequest(at))
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, timeOrder.Status)
}

func TestCreateOrderValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *CreateOrderRequest)
		message string
	}{
		{
			name:    "missing symbol",
			mutate:  func(r *CreateOrderRequest) { r.Symbol = "" },
			message: "symbol is required",
		},
		{
			name:    "bad side",
			mutate:  func(r *CreateOrderRequest) { r.Side = "hold" },
			message: "side must be buy or sell",
		},
		{
			name:    "zero quantity",
			mutate:  func(r *CreateOrderRequest) { r.Quantity = 0 },
			message: "quantity must be greater than zero",
		},
		{
			name:    "zero leverage",
			mutate:  func(r *CreateOrderRequest) { r.Leverage = 0 },
			message: "leverage must be greater than zero",
		},
		{
			name:    "limit without price",
			mutate:  func(r *CreateOrderRequest) { r.OrderType = "limit" },
			message: "price is required for limit orders",
		},
		{
			name:    "bad trigger condition",
			mutate:  func(r *CreateOrderRequest) { r.TriggerCondition = "crosses" },
			message: "trigger_condition must be above or below",
		},
		{
			name:    "zero trigger price",
			mutate:  func(r *CreateOrderRequest) { r.TriggerPrice = 0 },
			message: "trigger_price must be greater than zero",
		},
		{
			name:    "bad schedule type",
			mutate:  func(r *CreateOrderRequest) { r.ScheduleType = "whenever" },
			message: "schedule_type must be time_based or price_based",
		},
		{
			name:    "tp enabled without price",
			mutate:  func(r *CreateOrderRequest) { r.TpEnabled = true },
			message: "take_profit_price must be greater than zero when tp_enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := priceBasedRequest()
			tt.mutate(req)
			errs := req.Validate()
			assert.Contains(t, errs, tt.message)
		})
	}

	t.Run("time_based requires scheduled_at", func(t *testing.T) {
		req := timeBasedRequest(time.Now())
		req.ScheduledAt = nil
		assert.Contains(t, req.Validate(), "scheduled_at is required for time_based orders")
	})

	t.Run("valid request has no errors", func(t *testing.T) {
		assert.Empty(t, priceBasedRequest().Validate())
	})
}

func TestExecuteOrderIdempotent(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 100000)
	svc := newTestService(t, db, nil)

	order, err := svc.CreateOrder("room-1", "user-1", priceBasedRequest())
	require.NoError(t, err)

	result, err := svc.ExecuteOrder(context.Background(), "room-1", order.OrderID, 51000)
	require.NoError(t, err)
	require.True(t, result.Executed)
	require.NotNil(t, result.Position)

	// Duplicate scheduler tick: no error, no second position, no second debit
	balanceAfterFirst := roomBalance(t, db)
	again, err := svc.ExecuteOrder(context.Background(), "room-1", order.OrderID, 51000)
	require.NoError(t, err)
	assert.False(t, again.Executed)
	assert.Equal(t, "order already executed", again.Reason)

	assert.Equal(t, int64(1), positionCount(t, db))
	assert.InDelta(t, balanceAfterFirst, roomBalance(t, db), 1e-9)
}

func TestExecuteOrderMissingIsNoOp(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 100000)
	svc := newTestService(t, db, nil)

	result, err := svc.ExecuteOrder(context.Background(), "room-1", "SCH_missing", 51000)
	require.NoError(t, err)
	assert.False(t, result.Executed)
	assert.Equal(t, "order not found", result.Reason)
}

func TestExecuteTriggerConditions(t *testing.T) {
	tests := []struct {
		name      string
		condition string
		trigger   float64
		price     float64
		ready     bool
	}{
		{"above satisfied", types.TriggerAbove, 50000, 50001, true},
		{"above boundary", types.TriggerAbove, 50000, 50000, true},
		{"above not crossed", types.TriggerAbove, 50000, 49999, false},
		{"below satisfied", types.TriggerBelow, 50000, 49999, true},
		{"below boundary", types.TriggerBelow, 50000, 50000, true},
		{"below not crossed", types.TriggerBelow, 50000, 50001, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			createRoom(t, db, 100000)
			svc := newTestService(t, db, nil)

			req := priceBasedRequest()
			req.TriggerCondition = tt.condition
			req.TriggerPrice = tt.trigger
			order, err := svc.CreateOrder("room-1", "user-1", req)
			require.NoError(t, err)

			result, err := svc.ExecuteOrder(context.Background(), "room-1", order.OrderID, tt.price)
			if tt.ready {
				require.NoError(t, err)
				assert.True(t, result.Executed)
				assert.Equal(t, types.StatusExecuted, orderStatus(t, db, order.OrderID))
			} else {
				require.ErrorIs(t, err, ErrOrderNotReady)
				// The claim must not leak a stuck watching state
				assert.Equal(t, types.StatusWatching, orderStatus(t, db, order.OrderID))
				assert.Zero(t, positionCount(t, db))
			}
		})
	}
}

func TestExecuteTimeBasedNotDueReverts(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 100000)
	svc := newTestService(t, db, nil)

	order, err := svc.CreateOrder("room-1", "user-1", timeBasedRequest(time.Now().Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, types.StatusPending, order.Status)

	_, err = svc.ExecuteOrder(context.Background(), "room-1", order.OrderID, 0)
	require.ErrorIs(t, err, ErrOrderNotReady)

	// Reverted to its pre-claim status, not left in watching
	assert.Equal(t, types.StatusPending, orderStatus(t, db, order.OrderID))
}

func TestExecuteTimeBasedDueUsesFallbackPrice(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 100000)
	svc := newTestService(t, db, stubPrices{price: 47500})

	order, err := svc.CreateOrder("room-1", "user-1", timeBasedRequest(time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	result, err := svc.ExecuteOrder(context.Background(), "room-1", order.OrderID, 0)
	require.NoError(t, err)
	require.True(t, result.Executed)
	require.NotNil(t, result.Position)
	assert.InDelta(t, 47500.0, result.Position.EntryPrice, 1e-9)
	assert.InDelta(t, 47500.0, result.Order.ExecutionPrice, 1e-9)
}

func TestExecuteFallbackPriceFailureReverts(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 100000)
	svc := newTestService(t, db, stubPrices{err: errors.New("ticker unavailable")})

	order, err := svc.CreateOrder("room-1", "user-1", priceBasedRequest())
	require.NoError(t, err)

	_, err = svc.ExecuteOrder(context.Background(), "room-1", order.OrderID, 0)
	require.Error(t, err)
	assert.Equal(t, types.StatusWatching, orderStatus(t, db, order.OrderID))
	assert.Zero(t, positionCount(t, db))
}

func TestExecuteLimitCreatesOpenOrder(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 100000)
	svc := newTestService(t, db, nil)

	req := priceBasedRequest()
	req.OrderType = "limit"
	req.Price = 48000
	req.TpEnabled = true
	req.TakeProfitPrice = 55000
	order, err := svc.CreateOrder("room-1", "user-1", req)
	require.NoError(t, err)

	result, err := svc.ExecuteOrder(context.Background(), "room-1", order.OrderID, 51000)
	require.NoError(t, err)
	require.True(t, result.Executed)
	require.NotNil(t, result.OpenOrder)
	assert.Nil(t, result.Position)

	assert.Equal(t, types.OrderStatusOpen, result.OpenOrder.Status)
	assert.InDelta(t, 48000.0, result.OpenOrder.LimitPrice, 1e-9)
	assert.True(t, result.OpenOrder.TpEnabled)
	assert.InDelta(t, 55000.0, result.OpenOrder.TakeProfitPrice, 1e-9)

	// Balance debit is deferred to fill time
	assert.InDelta(t, 100000.0, roomBalance(t, db), 1e-9)
	assert.Equal(t, types.StatusExecuted, orderStatus(t, db, order.OrderID))
	assert.InDelta(t, 48000.0, result.Order.ExecutionPrice, 1e-9)
}

func TestExecuteInsufficientBalanceReverts(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 1) // far below margin+fee at 51000
	svc := newTestService(t, db, nil)

	order, err := svc.CreateOrder("room-1", "user-1", priceBasedRequest())
	require.NoError(t, err)

	_, err = svc.ExecuteOrder(context.Background(), "room-1", order.OrderID, 51000)
	require.ErrorIs(t, err, position.ErrInsufficientBalance)

	// Order stays retryable, nothing was created or debited
	assert.Equal(t, types.StatusWatching, orderStatus(t, db, order.OrderID))
	assert.Zero(t, positionCount(t, db))
	assert.InDelta(t, 1.0, roomBalance(t, db), 1e-9)
}

func TestCancelOrder(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 100000)
	svc := newTestService(t, db, nil)

	order, err := svc.CreateOrder("room-1", "user-1", priceBasedRequest())
	require.NoError(t, err)

	cancelled, err := svc.CancelOrder("room-1", "user-1", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, cancelled.Status)

	// Terminal states are final: execute after cancel is a no-op
	result, err := svc.ExecuteOrder(context.Background(), "room-1", order.OrderID, 51000)
	require.NoError(t, err)
	assert.False(t, result.Executed)
	assert.Equal(t, "order already cancelled", result.Reason)
	assert.Equal(t, types.StatusCancelled, orderStatus(t, db, order.OrderID))

	// And cancel after execute is rejected
	_, err = svc.CancelOrder("room-1", "user-1", order.OrderID)
	assert.ErrorIs(t, err, ErrOrderTerminal)
}

func TestCancelScopedToOwner(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 100000)
	svc := newTestService(t, db, nil)

	order, err := svc.CreateOrder("room-1", "user-1", priceBasedRequest())
	require.NoError(t, err)

	_, err = svc.CancelOrder("room-1", "user-2", order.OrderID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, types.StatusWatching, orderStatus(t, db, order.OrderID))
}

func TestDeleteOrder(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 100000)
	svc := newTestService(t, db, nil)

	order, err := svc.CreateOrder("room-1", "user-1", priceBasedRequest())
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteOrder("room-1", "user-2", order.OrderID), ErrOrderNotFound)
	require.NoError(t, svc.DeleteOrder("room-1", "user-1", order.OrderID))

	var count int64
	require.NoError(t, db.Model(&types.ScheduledOrder{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestListOrdersFiltersAndOrders(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 100000)
	svc := newTestService(t, db, nil)

	first, err := svc.CreateOrder("room-1", "user-1", priceBasedRequest())
	require.NoError(t, err)
	_, err = svc.CreateOrder("room-1", "user-1", timeBasedRequest(time.Now().Add(time.Hour)))
	require.NoError(t, err)
	_, err = svc.CreateOrder("room-1", "user-2", priceBasedRequest())
	require.NoError(t, err)

	all, err := svc.ListOrders("room-1", "user-1", "", 50, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	watching, err := svc.ListOrders("room-1", "user-1", types.StatusWatching, 50, 0)
	require.NoError(t, err)
	require.Len(t, watching, 1)
	assert.Equal(t, first.OrderID, watching[0].OrderID)
}

// The end-to-end scenario: a price-based sell order triggered below 50000,
// created while price is 51000, executed when price drops to 49000.
func TestSellBelowScenario(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 100000)
	svc := newTestService(t, db, nil)

	req := &CreateOrderRequest{
		Symbol:           "BTCUSDT",
		Side:             "sell",
		OrderType:        "market",
		Quantity:         0.1,
		Leverage:         10,
		ScheduleType:     types.SchedulePriceBased,
		TriggerCondition: types.TriggerBelow,
		TriggerPrice:     50000,
		CurrentPrice:     51000,
	}
	order, err := svc.CreateOrder("room-1", "user-1", req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWatching, order.Status)

	result, err := svc.ExecuteOrder(context.Background(), "room-1", order.OrderID, 49000)
	require.NoError(t, err)
	require.True(t, result.Executed)
	require.NotNil(t, result.Position)

	assert.Equal(t, types.SideShort, result.Position.Side)
	assert.InDelta(t, 49000.0, result.Position.EntryPrice, 1e-9)
	assert.Equal(t, types.StatusExecuted, orderStatus(t, db, order.OrderID))

	// Balance dropped by initialMargin + fee at entry 49000
	size := 49000 * 0.1
	cost := size/10 + size*0.0005
	assert.InDelta(t, 100000-cost, roomBalance(t, db), 1e-9)
}

func TestDueOrders(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 100000)
	svc := newTestService(t, db, nil)

	duePast, err := svc.CreateOrder("room-1", "user-1", timeBasedRequest(time.Now().Add(-time.Minute)))
	require.NoError(t, err)
	_, err = svc.CreateOrder("room-1", "user-1", timeBasedRequest(time.Now().Add(time.Hour)))
	require.NoError(t, err)
	watching, err := svc.CreateOrder("room-1", "user-1", priceBasedRequest())
	require.NoError(t, err)

	due, err := svc.DueOrders(time.Now())
	require.NoError(t, err)

	ids := make([]string, 0, len(due))
	for _, o := range due {
		ids = append(ids, o.OrderID)
	}
	assert.ElementsMatch(t, []string{duePast.OrderID, watching.OrderID}, ids)
}
