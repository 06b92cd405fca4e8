package poller

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weetoocode1/weetoo-trading-engine/internal/database"
	"github.com/weetoocode1/weetoo-trading-engine/internal/engine"
	"github.com/weetoocode1/weetoo-trading-engine/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubPrices struct{ price float64 }

func (s stubPrices) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return s.price, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

// One tick should execute a due time-based order and a triggered price-based
// order, and leave an untriggered one watching.
func TestTickExecutesDueOrders(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&types.TradingRoom{
		RoomID:         "room-1",
		Name:           "Test Room",
		Symbol:         "BTCUSDT",
		VirtualBalance: 100000,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}).Error)

	svc := engine.NewService(db, stubPrices{price: 50000})
	p := New(svc, time.Second)

	past := time.Now().Add(-time.Minute)
	due, err := svc.CreateOrder("room-1", "user-1", &engine.CreateOrderRequest{
		Symbol:       "BTCUSDT",
		Side:         "buy",
		OrderType:    "market",
		Quantity:     0.01,
		Leverage:     5,
		ScheduleType: types.ScheduleTimeBased,
		ScheduledAt:  &past,
	})
	require.NoError(t, err)

	triggered, err := svc.CreateOrder("room-1", "user-1", &engine.CreateOrderRequest{
		Symbol:           "BTCUSDT",
		Side:             "buy",
		OrderType:        "market",
		Quantity:         0.01,
		Leverage:         5,
		ScheduleType:     types.SchedulePriceBased,
		TriggerCondition: types.TriggerAbove,
		TriggerPrice:     49000, // stub price 50000 crosses this
	})
	require.NoError(t, err)

	waiting, err := svc.CreateOrder("room-1", "user-1", &engine.CreateOrderRequest{
		Symbol:           "BTCUSDT",
		Side:             "buy",
		OrderType:        "market",
		Quantity:         0.01,
		Leverage:         5,
		ScheduleType:     types.SchedulePriceBased,
		TriggerCondition: types.TriggerAbove,
		TriggerPrice:     60000, // not crossed
	})
	require.NoError(t, err)

	require.NoError(t, p.tick(context.Background()))

	assert.Equal(t, types.StatusExecuted, status(t, db, due.OrderID))
	assert.Equal(t, types.StatusExecuted, status(t, db, triggered.OrderID))
	assert.Equal(t, types.StatusWatching, status(t, db, waiting.OrderID))
}

func status(t *testing.T, db *gorm.DB, orderID string) string {
	t.Helper()
	var order types.ScheduledOrder
	require.NoError(t, db.Where("order_id = ?", orderID).First(&order).Error)
	return order.Status
}
