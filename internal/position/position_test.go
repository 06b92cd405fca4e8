package position

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weetoocode1/weetoo-trading-engine/internal/database"
	"github.com/weetoocode1/weetoo-trading-engine/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func createRoom(t *testing.T, db *gorm.DB, balance float64) *types.TradingRoom {
	t.Helper()
	room := &types.TradingRoom{
		RoomID:         "room-1",
		Name:           "Test Room",
		Symbol:         "BTCUSDT",
		VirtualBalance: balance,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	require.NoError(t, db.Create(room).Error)
	return room
}

func roomBalance(t *testing.T, db *gorm.DB, roomID string) float64 {
	t.Helper()
	var room types.TradingRoom
	require.NoError(t, db.Where("room_id = ?", roomID).First(&room).Error)
	return room.VirtualBalance
}

func baseParams() OpenParams {
	return OpenParams{
		RoomID:     "room-1",
		UserID:     "user-1",
		Symbol:     "BTCUSDT",
		Side:       types.SideLong,
		Quantity:   1,
		Leverage:   10,
		EntryPrice: 100,
	}
}

func TestOpenDebitsBalance(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 1000)
	opener := NewOpener(db)

	pos, err := opener.Open(baseParams())
	require.NoError(t, err)

	// size 100, margin 10, fee 0.05
	assert.InDelta(t, 100.0, pos.Size, 1e-9)
	assert.InDelta(t, 10.0, pos.InitialMargin, 1e-9)
	assert.InDelta(t, 0.05, pos.Fee, 1e-9)
	assert.InDelta(t, 90.5, pos.LiquidationPrice, 1e-9)
	assert.Equal(t, types.OrderStatusFilled, pos.Status)

	assert.InDelta(t, 1000-10.05, roomBalance(t, db, "room-1"), 1e-9)
}

func TestOpenRejectsInsufficientBalance(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 5) // required cost is 10.05
	opener := NewOpener(db)

	_, err := opener.Open(baseParams())
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// No debit, no position
	assert.InDelta(t, 5.0, roomBalance(t, db, "room-1"), 1e-9)
	var count int64
	require.NoError(t, db.Model(&types.Position{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestOpenRejectsUnknownRoom(t *testing.T) {
	db := newTestDB(t)
	opener := NewOpener(db)

	params := baseParams()
	params.RoomID = "room-missing"
	_, err := opener.Open(params)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestOpenRejectsInvalidEntryPrice(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 1000)
	opener := NewOpener(db)

	params := baseParams()
	params.EntryPrice = 0
	_, err := opener.Open(params)
	require.Error(t, err)

	assert.InDelta(t, 1000.0, roomBalance(t, db, "room-1"), 1e-9)
}

func TestOpenSpawnsTpSlOrders(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 1000)
	opener := NewOpener(db)

	params := baseParams()
	params.TpEnabled = true
	params.TakeProfitPrice = 120
	params.SlEnabled = true
	params.StopLossPrice = 95

	pos, err := opener.Open(params)
	require.NoError(t, err)

	var tpsl []types.TpSlOrder
	require.NoError(t, db.Where("position_id = ?", pos.PositionID).Find(&tpsl).Error)
	require.Len(t, tpsl, 2)

	byType := map[string]types.TpSlOrder{}
	for _, o := range tpsl {
		byType[o.OrderType] = o
	}

	tp := byType[types.TpSlTakeProfit]
	assert.InDelta(t, 120.0, tp.TriggerPrice, 1e-9)
	assert.Equal(t, types.SideShort, tp.Side) // closing side opposite the long
	assert.Equal(t, types.TpSlStatusActive, tp.Status)

	sl := byType[types.TpSlStopLoss]
	assert.InDelta(t, 95.0, sl.TriggerPrice, 1e-9)
	assert.Equal(t, types.TpSlStatusActive, sl.Status)

	// Back-references on the position row
	var stored types.Position
	require.NoError(t, db.Where("position_id = ?", pos.PositionID).First(&stored).Error)
	assert.Equal(t, tp.TpSlOrderID, stored.TpOrderID)
	assert.Equal(t, types.TpSlStatusActive, stored.TpStatus)
	assert.Equal(t, sl.TpSlOrderID, stored.SlOrderID)
	assert.Equal(t, types.TpSlStatusActive, stored.SlStatus)
}

func TestOpenSkipsDisabledTpSl(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 1000)
	opener := NewOpener(db)

	// Prices present but flags off
	params := baseParams()
	params.TakeProfitPrice = 120
	params.StopLossPrice = 95

	pos, err := opener.Open(params)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&types.TpSlOrder{}).Where("position_id = ?", pos.PositionID).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, pos.TpOrderID)
	assert.Empty(t, pos.SlOrderID)
}

func TestOpenShortLiquidationSide(t *testing.T) {
	db := newTestDB(t)
	createRoom(t, db, 1000)
	opener := NewOpener(db)

	params := baseParams()
	params.Side = types.SideShort
	pos, err := opener.Open(params)
	require.NoError(t, err)

	assert.InDelta(t, 109.5, pos.LiquidationPrice, 1e-9)
}
