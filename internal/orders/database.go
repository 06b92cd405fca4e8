package orders

import (
	"errors"
	"time"

	"github.com/weetoocode1/weetoo-trading-engine/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(order *types.OpenOrder) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrderForUser(roomID, userID, orderID string) (*types.OpenOrder, error) {
	var order types.OpenOrder
	if err := d.db.Where("order_id = ? AND room_id = ? AND user_id = ?", orderID, roomID, userID).
		First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) ListOrders(roomID, userID, status string) ([]types.OpenOrder, error) {
	query := d.db.Where("room_id = ? AND user_id = ?", roomID, userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var list []types.OpenOrder
	if err := query.Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// CancelOrder flips an open order to cancelled. Zero rows means the order
// already left open; it never comes back.
func (d *Database) CancelOrder(orderID string) (int64, error) {
	result := d.db.Model(&types.OpenOrder{}).
		Where("order_id = ? AND status = ?", orderID, types.OrderStatusOpen).
		Updates(map[string]interface{}{
			"status":     types.OrderStatusCancelled,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// ClaimFillTx is the conditional claim on fill: only an order still open can
// move to filled, so two concurrent fill requests resolve to one position.
func ClaimFillTx(tx *gorm.DB, orderID string) (int64, error) {
	result := tx.Model(&types.OpenOrder{}).
		Where("order_id = ? AND status = ?", orderID, types.OrderStatusOpen).
		Updates(map[string]interface{}{
			"status":     types.OrderStatusFilled,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// LinkPositionTx records the fill outcome on the order row.
func LinkPositionTx(tx *gorm.DB, orderID, positionID string, filledAt time.Time) error {
	return tx.Model(&types.OpenOrder{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"position_id": positionID,
			"filled_at":   filledAt,
			"updated_at":  time.Now(),
		}).Error
}
