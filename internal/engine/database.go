package engine

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

func (d *Database) CreateOrder(order *types.ScheduledOrder) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrder(roomID, orderID string) (*types.ScheduledOrder, error) {
	var order types.ScheduledOrder
	if err := d.db.Where("order_id = ? AND room_id = ?", orderID, roomID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetOrderForUser scopes the lookup to the owning user. Missing and
// foreign-owned rows are indistinguishable to the caller.
func (d *Database) GetOrderForUser(roomID, userID, orderID string) (*types.ScheduledOrder, error) {
	var order types.ScheduledOrder
	if err := d.db.Where("order_id = ? AND room_id = ? AND user_id = ?", orderID, roomID, userID).
		First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) ListOrders(roomID, userID, status string, limit, offset int) ([]types.ScheduledOrder, error) {
	query := d.db.Where("room_id = ? AND user_id = ?", roomID, userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var orders []types.ScheduledOrder
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// ClaimForExecution is the conditional claim guaranteeing at most one
// concurrent executor per order: the status moves to watching only if it is
// still pending or watching. A zero row count means another executor (or a
// cancel) won the race.
func (d *Database) ClaimForExecution(orderID string) (int64, error) {
	result := d.db.Model(&types.ScheduledOrder{}).
		Where("order_id = ? AND status IN ?", orderID, []string{types.StatusPending, types.StatusWatching}).
		Updates(map[string]interface{}{
			"status":     types.StatusWatching,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// RevertClaim restores the pre-claim status so a not-ready or failed
// execution leaves the order retryable instead of stuck in watching.
// Conditioned on watching so it cannot clobber a terminal transition that
// landed in between.
func (d *Database) RevertClaim(orderID, prevStatus string) error {
	return d.db.Model(&types.ScheduledOrder{}).
		Where("order_id = ? AND status = ?", orderID, types.StatusWatching).
		Updates(map[string]interface{}{
			"status":     prevStatus,
			"updated_at": time.Now(),
		}).Error
}

// FinalizeExecution is the second compare-and-swap: only a row still in
// watching can become executed, so a late duplicate request cannot
// double-apply the transition.
func (d *Database) FinalizeExecution(orderID string, executionPrice float64, executedAt time.Time) (int64, error) {
	result := d.db.Model(&types.ScheduledOrder{}).
		Where("order_id = ? AND status = ?", orderID, types.StatusWatching).
		Updates(map[string]interface{}{
			"status":          types.StatusExecuted,
			"execution_price": executionPrice,
			"executed_at":     executedAt,
			"updated_at":      time.Now(),
		})
	return result.RowsAffected, result.Error
}

// CancelOrder flips a non-terminal order to cancelled. If an execution claim
// is in flight the conditional update decides the winner.
func (d *Database) CancelOrder(orderID string) (int64, error) {
	result := d.db.Model(&types.ScheduledOrder{}).
		Where("order_id = ? AND status IN ?", orderID, []string{types.StatusPending, types.StatusWatching}).
		Updates(map[string]interface{}{
			"status":     types.StatusCancelled,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// DeleteOrder hard-deletes an order regardless of status, owner-scoped.
func (d *Database) DeleteOrder(roomID, userID, orderID string) (int64, error) {
	result := d.db.Unscoped().
		Where("order_id = ? AND room_id = ? AND user_id = ?", orderID, roomID, userID).
		Delete(&types.ScheduledOrder{})
	return result.RowsAffected, result.Error
}

func (d *Database) CreateOpenOrder(order *types.OpenOrder) error {
	return d.db.Create(order).Error
}

// DueOrders returns orders the poller should attempt: time-based orders whose
// scheduled time has passed and price-based orders under watch.
func (d *Database) DueOrders(now time.Time) ([]types.ScheduledOrder, error) {
	var orders []types.ScheduledOrder
	err := d.db.
		Where("schedule_type = ? AND status = ? AND scheduled_at <= ?",
			types.ScheduleTimeBased, types.StatusPending, now).
		Or("schedule_type = ? AND status = ?",
			types.SchedulePriceBased, types.StatusWatching).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
