package database

import (
	"os"
	"time"

	"github.com/weetoocode1/weetoo-trading-engine/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase() (*gorm.DB, error) {
	path := os.Getenv("DB_PATH")
	if path == "" {
		path = "weetoo.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := seedDefaultRoom(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates all engine tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.TradingRoom{},
		&types.ScheduledOrder{},
		&types.OpenOrder{},
		&types.Position{},
		&types.TpSlOrder{},
	)
}

// seedDefaultRoom creates a demo trading room on first start so the API is
// usable out of the box
func seedDefaultRoom(db *gorm.DB) error {
	var count int64
	if err := db.Model(&types.TradingRoom{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	room := &types.TradingRoom{
		RoomID:         "room-demo",
		Name:           "Demo Trading Room",
		Symbol:         "BTCUSDT",
		VirtualBalance: 100000,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	return db.Create(room).Error
}
