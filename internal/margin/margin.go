// Package margin computes the cost and risk figures for opening a simulated
// position. Every fill path (open-order fills and scheduled market/limit
// executions) goes through Compute so the numbers can never drift apart
// between call sites.
package margin

import (
	"errors"
	"math"

	"github.com/weetoocode1/weetoo-trading-engine/internal/types"
)

const (
	// FeeRate is the flat taker fee applied to the notional size.
	FeeRate = 0.0005
	// MaintenanceMarginRate feeds the liquidation price formula.
	MaintenanceMarginRate = 0.005
)

var ErrInvalidEntryPrice = errors.New("invalid entry price")

// Breakdown holds the derived figures for a position at a given entry.
type Breakdown struct {
	Size             float64
	Fee              float64
	InitialMargin    float64
	LiquidationPrice float64
}

// RequiredCost is the amount debited from the room balance on fill.
func (b Breakdown) RequiredCost() float64 {
	return b.InitialMargin + b.Fee
}

// Compute derives size, fee, initial margin and liquidation price for a
// position entered at entryPrice. Leverage below 1 is clamped to 1. The entry
// price must be a positive finite number; anything else is rejected before any
// persistence happens.
func Compute(entryPrice, quantity, leverage float64, side string) (Breakdown, error) {
	if entryPrice <= 0 || math.IsNaN(entryPrice) || math.IsInf(entryPrice, 0) {
		return Breakdown{}, ErrInvalidEntryPrice
	}
	if leverage < 1 {
		leverage = 1
	}

	size := entryPrice * quantity
	b := Breakdown{
		Size:          size,
		Fee:           size * FeeRate,
		InitialMargin: size / leverage,
	}

	if side == types.SideShort {
		b.LiquidationPrice = entryPrice * (1 + 1/leverage - MaintenanceMarginRate)
	} else {
		b.LiquidationPrice = entryPrice * (1 - 1/leverage + MaintenanceMarginRate)
	}

	return b, nil
}
