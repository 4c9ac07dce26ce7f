package models

import "github.com/jinzhu/gorm"

// LedgerMovement is an append-only record of one ledger adjustment. Every
// stock mutation, including admin overrides, leaves a movement row keyed by
// the correlation code of the operation that caused it.
type LedgerMovement struct {
	gorm.Model
	InstrumentID uint `gorm:"index"`
	Location     string
	Delta        int
	Reason       string
	Correlation  string `gorm:"index"`
}

// TableName sets the table name for LedgerMovement
func (LedgerMovement) TableName() string {
	return "ledger_movements"
}

// AdminAdjustment is the audit record written by administrative operations:
// stock overrides, transaction reversals and corrective recompute jobs.
type AdminAdjustment struct {
	gorm.Model
	Actor         string
	Action        string
	InstrumentID  *uint
	TransactionID *uint
	Location      string
	Quantity      int
	Reason        string
}

// TableName sets the table name for AdminAdjustment
func (AdminAdjustment) TableName() string {
	return "admin_adjustments"
}

// StockTake records one physical count session against a care unit
type StockTake struct {
	gorm.Model
	UnitID  uint `gorm:"index"`
	TakenBy string
	Items   []StockTakeItem
}

// TableName sets the table name for StockTake
func (StockTake) TableName() string {
	return "stock_takes"
}

// StockTakeItem is one counted instrument line of a stock take
type StockTakeItem struct {
	gorm.Model
	StockTakeID  uint `gorm:"index"`
	InstrumentID uint `gorm:"index"`
	SystemQty    int
	PhysicalQty  int
	Discrepancy  int
	QuotaStatus  string
}

// QuotaStatus values for stock-take lines
const (
	QuotaOK        = "OK"
	QuotaOverstock = "OVERSTOCK"
	QuotaNone      = "NO_QUOTA"
)
