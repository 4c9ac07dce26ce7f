package models

import (
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
)

// PackStatus represents the lifecycle state of a sterile pack
type PackStatus string

const (
	// PackPacked means packed at the CSSD, not yet sterilized
	PackPacked PackStatus = "PACKED"
	// PackSterile means the pack passed a sterilization cycle
	PackSterile PackStatus = "STERILE"
	// PackConsumed means the pack was referenced by a transaction
	PackConsumed PackStatus = "CONSUMED"
	// PackFailed means the sterilization cycle failed and the contents
	// went back to dirty stock
	PackFailed PackStatus = "FAILED"
)

// SterilePack is a batch of packed instrument quantities that moves through
// the sterilization pipeline as one unit. CreatedAt drives FIFO advisories.
type SterilePack struct {
	gorm.Model
	Code                 string `gorm:"unique_index"`
	Status               PackStatus
	TargetUnitID         *uint
	ExpiresAt            *time.Time
	SterilizationBatchID *uint
	Items                []PackItem
}

// TableName sets the table name for SterilePack
func (SterilePack) TableName() string {
	return "sterile_packs"
}

// PackCode builds the scannable code for a pack
func PackCode(id uint) string {
	return fmt.Sprintf("PCK-%d", id)
}

// PackItem is one (instrument, quantity) line inside a pack
type PackItem struct {
	gorm.Model
	SterilePackID uint `gorm:"index"`
	InstrumentID  uint `gorm:"index"`
	Quantity      int
}

// BatchOutcome represents the result of a sterilization machine run
type BatchOutcome string

const (
	BatchSuccess BatchOutcome = "SUCCESS"
	BatchFailed  BatchOutcome = "FAILED"
)

// SterilizationBatch records one machine run grouping packs and loose items
type SterilizationBatch struct {
	gorm.Model
	Machine    string
	Operator   string
	Outcome    BatchOutcome
	ExpiryDate *time.Time
}

// TableName sets the table name for SterilizationBatch
func (SterilizationBatch) TableName() string {
	return "sterilization_batches"
}
