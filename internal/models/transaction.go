package models

import (
	"time"

	"github.com/jinzhu/gorm"
)

// TransactionType represents the direction of a stock movement request
type TransactionType string

const (
	// TxDistribute moves sterile stock from the CSSD to a care unit
	TxDistribute TransactionType = "DISTRIBUTE"
	// TxCollect moves used stock from a care unit back to CSSD dirty stock
	TxCollect TransactionType = "COLLECT"
	// TxReturnDirty is a nurse-initiated collection request, stock-wise
	// identical to a collect
	TxReturnDirty TransactionType = "RETURN_DIRTY"
)

// TransactionStatus represents the lifecycle state of a transaction
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxReversed  TransactionStatus = "REVERSED"
)

// transactionTransitions is the explicit transition table; any transition
// not listed here is rejected.
var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TxPending: {TxCompleted, TxReversed},
}

// CanTransition reports whether a status change is allowed
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range transactionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transaction is an atomic stock movement request between the CSSD and a
// care unit. Creation debits the source and credits the destination with the
// declared quantities; validation reconciles against what actually arrived.
type Transaction struct {
	gorm.Model
	Code               string `gorm:"unique_index"`
	Type               TransactionType
	UnitID             uint `gorm:"index"`
	Status             TransactionStatus
	ExpectedReturnDate *time.Time
	PackIDs            UintSlice `gorm:"type:text"`
	CreatedBy          string
	ValidatedBy        string
	ValidatedAt        *time.Time
	ValidationNotes    string
	HasDiscrepancy     bool

	Items    []TransactionItem
	SetItems []TransactionSetItem
}

// TableName sets the table name for Transaction
func (Transaction) TableName() string {
	return "transactions"
}

// TransactionItem is one single-instrument line of a transaction. Quantity,
// BrokenCount and MissingCount are the sender's declared counts at creation;
// the Received* fields hold the receiver's verified counts after validation.
// OutstandingQty tracks how much of a distribute line is still held by the
// unit and is consumed oldest-first by later collects.
type TransactionItem struct {
	gorm.Model
	TransactionID uint `gorm:"index"`
	InstrumentID  uint `gorm:"index"`
	Quantity      int
	BrokenCount   int
	MissingCount  int

	ReceivedCount   int
	ReceivedBroken  int
	ReceivedMissing int
	OutstandingQty  int

	SerialNumbers StringSlice `gorm:"type:text"`
	AssetIDs      UintSlice   `gorm:"type:text"`
}

// TransactionSetItem is one set line of a transaction; quantities are in set
// units and are expanded into member instruments by the set resolver.
type TransactionSetItem struct {
	gorm.Model
	TransactionID   uint `gorm:"index"`
	InstrumentSetID uint `gorm:"index"`
	Quantity        int
	BrokenCount     int
	MissingCount    int

	ReceivedCount   int
	ReceivedBroken  int
	ReceivedMissing int
	OutstandingQty  int
}
