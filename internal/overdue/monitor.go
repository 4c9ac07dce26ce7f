package overdue

import (
	"time"

	"cssd/internal/models"

	"github.com/jinzhu/gorm"
)

// Line is one distribute line still held by a unit past its expected
// return date. Either InstrumentID or SetID is set.
type Line struct {
	TransactionID   uint      `json:"transaction_id"`
	TransactionCode string    `json:"transaction_code"`
	InstrumentID    uint      `json:"instrument_id,omitempty"`
	SetID           uint      `json:"set_id,omitempty"`
	Outstanding     int       `json:"outstanding"`
	ExpectedReturn  time.Time `json:"expected_return"`
	DaysOverdue     int       `json:"days_overdue"`
}

// DaysOverdue is the whole number of days elapsed since the expected return
// date. Exactly at the deadline moment counts as zero, not yet overdue.
func DaysOverdue(expected, now time.Time) int {
	if !now.After(expected) {
		return 0
	}
	return int(now.Sub(expected).Hours() / 24)
}

// UnitOverdue reports whether a unit holds distributed stock past its
// expected return date, with the offending lines. A line counts while its
// outstanding quantity has not been covered by later collects.
func UnitOverdue(db *gorm.DB, unitID uint, now time.Time) (bool, []Line, error) {
	var txs []models.Transaction
	err := db.Preload("Items").Preload("SetItems").
		Where("type = ? AND unit_id = ? AND status IN (?) AND expected_return_date IS NOT NULL",
			models.TxDistribute, unitID, []models.TransactionStatus{models.TxPending, models.TxCompleted}).
		Order("created_at").
		Find(&txs).Error
	if err != nil {
		return false, nil, err
	}

	var lines []Line
	for _, tx := range txs {
		days := DaysOverdue(*tx.ExpectedReturnDate, now)
		if days < 1 {
			continue
		}
		for _, item := range tx.Items {
			if item.OutstandingQty <= 0 {
				continue
			}
			lines = append(lines, Line{
				TransactionID:   tx.ID,
				TransactionCode: tx.Code,
				InstrumentID:    item.InstrumentID,
				Outstanding:     item.OutstandingQty,
				ExpectedReturn:  *tx.ExpectedReturnDate,
				DaysOverdue:     days,
			})
		}
		for _, item := range tx.SetItems {
			if item.OutstandingQty <= 0 {
				continue
			}
			lines = append(lines, Line{
				TransactionID:   tx.ID,
				TransactionCode: tx.Code,
				SetID:           item.InstrumentSetID,
				Outstanding:     item.OutstandingQty,
				ExpectedReturn:  *tx.ExpectedReturnDate,
				DaysOverdue:     days,
			})
		}
	}

	return len(lines) > 0, lines, nil
}

// ConsumeOutstanding reduces the outstanding quantity of a unit's open
// distribute lines for an instrument, oldest first. Called when a collect
// of that instrument from the unit completes.
func ConsumeOutstanding(tx *gorm.DB, unitID, instrumentID uint, qty int) error {
	if qty <= 0 {
		return nil
	}

	var items []models.TransactionItem
	err := tx.Joins("JOIN transactions ON transactions.id = transaction_items.transaction_id").
		Where("transactions.type = ? AND transactions.unit_id = ? AND transactions.status IN (?)",
			models.TxDistribute, unitID, []models.TransactionStatus{models.TxPending, models.TxCompleted}).
		Where("transaction_items.instrument_id = ? AND transaction_items.outstanding_qty > 0", instrumentID).
		Order("transaction_items.created_at").
		Find(&items).Error
	if err != nil {
		return err
	}

	remaining := qty
	for i := range items {
		if remaining == 0 {
			break
		}
		take := items[i].OutstandingQty
		if take > remaining {
			take = remaining
		}
		if err := tx.Model(&items[i]).Update("outstanding_qty", items[i].OutstandingQty-take).Error; err != nil {
			return err
		}
		remaining -= take
	}
	return nil
}

// ConsumeOutstandingSet is ConsumeOutstanding for set lines, in set units
func ConsumeOutstandingSet(tx *gorm.DB, unitID, setID uint, qty int) error {
	if qty <= 0 {
		return nil
	}

	var items []models.TransactionSetItem
	err := tx.Joins("JOIN transactions ON transactions.id = transaction_set_items.transaction_id").
		Where("transactions.type = ? AND transactions.unit_id = ? AND transactions.status IN (?)",
			models.TxDistribute, unitID, []models.TransactionStatus{models.TxPending, models.TxCompleted}).
		Where("transaction_set_items.instrument_set_id = ? AND transaction_set_items.outstanding_qty > 0", setID).
		Order("transaction_set_items.created_at").
		Find(&items).Error
	if err != nil {
		return err
	}

	remaining := qty
	for i := range items {
		if remaining == 0 {
			break
		}
		take := items[i].OutstandingQty
		if take > remaining {
			take = remaining
		}
		if err := tx.Model(&items[i]).Update("outstanding_qty", items[i].OutstandingQty-take).Error; err != nil {
			return err
		}
		remaining -= take
	}
	return nil
}
