package engine

import (
	"fmt"

	"cssd/internal/ledger"
	"cssd/internal/models"
	"cssd/internal/overdue"
	"cssd/internal/sets"

	"github.com/jinzhu/gorm"
	"github.com/rs/zerolog/log"
)

// VerificationLine is one verified line submitted by the receiving party.
// Exactly one of InstrumentID and SetID is set.
type VerificationLine struct {
	InstrumentID  uint `json:"instrument_id"`
	SetID         uint `json:"set_id"`
	ReceivedCount int  `json:"received_count"`
	BrokenCount   int  `json:"broken_count"`
	MissingCount  int  `json:"missing_count"`
}

// Discrepancy is the auditable delta between declared and verified counts
// on one line.
type Discrepancy struct {
	InstrumentID uint `json:"instrument_id,omitempty"`
	SetID        uint `json:"set_id,omitempty"`
	Declared     int  `json:"declared"`
	Received     int  `json:"received"`
	Broken       int  `json:"broken"`
	Missing      int  `json:"missing"`
}

// ValidationResult summarizes a completed validation
type ValidationResult struct {
	Completed      bool          `json:"completed"`
	HasDiscrepancy bool          `json:"has_discrepancy"`
	Summary        []Discrepancy `json:"discrepancy_summary"`
}

// Validate completes a pending transaction. The receiving party's verified
// counts are authoritative for what actually arrived: the destination gets
// the received count, broken and missing go to the write-off counters, and
// any delta against the declared counts is recorded, never rejected. Passing
// no lines is the legacy simple validation: received equals declared.
func (e *Engine) Validate(txID uint, lines []VerificationLine, notes, validator string) (*ValidationResult, error) {
	tx := e.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	result, err := e.validate(tx, txID, lines, notes, validator)
	if err != nil {
		e.ledger.Rollback(tx)
		return nil, err
	}
	if err := e.ledger.Commit(tx); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) validate(tx *gorm.DB, txID uint, lines []VerificationLine, notes, validator string) (*ValidationResult, error) {
	var txn models.Transaction
	if err := tx.Preload("Items").Preload("SetItems").First(&txn, txID).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, fmt.Errorf("transaction %d: %w", txID, ErrNotFound)
		}
		return nil, err
	}

	if txn.Status == models.TxCompleted {
		return nil, fmt.Errorf("transaction %s: %w", txn.Code, ErrAlreadyCompleted)
	}
	if !models.CanTransition(txn.Status, models.TxCompleted) {
		return nil, fmt.Errorf("transaction %s is %s: %w", txn.Code, txn.Status, ErrInvalidTransition)
	}

	itemLines := make(map[uint]VerificationLine)
	setLines := make(map[uint]VerificationLine)
	for _, line := range lines {
		if line.ReceivedCount < 0 || line.BrokenCount < 0 || line.MissingCount < 0 {
			return nil, fmt.Errorf("negative verification counts: %w", ErrValidation)
		}
		if line.SetID != 0 {
			setLines[line.SetID] = line
		} else {
			itemLines[line.InstrumentID] = line
		}
	}

	// every verified line must name a line of the transaction; a typo'd id
	// must not silently fall back to the declared counts
	onTxItems := make(map[uint]bool, len(txn.Items))
	for _, item := range txn.Items {
		onTxItems[item.InstrumentID] = true
	}
	for id := range itemLines {
		if !onTxItems[id] {
			return nil, fmt.Errorf("instrument %d is not on transaction %s: %w", id, txn.Code, ErrValidation)
		}
	}
	onTxSets := make(map[uint]bool, len(txn.SetItems))
	for _, item := range txn.SetItems {
		onTxSets[item.InstrumentSetID] = true
	}
	for id := range setLines {
		if !onTxSets[id] {
			return nil, fmt.Errorf("set %d is not on transaction %s: %w", id, txn.Code, ErrValidation)
		}
	}

	_, dst := routes(txn.Type, txn.UnitID)
	collecting := txn.Type != models.TxDistribute

	result := &ValidationResult{Completed: true}

	for i := range txn.Items {
		item := &txn.Items[i]
		line, verified := itemLines[item.InstrumentID]
		if !verified {
			line = VerificationLine{ReceivedCount: item.Quantity}
		}

		delta := line.ReceivedCount - item.Quantity
		if delta != 0 {
			if err := e.ledger.Adjust(tx, item.InstrumentID, dst, delta, "validation", txn.Code); err != nil {
				return nil, err
			}
		}
		if line.BrokenCount > 0 {
			if err := e.ledger.Adjust(tx, item.InstrumentID, ledger.LocationBroken, line.BrokenCount, "validation-broken", txn.Code); err != nil {
				return nil, err
			}
		}
		if line.MissingCount > 0 {
			if err := e.ledger.Adjust(tx, item.InstrumentID, ledger.LocationMissing, line.MissingCount, "validation-missing", txn.Code); err != nil {
				return nil, err
			}
		}

		updates := map[string]interface{}{
			"received_count":   line.ReceivedCount,
			"received_broken":  line.BrokenCount,
			"received_missing": line.MissingCount,
		}
		if txn.Type == models.TxDistribute {
			updates["outstanding_qty"] = line.ReceivedCount
		}
		if err := tx.Model(item).Updates(updates).Error; err != nil {
			return nil, err
		}

		if collecting {
			accounted := line.ReceivedCount + line.BrokenCount + line.MissingCount
			if err := overdue.ConsumeOutstanding(tx, txn.UnitID, item.InstrumentID, accounted); err != nil {
				return nil, err
			}
		}

		if line.ReceivedCount != item.Quantity || line.BrokenCount > 0 || line.MissingCount > 0 {
			result.HasDiscrepancy = true
		}
		result.Summary = append(result.Summary, Discrepancy{
			InstrumentID: item.InstrumentID,
			Declared:     item.Quantity,
			Received:     line.ReceivedCount,
			Broken:       line.BrokenCount,
			Missing:      line.MissingCount,
		})
	}

	for i := range txn.SetItems {
		item := &txn.SetItems[i]
		line, verified := setLines[item.InstrumentSetID]
		if !verified {
			line = VerificationLine{ReceivedCount: item.Quantity}
		}

		delta := line.ReceivedCount - item.Quantity
		if err := e.adjustExpanded(tx, item.InstrumentSetID, delta, dst, "validation", txn.Code); err != nil {
			return nil, err
		}
		if err := e.adjustExpanded(tx, item.InstrumentSetID, line.BrokenCount, ledger.LocationBroken, "validation-broken", txn.Code); err != nil {
			return nil, err
		}
		if err := e.adjustExpanded(tx, item.InstrumentSetID, line.MissingCount, ledger.LocationMissing, "validation-missing", txn.Code); err != nil {
			return nil, err
		}

		updates := map[string]interface{}{
			"received_count":   line.ReceivedCount,
			"received_broken":  line.BrokenCount,
			"received_missing": line.MissingCount,
		}
		if txn.Type == models.TxDistribute {
			updates["outstanding_qty"] = line.ReceivedCount
		}
		if err := tx.Model(item).Updates(updates).Error; err != nil {
			return nil, err
		}

		if collecting {
			accounted := line.ReceivedCount + line.BrokenCount + line.MissingCount
			if err := overdue.ConsumeOutstandingSet(tx, txn.UnitID, item.InstrumentSetID, accounted); err != nil {
				return nil, err
			}
		}

		if line.ReceivedCount != item.Quantity || line.BrokenCount > 0 || line.MissingCount > 0 {
			result.HasDiscrepancy = true
		}
		result.Summary = append(result.Summary, Discrepancy{
			SetID:    item.InstrumentSetID,
			Declared: item.Quantity,
			Received: line.ReceivedCount,
			Broken:   line.BrokenCount,
			Missing:  line.MissingCount,
		})
	}

	validatedAt := e.now()
	if err := tx.Model(&txn).Updates(map[string]interface{}{
		"status":           models.TxCompleted,
		"validated_by":     validator,
		"validated_at":     validatedAt,
		"validation_notes": notes,
		"has_discrepancy":  result.HasDiscrepancy,
	}).Error; err != nil {
		return nil, err
	}

	log.Info().
		Str("code", txn.Code).
		Str("validated_by", validator).
		Bool("discrepancy", result.HasDiscrepancy).
		Msg("transaction completed")

	return result, nil
}

// adjustExpanded applies a per-set-unit adjustment to every member
// instrument. count may be negative.
func (e *Engine) adjustExpanded(tx *gorm.DB, setID uint, count int, location, reason, code string) error {
	if count == 0 {
		return nil
	}
	magnitude := count
	sign := 1
	if magnitude < 0 {
		magnitude = -magnitude
		sign = -1
	}
	reqs, err := sets.Members(tx, setID, magnitude)
	if err != nil {
		return err
	}
	for _, r := range reqs {
		if err := e.ledger.Adjust(tx, r.InstrumentID, location, sign*r.Quantity, reason, code); err != nil {
			return err
		}
	}
	return nil
}
