package engine

import (
	"fmt"

	"cssd/internal/assets"
	"cssd/internal/ledger"
	"cssd/internal/models"
	"cssd/internal/sets"

	"github.com/jinzhu/gorm"
	"github.com/rs/zerolog/log"
)

// Reverse cancels a pending transaction, returning its stock to the source
// location and restoring serialized assets. The operation is audited; it is
// the only sanctioned way to undo a stuck PENDING transaction. Completed
// transactions cannot be reversed.
func (e *Engine) Reverse(txID uint, actor, reason string) error {
	tx := e.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := e.reverse(tx, txID, actor, reason); err != nil {
		e.ledger.Rollback(tx)
		return err
	}
	return e.ledger.Commit(tx)
}

func (e *Engine) reverse(tx *gorm.DB, txID uint, actor, reason string) error {
	var txn models.Transaction
	if err := tx.Preload("Items").Preload("SetItems").First(&txn, txID).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return fmt.Errorf("transaction %d: %w", txID, ErrNotFound)
		}
		return err
	}

	if txn.Status == models.TxCompleted {
		return fmt.Errorf("transaction %s: %w", txn.Code, ErrAlreadyCompleted)
	}
	if !models.CanTransition(txn.Status, models.TxReversed) {
		return fmt.Errorf("transaction %s is %s: %w", txn.Code, txn.Status, ErrInvalidTransition)
	}

	src, dst := routes(txn.Type, txn.UnitID)

	for _, item := range txn.Items {
		if err := e.ledger.Move(tx, item.InstrumentID, dst, src, item.Quantity, "reverse", txn.Code); err != nil {
			return err
		}
		if err := e.ledger.Move(tx, item.InstrumentID, ledger.LocationBroken, src, item.BrokenCount, "reverse", txn.Code); err != nil {
			return err
		}
		if err := e.ledger.Move(tx, item.InstrumentID, ledger.LocationMissing, src, item.MissingCount, "reverse", txn.Code); err != nil {
			return err
		}

		for _, assetID := range item.AssetIDs {
			var location string
			var status models.AssetStatus
			if txn.Type == models.TxDistribute {
				location, status = ledger.LocationCSSD, models.AssetReady
			} else {
				location, status = ledger.UnitLocation(txn.UnitID), models.AssetInUse
			}
			if err := assets.Assign(tx, assetID, location, status); err != nil {
				return err
			}
		}
	}

	for _, item := range txn.SetItems {
		if err := e.reverseExpanded(tx, item.InstrumentSetID, item.Quantity, dst, src, txn.Code); err != nil {
			return err
		}
		if err := e.reverseExpanded(tx, item.InstrumentSetID, item.BrokenCount, ledger.LocationBroken, src, txn.Code); err != nil {
			return err
		}
		if err := e.reverseExpanded(tx, item.InstrumentSetID, item.MissingCount, ledger.LocationMissing, src, txn.Code); err != nil {
			return err
		}
	}

	// consumed packs go back on the sterile shelf with their contents
	for _, packID := range txn.PackIDs {
		var pack models.SterilePack
		if err := tx.Preload("Items").First(&pack, packID).Error; err != nil {
			return err
		}
		for _, item := range pack.Items {
			if err := e.ledger.Move(tx, item.InstrumentID, dst, src, item.Quantity, "reverse", txn.Code); err != nil {
				return err
			}
		}
		if err := tx.Model(&pack).Update("status", models.PackSterile).Error; err != nil {
			return err
		}
	}

	if err := tx.Model(&txn).Update("status", models.TxReversed).Error; err != nil {
		return err
	}

	record := models.AdminAdjustment{
		Actor:         actor,
		Action:        "reverse-transaction",
		TransactionID: &txn.ID,
		Reason:        reason,
	}
	if err := tx.Create(&record).Error; err != nil {
		return err
	}

	log.Warn().
		Str("code", txn.Code).
		Str("actor", actor).
		Str("reason", reason).
		Msg("transaction reversed")

	return nil
}

func (e *Engine) reverseExpanded(tx *gorm.DB, setID uint, count int, from, to, code string) error {
	if count <= 0 {
		return nil
	}
	reqs, err := sets.Members(tx, setID, count)
	if err != nil {
		return err
	}
	for _, r := range reqs {
		if err := e.ledger.Move(tx, r.InstrumentID, from, to, r.Quantity, "reverse", code); err != nil {
			return err
		}
	}
	return nil
}
