package engine

import (
	"fmt"

	"cssd/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AdminAdjust applies an administrative stock correction. It routes through
// the same ledger primitive as every other mutation, so the negative-stock
// rule and the derived total still hold, and it always leaves an audit
// record. There is no bypass path.
func (e *Engine) AdminAdjust(instrumentID uint, location string, delta int, actor, reason string) error {
	if reason == "" {
		return fmt.Errorf("admin adjustment requires a reason: %w", ErrValidation)
	}
	if actor == "" {
		return fmt.Errorf("admin adjustment requires an actor: %w", ErrValidation)
	}

	correlation := uuid.NewString()
	tx := e.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	if err := e.ledger.Adjust(tx, instrumentID, location, delta, "admin-override", correlation); err != nil {
		e.ledger.Rollback(tx)
		return err
	}

	record := models.AdminAdjustment{
		Actor:        actor,
		Action:       "stock-override",
		InstrumentID: &instrumentID,
		Location:     location,
		Quantity:     delta,
		Reason:       reason,
	}
	if err := tx.Create(&record).Error; err != nil {
		e.ledger.Rollback(tx)
		return err
	}

	if err := e.ledger.Commit(tx); err != nil {
		return err
	}

	log.Warn().
		Uint("instrument", instrumentID).
		Str("location", location).
		Int("delta", delta).
		Str("actor", actor).
		Msg("admin stock override applied")

	return nil
}
