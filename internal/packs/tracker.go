package packs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cssd/internal/ledger"
	"cssd/internal/models"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"github.com/rs/zerolog/log"
)

// ErrUnknownPack is returned when a pack id does not resolve
var ErrUnknownPack = errors.New("unknown sterile pack")

// ErrPackState is returned when a pack is in the wrong state for the
// requested operation (e.g. consuming a pack that is not sterile).
var ErrPackState = errors.New("pack state does not allow operation")

// ItemQuantity is one (instrument, quantity) line for wash, pack and
// sterilize operations.
type ItemQuantity struct {
	InstrumentID uint `json:"instrument_id"`
	Quantity     int  `json:"quantity"`
}

// Label is one printable sterilization label
type Label struct {
	PackCode     string    `json:"pack_code,omitempty"`
	InstrumentID uint      `json:"instrument_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Tracker advances instrument quantities through the wash → pack →
// sterilize pipeline. Its stock moves are intra-CSSD location changes
// routed through the ledger, not transactions.
type Tracker struct {
	ledger    *ledger.Ledger
	shelfLife time.Duration
	now       func() time.Time
}

// NewTracker creates a pack tracker; shelfLife controls generated expiry
// dates on successful sterilization.
func NewTracker(l *ledger.Ledger, shelfLife time.Duration) *Tracker {
	return &Tracker{ledger: l, shelfLife: shelfLife, now: time.Now}
}

// Wash moves quantities from dirty to packing stock atomically
func (t *Tracker) Wash(db *gorm.DB, items []ItemQuantity) error {
	if len(items) == 0 {
		return fmt.Errorf("wash requires at least one item")
	}

	correlation := uuid.NewString()
	tx := db.Begin()
	for _, item := range items {
		if item.Quantity <= 0 {
			t.ledger.Rollback(tx)
			return fmt.Errorf("wash quantity must be positive, got %d", item.Quantity)
		}
		if err := t.ledger.Move(tx, item.InstrumentID, ledger.LocationDirty, ledger.LocationPacking,
			item.Quantity, "wash", correlation); err != nil {
			t.ledger.Rollback(tx)
			return err
		}
	}
	return t.ledger.Commit(tx)
}

// CreatePack groups packed quantities into a sterile pack record with a
// scannable PCK- code. The contents stay in packing stock until a
// sterilization run succeeds. A target unit may pre-book the pack.
func (t *Tracker) CreatePack(db *gorm.DB, items []ItemQuantity, targetUnitID *uint) (*models.SterilePack, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("pack requires at least one item")
	}

	tx := db.Begin()
	pack := models.SterilePack{Status: models.PackPacked, TargetUnitID: targetUnitID}
	if err := tx.Create(&pack).Error; err != nil {
		t.ledger.Rollback(tx)
		return nil, err
	}

	for _, item := range items {
		if item.Quantity <= 0 {
			t.ledger.Rollback(tx)
			return nil, fmt.Errorf("pack quantity must be positive, got %d", item.Quantity)
		}
		var inst models.Instrument
		if err := tx.First(&inst, item.InstrumentID).Error; err != nil {
			t.ledger.Rollback(tx)
			if gorm.IsRecordNotFoundError(err) {
				return nil, fmt.Errorf("instrument %d: %w", item.InstrumentID, ledger.ErrUnknownInstrument)
			}
			return nil, err
		}
		line := models.PackItem{SterilePackID: pack.ID, InstrumentID: item.InstrumentID, Quantity: item.Quantity}
		if err := tx.Create(&line).Error; err != nil {
			t.ledger.Rollback(tx)
			return nil, err
		}
	}

	pack.Code = models.PackCode(pack.ID)
	if err := tx.Model(&pack).Update("code", pack.Code).Error; err != nil {
		t.ledger.Rollback(tx)
		return nil, err
	}
	if err := t.ledger.Commit(tx); err != nil {
		return nil, err
	}

	if err := db.Preload("Items").First(&pack, pack.ID).Error; err != nil {
		return nil, err
	}
	return &pack, nil
}

// Sterilize records one machine run over packs and loose quantities.
// SUCCESS moves contents from packing to sterile CSSD stock and stamps
// expiry dates; FAILED sends contents back to dirty stock.
func (t *Tracker) Sterilize(db *gorm.DB, packIDs []uint, loose []ItemQuantity, machine, operator string, outcome models.BatchOutcome) (*models.SterilizationBatch, []Label, error) {
	if outcome != models.BatchSuccess && outcome != models.BatchFailed {
		return nil, nil, fmt.Errorf("unknown sterilization outcome %q", outcome)
	}
	if len(packIDs) == 0 && len(loose) == 0 {
		return nil, nil, fmt.Errorf("sterilization run requires packs or items")
	}

	correlation := uuid.NewString()
	destination := ledger.LocationCSSD
	reason := "sterilize"
	if outcome == models.BatchFailed {
		destination = ledger.LocationDirty
		reason = "sterilize-failed"
	}

	batch := models.SterilizationBatch{Machine: machine, Operator: operator, Outcome: outcome}
	var expiry time.Time
	if outcome == models.BatchSuccess {
		expiry = t.now().Add(t.shelfLife)
		batch.ExpiryDate = &expiry
	}

	var labels []Label
	tx := db.Begin()
	if err := tx.Create(&batch).Error; err != nil {
		t.ledger.Rollback(tx)
		return nil, nil, err
	}

	for _, packID := range packIDs {
		var pack models.SterilePack
		if err := tx.Preload("Items").First(&pack, packID).Error; err != nil {
			t.ledger.Rollback(tx)
			if gorm.IsRecordNotFoundError(err) {
				return nil, nil, fmt.Errorf("pack %d: %w", packID, ErrUnknownPack)
			}
			return nil, nil, err
		}
		if pack.Status != models.PackPacked {
			t.ledger.Rollback(tx)
			return nil, nil, fmt.Errorf("pack %s is %s, expected %s: %w",
				pack.Code, pack.Status, models.PackPacked, ErrPackState)
		}

		for _, item := range pack.Items {
			if err := t.ledger.Move(tx, item.InstrumentID, ledger.LocationPacking, destination,
				item.Quantity, reason, correlation); err != nil {
				t.ledger.Rollback(tx)
				return nil, nil, err
			}
		}

		updates := map[string]interface{}{"sterilization_batch_id": batch.ID}
		if outcome == models.BatchSuccess {
			updates["status"] = models.PackSterile
			updates["expires_at"] = expiry
			for _, item := range pack.Items {
				for i := 0; i < item.Quantity; i++ {
					labels = append(labels, Label{PackCode: pack.Code, InstrumentID: item.InstrumentID, ExpiresAt: expiry})
				}
			}
		} else {
			updates["status"] = models.PackFailed
		}
		if err := tx.Model(&pack).Updates(updates).Error; err != nil {
			t.ledger.Rollback(tx)
			return nil, nil, err
		}
	}

	for _, item := range loose {
		if item.Quantity <= 0 {
			t.ledger.Rollback(tx)
			return nil, nil, fmt.Errorf("sterilize quantity must be positive, got %d", item.Quantity)
		}
		if err := t.ledger.Move(tx, item.InstrumentID, ledger.LocationPacking, destination,
			item.Quantity, reason, correlation); err != nil {
			t.ledger.Rollback(tx)
			return nil, nil, err
		}
		if outcome == models.BatchSuccess {
			for i := 0; i < item.Quantity; i++ {
				labels = append(labels, Label{InstrumentID: item.InstrumentID, ExpiresAt: expiry})
			}
		}
	}

	if err := t.ledger.Commit(tx); err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("machine", machine).
		Str("operator", operator).
		Str("outcome", string(outcome)).
		Int("packs", len(packIDs)).
		Msg("sterilization run recorded")

	return &batch, labels, nil
}

// Consume marks a pack as used by a transaction. The pack must be sterile,
// unexpired and either unbooked or booked for the consuming unit.
func (t *Tracker) Consume(tx *gorm.DB, packID, unitID uint) (*models.SterilePack, error) {
	var pack models.SterilePack
	if err := tx.Preload("Items").First(&pack, packID).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, fmt.Errorf("pack %d: %w", packID, ErrUnknownPack)
		}
		return nil, err
	}
	if pack.Status != models.PackSterile {
		return nil, fmt.Errorf("pack %s is %s, expected %s: %w",
			pack.Code, pack.Status, models.PackSterile, ErrPackState)
	}
	if pack.ExpiresAt != nil && !pack.ExpiresAt.After(t.now()) {
		return nil, fmt.Errorf("pack %s expired at %s: %w", pack.Code, pack.ExpiresAt, ErrPackState)
	}
	if pack.TargetUnitID != nil && *pack.TargetUnitID != unitID {
		return nil, fmt.Errorf("pack %s is booked for unit %d: %w", pack.Code, *pack.TargetUnitID, ErrPackState)
	}

	if err := tx.Model(&pack).Update("status", models.PackConsumed).Error; err != nil {
		return nil, err
	}
	return &pack, nil
}

// OlderAvailablePack finds a sterile, unexpired pack with identical content
// created before the given pack. Used for the FIFO consumption advisory.
func (t *Tracker) OlderAvailablePack(db *gorm.DB, pack *models.SterilePack) (*models.SterilePack, error) {
	key := contentKey(pack.Items)

	var candidates []models.SterilePack
	err := db.Preload("Items").
		Where("status = ? AND id <> ? AND created_at < ?", models.PackSterile, pack.ID, pack.CreatedAt).
		Order("created_at").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	now := t.now()
	for i := range candidates {
		c := &candidates[i]
		if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
			continue
		}
		if contentKey(c.Items) == key {
			return c, nil
		}
	}
	return nil, nil
}

// contentKey canonicalizes pack contents so packs with identical quantities
// compare equal regardless of item order.
func contentKey(items []models.PackItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%d:%d", item.InstrumentID, item.Quantity))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
