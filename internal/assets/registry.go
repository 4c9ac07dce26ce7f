package assets

import (
	"errors"
	"fmt"

	"cssd/internal/ledger"
	"cssd/internal/models"

	"github.com/jinzhu/gorm"
	"github.com/rs/zerolog/log"
)

// ErrUnknownAsset is returned when a serial number or asset id does not
// resolve, or when the asset's state is incompatible with the requested
// transition.
var ErrUnknownAsset = errors.New("unknown asset")

// BatchGenerate creates count assets for an instrument with serials
// PREFIX-NNNN starting at startFrom, status READY, located at the CSSD.
// Serials that already exist for the instrument are skipped silently; the
// rest of the batch is still created.
func BatchGenerate(db *gorm.DB, instrumentID uint, prefix string, count, startFrom int) ([]models.Asset, error) {
	if count <= 0 {
		return nil, fmt.Errorf("asset batch count must be positive, got %d", count)
	}
	if startFrom <= 0 {
		startFrom = 1
	}

	var inst models.Instrument
	if err := db.First(&inst, instrumentID).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, fmt.Errorf("instrument %d: %w", instrumentID, ledger.ErrUnknownInstrument)
		}
		return nil, err
	}

	var existing []models.Asset
	if err := db.Where("instrument_id = ?", instrumentID).Find(&existing).Error; err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(existing))
	for _, a := range existing {
		taken[a.SerialNumber] = true
	}

	created := make([]models.Asset, 0, count)
	skipped := 0
	for i := 0; i < count; i++ {
		serial := fmt.Sprintf("%s-%04d", prefix, startFrom+i)
		if taken[serial] {
			skipped++
			continue
		}
		asset := models.Asset{
			InstrumentID: instrumentID,
			SerialNumber: serial,
			Status:       string(models.AssetReady),
			Location:     ledger.LocationCSSD,
			IsActive:     true,
		}
		if err := db.Create(&asset).Error; err != nil {
			return nil, fmt.Errorf("failed to create asset %s: %w", serial, err)
		}
		created = append(created, asset)
	}

	if skipped > 0 {
		log.Warn().
			Uint("instrument", instrumentID).
			Str("prefix", prefix).
			Int("skipped", skipped).
			Msg("skipped colliding serials in asset batch")
	}

	return created, nil
}

// BySerial resolves a serial number to an asset of the given instrument
func BySerial(db *gorm.DB, instrumentID uint, serial string) (*models.Asset, error) {
	var asset models.Asset
	err := db.Where("instrument_id = ? AND serial_number = ?", instrumentID, serial).First(&asset).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, fmt.Errorf("serial %s: %w", serial, ErrUnknownAsset)
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// ByInstrument returns all assets of an instrument
func ByInstrument(db *gorm.DB, instrumentID uint) ([]models.Asset, error) {
	var out []models.Asset
	err := db.Where("instrument_id = ?", instrumentID).Order("serial_number").Find(&out).Error
	return out, err
}

// Assign relocates an asset and sets its status. The usage counter
// increments on each transition into IN_USE.
func Assign(tx *gorm.DB, assetID uint, location string, status models.AssetStatus) error {
	var asset models.Asset
	if err := tx.First(&asset, assetID).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return fmt.Errorf("asset %d: %w", assetID, ErrUnknownAsset)
		}
		return err
	}

	updates := map[string]interface{}{
		"location": location,
		"status":   string(status),
	}
	if status == models.AssetInUse && asset.Status != string(models.AssetInUse) {
		updates["usage_count"] = asset.UsageCount + 1
	}
	return tx.Model(&asset).Updates(updates).Error
}

// Patch holds optional asset field updates
type Patch struct {
	Status   *string
	Location *string
	IsActive *bool
}

// Update applies a partial update to an asset
func Update(db *gorm.DB, assetID uint, patch Patch) (*models.Asset, error) {
	var asset models.Asset
	if err := db.First(&asset, assetID).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, fmt.Errorf("asset %d: %w", assetID, ErrUnknownAsset)
		}
		return nil, err
	}

	updates := map[string]interface{}{}
	if patch.Status != nil {
		updates["status"] = *patch.Status
	}
	if patch.Location != nil {
		updates["location"] = *patch.Location
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}
	if len(updates) == 0 {
		return &asset, nil
	}

	if err := db.Model(&asset).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// Deactivate retires an asset. Transaction flow never destroys assets; this
// is the only way one leaves service.
func Deactivate(db *gorm.DB, assetID uint) error {
	var asset models.Asset
	if err := db.First(&asset, assetID).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return fmt.Errorf("asset %d: %w", assetID, ErrUnknownAsset)
		}
		return err
	}
	return db.Model(&asset).Updates(map[string]interface{}{
		"is_active": false,
		"status":    string(models.AssetRetired),
	}).Error
}
