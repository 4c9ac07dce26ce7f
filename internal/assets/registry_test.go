package assets_test

import (
	"testing"

	"cssd/internal/assets"
	"cssd/internal/database"
	"cssd/internal/ledger"
	"cssd/internal/models"

	"github.com/jinzhu/gorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenTest()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedInstrument(t *testing.T, db *gorm.DB) models.Instrument {
	t.Helper()
	inst := models.Instrument{Code: "HFNC", Name: "HFNC Circuit", IsSerialized: true, IsActive: true}
	require.NoError(t, db.Create(&inst).Error)
	return inst
}

func TestBatchGenerateSerials(t *testing.T) {
	db := testDB(t)
	inst := seedInstrument(t, db)

	created, err := assets.BatchGenerate(db, inst.ID, "HFNC", 5, 1)
	require.NoError(t, err)
	require.Len(t, created, 5)

	for _, a := range created {
		assert.Equal(t, string(models.AssetReady), a.Status)
		assert.Equal(t, ledger.LocationCSSD, a.Location)
		assert.Equal(t, inst.ID, a.InstrumentID)
		assert.Equal(t, 0, a.UsageCount)
	}
	assert.Equal(t, "HFNC-0001", created[0].SerialNumber)
	assert.Equal(t, "HFNC-0005", created[4].SerialNumber)
}

func TestBatchGenerateSkipsCollisions(t *testing.T) {
	db := testDB(t)
	inst := seedInstrument(t, db)

	_, err := assets.BatchGenerate(db, inst.ID, "HFNC", 3, 1)
	require.NoError(t, err)

	// overlapping range: 0002..0004 collides on 0002 and 0003
	created, err := assets.BatchGenerate(db, inst.ID, "HFNC", 3, 2)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "HFNC-0004", created[0].SerialNumber)

	all, err := assets.ByInstrument(db, inst.ID)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestAssignIncrementsUsageOnInUse(t *testing.T) {
	db := testDB(t)
	inst := seedInstrument(t, db)
	created, err := assets.BatchGenerate(db, inst.ID, "HFNC", 1, 1)
	require.NoError(t, err)
	id := created[0].ID

	require.NoError(t, assets.Assign(db, id, ledger.UnitLocation(2), models.AssetInUse))
	require.NoError(t, assets.Assign(db, id, ledger.UnitLocation(2), models.AssetInUse))
	require.NoError(t, assets.Assign(db, id, ledger.LocationCSSD, models.AssetDirty))
	require.NoError(t, assets.Assign(db, id, ledger.UnitLocation(3), models.AssetInUse))

	var got models.Asset
	require.NoError(t, db.First(&got, id).Error)
	// two distinct transitions into IN_USE
	assert.Equal(t, 2, got.UsageCount)
	assert.Equal(t, ledger.UnitLocation(3), got.Location)
}

func TestUpdateAndDeactivate(t *testing.T) {
	db := testDB(t)
	inst := seedInstrument(t, db)
	created, err := assets.BatchGenerate(db, inst.ID, "HFNC", 1, 1)
	require.NoError(t, err)
	id := created[0].ID

	status := string(models.AssetDirty)
	got, err := assets.Update(db, id, assets.Patch{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, string(models.AssetDirty), got.Status)

	require.NoError(t, assets.Deactivate(db, id))
	var after models.Asset
	require.NoError(t, db.First(&after, id).Error)
	assert.False(t, after.IsActive)
	assert.Equal(t, string(models.AssetRetired), after.Status)

	_, err = assets.Update(db, 999, assets.Patch{})
	assert.ErrorIs(t, err, assets.ErrUnknownAsset)
}

func TestBySerial(t *testing.T) {
	db := testDB(t)
	inst := seedInstrument(t, db)
	_, err := assets.BatchGenerate(db, inst.ID, "HFNC", 2, 1)
	require.NoError(t, err)

	got, err := assets.BySerial(db, inst.ID, "HFNC-0002")
	require.NoError(t, err)
	assert.Equal(t, "HFNC-0002", got.SerialNumber)

	_, err = assets.BySerial(db, inst.ID, "HFNC-0099")
	assert.ErrorIs(t, err, assets.ErrUnknownAsset)
}
