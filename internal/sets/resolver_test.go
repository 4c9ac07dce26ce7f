package sets_test

import (
	"testing"

	"cssd/internal/database"
	"cssd/internal/ledger"
	"cssd/internal/models"
	"cssd/internal/sets"

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

func seedInstrument(t *testing.T, db *gorm.DB, code string, cssd int) models.Instrument {
	t.Helper()
	inst := models.Instrument{Code: code, Name: code, CSSDStock: cssd, IsActive: true}
	require.NoError(t, db.Create(&inst).Error)
	return inst
}

func seedSet(t *testing.T, db *gorm.DB, name string, members map[uint]int) models.InstrumentSet {
	t.Helper()
	set := models.InstrumentSet{Name: name, IsActive: true}
	require.NoError(t, db.Create(&set).Error)
	for instID, qty := range members {
		item := models.SetItem{InstrumentSetID: set.ID, InstrumentID: instID, Quantity: qty}
		require.NoError(t, db.Create(&item).Error)
	}
	return set
}

func TestAvailableMinOverMembers(t *testing.T) {
	db := testDB(t)
	a := seedInstrument(t, db, "A", 5)
	b := seedInstrument(t, db, "B", 9)
	set := seedSet(t, db, "laparotomy", map[uint]int{a.ID: 2, b.ID: 3})

	// A supplies 2 sets, B supplies 3 sets
	got, err := sets.Available(db, set.ID, ledger.LocationCSSD)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestAvailableZeroWhenMemberEmpty(t *testing.T) {
	db := testDB(t)
	a := seedInstrument(t, db, "A", 5)
	b := seedInstrument(t, db, "B", 0)
	set := seedSet(t, db, "suture", map[uint]int{a.ID: 2, b.ID: 1})

	got, err := sets.Available(db, set.ID, ledger.LocationCSSD)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestAvailableZeroWhenMemberInactive(t *testing.T) {
	db := testDB(t)
	a := seedInstrument(t, db, "A", 10)
	b := seedInstrument(t, db, "B", 10)
	require.NoError(t, db.Model(&b).Update("is_active", false).Error)
	set := seedSet(t, db, "suture", map[uint]int{a.ID: 1, b.ID: 1})

	got, err := sets.Available(db, set.ID, ledger.LocationCSSD)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestAvailableMonotonicInStock(t *testing.T) {
	db := testDB(t)
	a := seedInstrument(t, db, "A", 6)
	set := seedSet(t, db, "solo", map[uint]int{a.ID: 2})

	l := ledger.New(nil)
	prev := int(^uint(0) >> 1)
	for i := 0; i < 6; i++ {
		got, err := sets.Available(db, set.ID, ledger.LocationCSSD)
		require.NoError(t, err)
		assert.LessOrEqual(t, got, prev)
		prev = got
		require.NoError(t, l.Adjust(db, a.ID, ledger.LocationCSSD, -1, "drain", "t"))
	}

	got, err := sets.Available(db, set.ID, ledger.LocationCSSD)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestExpandFlattensQuantities(t *testing.T) {
	db := testDB(t)
	a := seedInstrument(t, db, "A", 10)
	b := seedInstrument(t, db, "B", 10)
	set := seedSet(t, db, "tray", map[uint]int{a.ID: 2, b.ID: 1})

	reqs, err := sets.Expand(db, set.ID, 3)
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	byInstrument := map[uint]int{}
	for _, r := range reqs {
		byInstrument[r.InstrumentID] = r.Quantity
	}
	assert.Equal(t, 6, byInstrument[a.ID])
	assert.Equal(t, 3, byInstrument[b.ID])
}

func TestExpandRejectsInactiveAndEmptySets(t *testing.T) {
	db := testDB(t)
	a := seedInstrument(t, db, "A", 10)

	inactive := seedSet(t, db, "old", map[uint]int{a.ID: 1})
	require.NoError(t, db.Model(&inactive).Update("is_active", false).Error)
	_, err := sets.Expand(db, inactive.ID, 1)
	assert.ErrorIs(t, err, sets.ErrInactiveSet)

	empty := seedSet(t, db, "empty", nil)
	_, err = sets.Expand(db, empty.ID, 1)
	assert.ErrorIs(t, err, sets.ErrEmptySet)

	_, err = sets.Expand(db, 9999, 1)
	assert.ErrorIs(t, err, sets.ErrUnknownSet)
}
