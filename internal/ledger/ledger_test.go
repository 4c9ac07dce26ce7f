package ledger_test

import (
	"testing"

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

func seedInstrument(t *testing.T, db *gorm.DB, cssd int) models.Instrument {
	t.Helper()
	inst := models.Instrument{
		Code:      "FORCEPS",
		Name:      "Artery Forceps",
		Category:  string(models.CategorySingle),
		CSSDStock: cssd,
		IsActive:  true,
	}
	require.NoError(t, db.Create(&inst).Error)
	l := ledger.New(nil)
	// establish the derived total
	require.NoError(t, l.Adjust(db, inst.ID, ledger.LocationCSSD, 0, "seed", "test"))
	return inst
}

func TestAdjustRejectsNegativeResult(t *testing.T) {
	db := testDB(t)
	inst := seedInstrument(t, db, 5)
	l := ledger.New(nil)

	err := l.Adjust(db, inst.ID, ledger.LocationCSSD, -6, "test", "c-1")
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	got, err := ledger.StockAt(db, inst.ID, ledger.LocationCSSD)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestAdjustUnknownInstrument(t *testing.T) {
	db := testDB(t)
	l := ledger.New(nil)

	err := l.Adjust(db, 999, ledger.LocationCSSD, 1, "test", "c-1")
	assert.ErrorIs(t, err, ledger.ErrUnknownInstrument)
}

func TestMoveBetweenLocations(t *testing.T) {
	db := testDB(t)
	inst := seedInstrument(t, db, 10)
	l := ledger.New(nil)

	require.NoError(t, l.Move(db, inst.ID, ledger.LocationCSSD, ledger.UnitLocation(3), 4, "distribute", "c-2"))

	cssd, _ := ledger.StockAt(db, inst.ID, ledger.LocationCSSD)
	unit, _ := ledger.StockAt(db, inst.ID, ledger.UnitLocation(3))
	assert.Equal(t, 6, cssd)
	assert.Equal(t, 4, unit)

	total, err := ledger.CirculatingTotal(db, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, total)
}

func TestMoveRejectedLeavesSourceUntouched(t *testing.T) {
	db := testDB(t)
	inst := seedInstrument(t, db, 3)
	l := ledger.New(nil)

	// run inside a transaction the way the engine does, so a failed move
	// rolls back completely
	tx := db.Begin()
	err := l.Move(tx, inst.ID, ledger.LocationCSSD, ledger.LocationDirty, 5, "wash", "c-3")
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
	tx.Rollback()

	cssd, _ := ledger.StockAt(db, inst.ID, ledger.LocationCSSD)
	dirty, _ := ledger.StockAt(db, inst.ID, ledger.LocationDirty)
	assert.Equal(t, 3, cssd)
	assert.Equal(t, 0, dirty)
}

func TestTotalExcludesWriteOffs(t *testing.T) {
	db := testDB(t)
	inst := seedInstrument(t, db, 10)
	l := ledger.New(nil)

	// one unit breaks: leaves circulation
	require.NoError(t, l.Adjust(db, inst.ID, ledger.LocationCSSD, -1, "write-off", "c-4"))
	require.NoError(t, l.Adjust(db, inst.ID, ledger.LocationBroken, 1, "write-off", "c-4"))

	var got models.Instrument
	require.NoError(t, db.First(&got, inst.ID).Error)
	assert.Equal(t, 9, got.TotalStock)
	assert.Equal(t, 1, got.BrokenStock)
}

func TestAdjustAppendsMovementRows(t *testing.T) {
	db := testDB(t)
	inst := seedInstrument(t, db, 10)
	l := ledger.New(nil)

	require.NoError(t, l.Move(db, inst.ID, ledger.LocationCSSD, ledger.LocationDirty, 2, "wash", "c-5"))

	var movements []models.LedgerMovement
	require.NoError(t, db.Where("correlation = ?", "c-5").Order("id").Find(&movements).Error)
	require.Len(t, movements, 2)
	assert.Equal(t, -2, movements[0].Delta)
	assert.Equal(t, ledger.LocationCSSD, movements[0].Location)
	assert.Equal(t, 2, movements[1].Delta)
	assert.Equal(t, ledger.LocationDirty, movements[1].Location)
}

func TestMovePersistsCSSDColumn(t *testing.T) {
	db := testDB(t)
	inst := seedInstrument(t, db, 10)
	l := ledger.New(nil)

	require.NoError(t, l.Move(db, inst.ID, ledger.LocationCSSD, ledger.UnitLocation(1), 4, "distribute", "c-7"))

	// the debit must land in the column the model reads back
	var stored int
	row := db.Raw("SELECT cssd_stock FROM instruments WHERE id = ?", inst.ID).Row()
	require.NoError(t, row.Scan(&stored))
	assert.Equal(t, 6, stored)

	var got models.Instrument
	require.NoError(t, db.First(&got, inst.ID).Error)
	assert.Equal(t, 6, got.CSSDStock)
	assert.Equal(t, 10, got.TotalStock)

	// repeated draws exhaust the counter instead of replaying against a
	// stale value
	require.NoError(t, l.Move(db, inst.ID, ledger.LocationCSSD, ledger.UnitLocation(1), 6, "distribute", "c-7"))
	err := l.Move(db, inst.ID, ledger.LocationCSSD, ledger.UnitLocation(1), 1, "distribute", "c-7")
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
}

type capturePublisher struct {
	events []ledger.Movement
}

func (c *capturePublisher) StockChanged(m ledger.Movement) {
	c.events = append(c.events, m)
}

func TestAdjustPublishesMovement(t *testing.T) {
	db := testDB(t)
	inst := seedInstrument(t, db, 5)

	pub := &capturePublisher{}
	l := ledger.New(pub)

	require.NoError(t, l.Adjust(db, inst.ID, ledger.LocationCSSD, -2, "distribute", "c-6"))
	require.Len(t, pub.events, 1)
	assert.Equal(t, inst.ID, pub.events[0].InstrumentID)
	assert.Equal(t, -2, pub.events[0].Delta)
}

func TestEventsHeldUntilCommit(t *testing.T) {
	db := testDB(t)
	inst := seedInstrument(t, db, 10)

	pub := &capturePublisher{}
	l := ledger.New(pub)

	tx := db.Begin()
	require.NoError(t, l.Adjust(tx, inst.ID, ledger.LocationCSSD, -5, "distribute", "c-8"))
	assert.Empty(t, pub.events)
	l.Rollback(tx)
	assert.Empty(t, pub.events)

	tx = db.Begin()
	require.NoError(t, l.Adjust(tx, inst.ID, ledger.LocationCSSD, -2, "distribute", "c-9"))
	assert.Empty(t, pub.events)
	require.NoError(t, l.Commit(tx))
	require.Len(t, pub.events, 1)
	assert.Equal(t, -2, pub.events[0].Delta)
}

func TestPublishersFanOut(t *testing.T) {
	a := &capturePublisher{}
	b := &capturePublisher{}

	ledger.Publishers{a, b}.StockChanged(ledger.Movement{InstrumentID: 1, Delta: 3})
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, 3, b.events[0].Delta)
}

func TestParseUnitLocation(t *testing.T) {
	id, ok := ledger.ParseUnitLocation("UNIT-42")
	assert.True(t, ok)
	assert.Equal(t, uint(42), id)

	_, ok = ledger.ParseUnitLocation("CSSD")
	assert.False(t, ok)

	_, ok = ledger.ParseUnitLocation("UNIT-x")
	assert.False(t, ok)
}
