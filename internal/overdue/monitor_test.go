package overdue_test

import (
	"testing"
	"time"

	"cssd/internal/database"
	"cssd/internal/models"
	"cssd/internal/overdue"

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

func seedDistribute(t *testing.T, db *gorm.DB, unitID, instrumentID uint, outstanding int, expected time.Time) models.Transaction {
	t.Helper()
	tx := models.Transaction{
		Code:               "TX-" + expected.Format("20060102150405.000000000"),
		Type:               models.TxDistribute,
		UnitID:             unitID,
		Status:             models.TxCompleted,
		ExpectedReturnDate: &expected,
	}
	require.NoError(t, db.Create(&tx).Error)
	item := models.TransactionItem{
		TransactionID:  tx.ID,
		InstrumentID:   instrumentID,
		Quantity:       outstanding,
		OutstandingQty: outstanding,
	}
	require.NoError(t, db.Create(&item).Error)
	return tx
}

func TestDaysOverdueBoundary(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, overdue.DaysOverdue(now, now))
	assert.Equal(t, 0, overdue.DaysOverdue(now.Add(-23*time.Hour), now))
	assert.Equal(t, 1, overdue.DaysOverdue(now.Add(-25*time.Hour), now))
	assert.Equal(t, 2, overdue.DaysOverdue(now.Add(-49*time.Hour), now))
	// future deadline is never overdue
	assert.Equal(t, 0, overdue.DaysOverdue(now.Add(time.Hour), now))
}

func TestUnitOverdue(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	// deadline passed two days ago
	seedDistribute(t, db, 7, 1, 4, now.Add(-48*time.Hour))

	has, lines, err := overdue.UnitOverdue(db, 7, now)
	require.NoError(t, err)
	assert.True(t, has)
	require.Len(t, lines, 1)
	assert.Equal(t, 4, lines[0].Outstanding)
	assert.Equal(t, 2, lines[0].DaysOverdue)

	// another unit is unaffected
	has, _, err = overdue.UnitOverdue(db, 8, now)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestUnitNotOverdueAtDeadline(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	seedDistribute(t, db, 7, 1, 4, now)

	has, lines, err := overdue.UnitOverdue(db, 7, now)
	require.NoError(t, err)
	assert.False(t, has)
	assert.Empty(t, lines)
}

func TestConsumeOutstandingOldestFirst(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	older := seedDistribute(t, db, 7, 1, 3, now.Add(-72*time.Hour))
	newer := seedDistribute(t, db, 7, 1, 5, now.Add(-48*time.Hour))
	// make ordering deterministic
	require.NoError(t, db.Model(&models.TransactionItem{}).
		Where("transaction_id = ?", older.ID).
		Update("created_at", now.Add(-72*time.Hour)).Error)

	require.NoError(t, overdue.ConsumeOutstanding(db, 7, 1, 4))

	var items []models.TransactionItem
	require.NoError(t, db.Where("transaction_id IN (?)", []uint{older.ID, newer.ID}).
		Order("created_at").Find(&items).Error)
	require.Len(t, items, 2)
	assert.Equal(t, 0, items[0].OutstandingQty)
	assert.Equal(t, 4, items[1].OutstandingQty)

	// fully covered lines no longer flag the unit
	require.NoError(t, overdue.ConsumeOutstanding(db, 7, 1, 4))
	has, _, err := overdue.UnitOverdue(db, 7, now)
	require.NoError(t, err)
	assert.False(t, has)
}
