package audit_test

import (
	"testing"

	"cssd/internal/audit"
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

func findingKinds(r *audit.Report) []string {
	kinds := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		kinds = append(kinds, f.Kind)
	}
	return kinds
}

func TestRunCleanDatabase(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Create(&models.Instrument{
		Code: "A", Name: "A", CSSDStock: 5, TotalStock: 5, IsActive: true,
	}).Error)

	report, err := audit.Run(db)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestRunDetectsNegativeStock(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Create(&models.Instrument{
		Code: "A", Name: "A", DirtyStock: -2, TotalStock: -2, IsActive: true,
	}).Error)

	report, err := audit.Run(db)
	require.NoError(t, err)
	assert.Contains(t, findingKinds(report), audit.FindingNegativeStock)
}

func TestRunDetectsTotalMismatch(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Create(&models.Instrument{
		Code: "A", Name: "A", CSSDStock: 5, TotalStock: 99, IsActive: true,
	}).Error)

	report, err := audit.Run(db)
	require.NoError(t, err)
	require.Contains(t, findingKinds(report), audit.FindingTotalMismatch)
	for _, f := range report.Findings {
		if f.Kind == audit.FindingTotalMismatch {
			assert.Equal(t, 5, f.Expected)
			assert.Equal(t, 99, f.Actual)
		}
	}
}

func TestRunDetectsSetProblems(t *testing.T) {
	db := testDB(t)

	empty := models.InstrumentSet{Name: "empty", IsActive: true}
	require.NoError(t, db.Create(&empty).Error)

	orphaned := models.InstrumentSet{Name: "orphaned", IsActive: true}
	require.NoError(t, db.Create(&orphaned).Error)
	require.NoError(t, db.Create(&models.SetItem{
		InstrumentSetID: orphaned.ID, InstrumentID: 4242, Quantity: 1,
	}).Error)

	report, err := audit.Run(db)
	require.NoError(t, err)
	kinds := findingKinds(report)
	assert.Contains(t, kinds, audit.FindingEmptySet)
	assert.Contains(t, kinds, audit.FindingOrphanSetItem)
}

func TestRecomputeTotalsRepairsAndAudits(t *testing.T) {
	db := testDB(t)
	inst := models.Instrument{Code: "A", Name: "A", CSSDStock: 5, TotalStock: 99, IsActive: true}
	require.NoError(t, db.Create(&inst).Error)
	ok := models.Instrument{Code: "B", Name: "B", CSSDStock: 3, TotalStock: 3, IsActive: true}
	require.NoError(t, db.Create(&ok).Error)

	repaired, err := audit.RecomputeTotals(db, "admin")
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	var got models.Instrument
	require.NoError(t, db.First(&got, inst.ID).Error)
	assert.Equal(t, 5, got.TotalStock)

	var record models.AdminAdjustment
	require.NoError(t, db.Where("action = ?", "recompute-total").First(&record).Error)
	assert.Equal(t, "admin", record.Actor)
	assert.Equal(t, -94, record.Quantity)

	report, err := audit.Run(db)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestStockTakeQuotaStatus(t *testing.T) {
	db := testDB(t)
	unit := models.Unit{Name: "U1", Code: models.UnitCode("WARD", "U1"), Type: "WARD", IsActive: true}
	require.NoError(t, db.Create(&unit).Error)

	a := models.Instrument{Code: "A", Name: "A", IsActive: true}
	b := models.Instrument{Code: "B", Name: "B", IsActive: true}
	require.NoError(t, db.Create(&a).Error)
	require.NoError(t, db.Create(&b).Error)

	require.NoError(t, db.Create(&models.UnitStock{InstrumentID: a.ID, UnitID: unit.ID, Quantity: 4}).Error)
	require.NoError(t, db.Create(&models.UnitQuota{InstrumentID: a.ID, UnitID: unit.ID, MaxQuantity: 5}).Error)

	take, err := audit.StockTake(db, unit.ID, []audit.CountedLine{
		{InstrumentID: a.ID, PhysicalQty: 6},
		{InstrumentID: b.ID, PhysicalQty: 1},
	}, "auditor")
	require.NoError(t, err)
	require.Len(t, take.Items, 2)

	assert.Equal(t, 4, take.Items[0].SystemQty)
	assert.Equal(t, 2, take.Items[0].Discrepancy)
	assert.Equal(t, models.QuotaOverstock, take.Items[0].QuotaStatus)

	assert.Equal(t, 0, take.Items[1].SystemQty)
	assert.Equal(t, models.QuotaNone, take.Items[1].QuotaStatus)

	// a count never moves stock by itself
	got, err := ledger.StockAt(db, a.ID, ledger.UnitLocation(unit.ID))
	require.NoError(t, err)
	assert.Equal(t, 4, got)
}

func TestStockTakeWithinQuota(t *testing.T) {
	db := testDB(t)
	unit := models.Unit{Name: "U2", Code: models.UnitCode("ICU", "U2"), Type: "ICU", IsActive: true}
	require.NoError(t, db.Create(&unit).Error)
	a := models.Instrument{Code: "A", Name: "A", IsActive: true}
	require.NoError(t, db.Create(&a).Error)
	require.NoError(t, db.Create(&models.UnitQuota{InstrumentID: a.ID, UnitID: unit.ID, MaxQuantity: 5}).Error)

	take, err := audit.StockTake(db, unit.ID, []audit.CountedLine{
		{InstrumentID: a.ID, PhysicalQty: 5},
	}, "auditor")
	require.NoError(t, err)
	assert.Equal(t, models.QuotaOK, take.Items[0].QuotaStatus)
}
