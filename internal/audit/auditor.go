package audit

import (
	"fmt"
	"time"

	"cssd/internal/ledger"
	"cssd/internal/models"

	"github.com/jinzhu/gorm"
	"github.com/rs/zerolog/log"
)

// Finding is one consistency violation detected by an audit run
type Finding struct {
	Kind         string `json:"kind"`
	InstrumentID uint   `json:"instrument_id,omitempty"`
	SetID        uint   `json:"set_id,omitempty"`
	Location     string `json:"location,omitempty"`
	Expected     int    `json:"expected,omitempty"`
	Actual       int    `json:"actual,omitempty"`
	Detail       string `json:"detail"`
}

// Finding kinds
const (
	FindingNegativeStock = "NEGATIVE_STOCK"
	FindingTotalMismatch = "TOTAL_MISMATCH"
	FindingOrphanSetItem = "ORPHAN_SET_ITEM"
	FindingEmptySet      = "EMPTY_SET"
)

// Report is the result of one audit run
type Report struct {
	RanAt    time.Time `json:"ran_at"`
	Findings []Finding `json:"findings"`
}

// Clean reports whether the run found nothing
func (r *Report) Clean() bool { return len(r.Findings) == 0 }

// Run sweeps the database for consistency violations: negative counters,
// derived totals that disagree with the location counters, set members
// pointing at deleted instruments, and active sets with no members. The
// sweep is read-only; it reports, it never repairs.
func Run(db *gorm.DB) (*Report, error) {
	report := &Report{RanAt: time.Now()}

	var instruments []models.Instrument
	if err := db.Find(&instruments).Error; err != nil {
		return nil, err
	}

	for _, inst := range instruments {
		counters := map[string]int{
			ledger.LocationCSSD:    inst.CSSDStock,
			ledger.LocationDirty:   inst.DirtyStock,
			ledger.LocationPacking: inst.PackingStock,
			ledger.LocationBroken:  inst.BrokenStock,
			ledger.LocationMissing: inst.MissingStock,
		}
		for location, value := range counters {
			if value < 0 {
				report.Findings = append(report.Findings, Finding{
					Kind:         FindingNegativeStock,
					InstrumentID: inst.ID,
					Location:     location,
					Actual:       value,
					Detail:       fmt.Sprintf("instrument %s has %d at %s", inst.Code, value, location),
				})
			}
		}

		var unitStocks []models.UnitStock
		if err := db.Where("instrument_id = ?", inst.ID).Find(&unitStocks).Error; err != nil {
			return nil, err
		}
		for _, us := range unitStocks {
			if us.Quantity < 0 {
				report.Findings = append(report.Findings, Finding{
					Kind:         FindingNegativeStock,
					InstrumentID: inst.ID,
					Location:     ledger.UnitLocation(us.UnitID),
					Actual:       us.Quantity,
					Detail:       fmt.Sprintf("instrument %s has %d at unit %d", inst.Code, us.Quantity, us.UnitID),
				})
			}
		}

		expected, err := ledger.CirculatingTotal(db, inst.ID)
		if err != nil {
			return nil, err
		}
		if expected != inst.TotalStock {
			report.Findings = append(report.Findings, Finding{
				Kind:         FindingTotalMismatch,
				InstrumentID: inst.ID,
				Expected:     expected,
				Actual:       inst.TotalStock,
				Detail:       fmt.Sprintf("instrument %s total is %d, counters sum to %d", inst.Code, inst.TotalStock, expected),
			})
		}
	}

	if err := auditSets(db, report); err != nil {
		return nil, err
	}

	if !report.Clean() {
		log.Warn().Int("findings", len(report.Findings)).Msg("audit run found inconsistencies")
	} else {
		log.Info().Msg("audit run clean")
	}
	return report, nil
}

func auditSets(db *gorm.DB, report *Report) error {
	var sets []models.InstrumentSet
	if err := db.Preload("Items").Find(&sets).Error; err != nil {
		return err
	}

	for _, set := range sets {
		if set.IsActive && len(set.Items) == 0 {
			report.Findings = append(report.Findings, Finding{
				Kind:   FindingEmptySet,
				SetID:  set.ID,
				Detail: fmt.Sprintf("active set %s has no members", set.Name),
			})
		}
		for _, member := range set.Items {
			var count int
			if err := db.Model(&models.Instrument{}).Where("id = ?", member.InstrumentID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				report.Findings = append(report.Findings, Finding{
					Kind:         FindingOrphanSetItem,
					SetID:        set.ID,
					InstrumentID: member.InstrumentID,
					Detail:       fmt.Sprintf("set %s references missing instrument %d", set.Name, member.InstrumentID),
				})
			}
		}
	}
	return nil
}

// RecomputeTotals is the corrective counterpart to Run: it rewrites every
// instrument's derived total from its location counters and records one
// audited adjustment per repaired row.
func RecomputeTotals(db *gorm.DB, actor string) (int, error) {
	var instruments []models.Instrument
	if err := db.Find(&instruments).Error; err != nil {
		return 0, err
	}

	repaired := 0
	for _, inst := range instruments {
		expected, err := ledger.CirculatingTotal(db, inst.ID)
		if err != nil {
			return repaired, err
		}
		if expected == inst.TotalStock {
			continue
		}

		tx := db.Begin()
		if tx.Error != nil {
			return repaired, tx.Error
		}
		if err := tx.Model(&models.Instrument{}).Where("id = ?", inst.ID).
			Update("total_stock", expected).Error; err != nil {
			tx.Rollback()
			return repaired, err
		}
		instrumentID := inst.ID
		record := models.AdminAdjustment{
			Actor:        actor,
			Action:       "recompute-total",
			InstrumentID: &instrumentID,
			Quantity:     expected - inst.TotalStock,
			Reason:       fmt.Sprintf("total corrected from %d to %d", inst.TotalStock, expected),
		}
		if err := tx.Create(&record).Error; err != nil {
			tx.Rollback()
			return repaired, err
		}
		if err := tx.Commit().Error; err != nil {
			return repaired, err
		}
		repaired++
	}

	if repaired > 0 {
		log.Warn().Int("repaired", repaired).Str("actor", actor).Msg("recomputed instrument totals")
	}
	return repaired, nil
}

// CountedLine is one physically counted instrument at a unit
type CountedLine struct {
	InstrumentID uint `json:"instrument_id"`
	PhysicalQty  int  `json:"physical_qty"`
}

// StockTake records a physical count session against a unit. Each line is
// compared with the system's unit stock, and with the unit's quota when one
// exists. The record is evidence for later admin corrections; taking stock
// never mutates the ledger by itself.
func StockTake(db *gorm.DB, unitID uint, lines []CountedLine, actor string) (*models.StockTake, error) {
	var unit models.Unit
	if err := db.First(&unit, unitID).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, fmt.Errorf("unknown unit %d", unitID)
		}
		return nil, err
	}

	take := models.StockTake{UnitID: unitID, TakenBy: actor}
	for _, line := range lines {
		systemQty, err := ledger.StockAt(db, line.InstrumentID, ledger.UnitLocation(unitID))
		if err != nil {
			return nil, err
		}

		quotaStatus := models.QuotaNone
		var quota models.UnitQuota
		err = db.Where("instrument_id = ? AND unit_id = ?", line.InstrumentID, unitID).First(&quota).Error
		switch {
		case gorm.IsRecordNotFoundError(err):
		case err != nil:
			return nil, err
		case line.PhysicalQty > quota.MaxQuantity:
			quotaStatus = models.QuotaOverstock
		default:
			quotaStatus = models.QuotaOK
		}

		take.Items = append(take.Items, models.StockTakeItem{
			InstrumentID: line.InstrumentID,
			SystemQty:    systemQty,
			PhysicalQty:  line.PhysicalQty,
			Discrepancy:  line.PhysicalQty - systemQty,
			QuotaStatus:  quotaStatus,
		})
	}

	if err := db.Create(&take).Error; err != nil {
		return nil, err
	}

	log.Info().
		Uint("unit", unitID).
		Str("taken_by", actor).
		Int("lines", len(take.Items)).
		Msg("stock take recorded")
	return &take, nil
}
