package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"cssd/internal/models"

	"github.com/jinzhu/gorm"
	"github.com/rs/zerolog/log"
)

// Stock locations. Unit locations are built with UnitLocation and carry the
// unit id in the suffix.
const (
	LocationCSSD    = "CSSD"
	LocationDirty   = "DIRTY"
	LocationPacking = "PACKING"
	LocationBroken  = "BROKEN"
	LocationMissing = "MISSING"
)

// ErrInsufficientStock is returned when an adjustment would drive a stock
// counter negative. The whole call is rejected with no partial effect.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrUnknownInstrument is returned when the target instrument does not exist
var ErrUnknownInstrument = errors.New("unknown instrument")

// UnitLocation builds the ledger location for a care unit
func UnitLocation(unitID uint) string {
	return fmt.Sprintf("UNIT-%d", unitID)
}

// ParseUnitLocation extracts the unit id from a unit location string
func ParseUnitLocation(location string) (uint, bool) {
	if !strings.HasPrefix(location, "UNIT-") {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(location, "UNIT-"), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

// Movement describes one applied ledger adjustment, published to listeners
// after the database change succeeds.
type Movement struct {
	InstrumentID uint   `json:"instrument_id"`
	Location     string `json:"location"`
	Delta        int    `json:"delta"`
	Reason       string `json:"reason"`
	Correlation  string `json:"correlation"`
}

// Publisher receives movement notifications. A nil publisher is valid.
type Publisher interface {
	StockChanged(m Movement)
}

// Publishers fans one movement out to several listeners
type Publishers []Publisher

// StockChanged implements Publisher
func (p Publishers) StockChanged(m Movement) {
	for _, pub := range p {
		pub.StockChanged(m)
	}
}

// Ledger owns every stock counter mutation. All engine, pack tracker and
// admin operations route through Adjust and Move so the counters never
// observe a partially applied change. Movements made inside an open
// transaction are staged and only reach the publisher once the transaction
// commits through Commit; Rollback drops them.
type Ledger struct {
	events Publisher

	mu      sync.Mutex
	pending map[*sql.Tx][]Movement
}

// New creates a ledger. The publisher may be nil.
func New(events Publisher) *Ledger {
	return &Ledger{events: events, pending: make(map[*sql.Tx][]Movement)}
}

// Adjust mutates exactly one counter of one instrument by delta inside the
// caller's transaction. The resulting counter must not be negative. The
// instrument's derived total is recomputed and a movement row is appended.
func (l *Ledger) Adjust(tx *gorm.DB, instrumentID uint, location string, delta int, reason, correlation string) error {
	var inst models.Instrument
	if err := LockForUpdate(tx).First(&inst, instrumentID).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return fmt.Errorf("instrument %d: %w", instrumentID, ErrUnknownInstrument)
		}
		return err
	}

	if unitID, ok := ParseUnitLocation(location); ok {
		if err := adjustUnitStock(tx, instrumentID, unitID, delta); err != nil {
			return err
		}
	} else {
		updated, err := counterValue(&inst, location)
		if err != nil {
			return err
		}
		if updated+delta < 0 {
			return fmt.Errorf("instrument %d at %s (have %d, delta %d): %w",
				instrumentID, location, updated, delta, ErrInsufficientStock)
		}
		if err := setCounter(tx, &inst, location, updated+delta); err != nil {
			return err
		}
	}

	if err := l.recomputeTotal(tx, instrumentID); err != nil {
		return err
	}

	movement := models.LedgerMovement{
		InstrumentID: instrumentID,
		Location:     location,
		Delta:        delta,
		Reason:       reason,
		Correlation:  correlation,
	}
	if err := tx.Create(&movement).Error; err != nil {
		return fmt.Errorf("failed to record movement: %w", err)
	}

	l.publish(tx, Movement{
		InstrumentID: instrumentID,
		Location:     location,
		Delta:        delta,
		Reason:       reason,
		Correlation:  correlation,
	})

	log.Debug().
		Uint("instrument", instrumentID).
		Str("location", location).
		Int("delta", delta).
		Str("reason", reason).
		Msg("ledger adjusted")

	return nil
}

// publish emits a movement, or stages it when the mutation runs inside a
// still-open database transaction so subscribers never observe changes that
// later roll back.
func (l *Ledger) publish(tx *gorm.DB, m Movement) {
	if l.events == nil {
		return
	}
	if sqlTx, ok := tx.CommonDB().(*sql.Tx); ok {
		l.mu.Lock()
		l.pending[sqlTx] = append(l.pending[sqlTx], m)
		l.mu.Unlock()
		return
	}
	l.events.StockChanged(m)
}

// Commit commits the transaction and then emits its staged movements
func (l *Ledger) Commit(tx *gorm.DB) error {
	staged := l.take(tx)
	if err := tx.Commit().Error; err != nil {
		return err
	}
	for _, m := range staged {
		l.events.StockChanged(m)
	}
	return nil
}

// Rollback drops the transaction's staged movements and rolls it back
func (l *Ledger) Rollback(tx *gorm.DB) {
	l.take(tx)
	tx.Rollback()
}

func (l *Ledger) take(tx *gorm.DB) []Movement {
	sqlTx, ok := tx.CommonDB().(*sql.Tx)
	if !ok {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	staged := l.pending[sqlTx]
	delete(l.pending, sqlTx)
	return staged
}

// LockForUpdate adds row locking to a read-modify-write query on dialects
// that support it. SQLite rejects the FOR UPDATE syntax and serializes
// writers on its own.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialect().GetName() == "postgres" {
		return tx.Set("gorm:query_option", "FOR UPDATE")
	}
	return tx
}

// Move transfers qty of an instrument between two locations as two
// adjustments inside the caller's transaction; both apply or neither does.
func (l *Ledger) Move(tx *gorm.DB, instrumentID uint, from, to string, qty int, reason, correlation string) error {
	if qty < 0 {
		return fmt.Errorf("negative move quantity %d", qty)
	}
	if qty == 0 {
		return nil
	}
	if err := l.Adjust(tx, instrumentID, from, -qty, reason, correlation); err != nil {
		return err
	}
	return l.Adjust(tx, instrumentID, to, qty, reason, correlation)
}

// StockAt returns the current counter for an instrument at a location. The
// read locks the row when the dialect supports it, so availability checks
// inside a transaction hold until the matching deduction commits.
func StockAt(tx *gorm.DB, instrumentID uint, location string) (int, error) {
	if unitID, ok := ParseUnitLocation(location); ok {
		var us models.UnitStock
		err := LockForUpdate(tx).Where("instrument_id = ? AND unit_id = ?", instrumentID, unitID).First(&us).Error
		if gorm.IsRecordNotFoundError(err) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return us.Quantity, nil
	}

	var inst models.Instrument
	if err := LockForUpdate(tx).First(&inst, instrumentID).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return 0, fmt.Errorf("instrument %d: %w", instrumentID, ErrUnknownInstrument)
		}
		return 0, err
	}
	return counterValue(&inst, location)
}

// CirculatingTotal computes cssd + dirty + packing + per-unit stock. Broken
// and missing counters are write-offs and stay outside the total.
func CirculatingTotal(tx *gorm.DB, instrumentID uint) (int, error) {
	var inst models.Instrument
	if err := tx.First(&inst, instrumentID).Error; err != nil {
		return 0, err
	}

	var unitSum int
	row := tx.Model(&models.UnitStock{}).
		Where("instrument_id = ?", instrumentID).
		Select("coalesce(sum(quantity), 0)").Row()
	if err := row.Scan(&unitSum); err != nil {
		return 0, err
	}

	return inst.CSSDStock + inst.DirtyStock + inst.PackingStock + unitSum, nil
}

// recomputeTotal refreshes the derived TotalStock column from the location
// counters. The total is never hand-edited.
func (l *Ledger) recomputeTotal(tx *gorm.DB, instrumentID uint) error {
	total, err := CirculatingTotal(tx, instrumentID)
	if err != nil {
		return err
	}
	return tx.Model(&models.Instrument{}).
		Where("id = ?", instrumentID).
		Update("total_stock", total).Error
}

func adjustUnitStock(tx *gorm.DB, instrumentID, unitID uint, delta int) error {
	var us models.UnitStock
	err := LockForUpdate(tx).Where("instrument_id = ? AND unit_id = ?", instrumentID, unitID).First(&us).Error
	if gorm.IsRecordNotFoundError(err) {
		if delta < 0 {
			return fmt.Errorf("instrument %d at unit %d (have 0, delta %d): %w",
				instrumentID, unitID, delta, ErrInsufficientStock)
		}
		us = models.UnitStock{InstrumentID: instrumentID, UnitID: unitID, Quantity: delta}
		return tx.Create(&us).Error
	}
	if err != nil {
		return err
	}

	if us.Quantity+delta < 0 {
		return fmt.Errorf("instrument %d at unit %d (have %d, delta %d): %w",
			instrumentID, unitID, us.Quantity, delta, ErrInsufficientStock)
	}
	return tx.Model(&us).Update("quantity", us.Quantity+delta).Error
}

func counterValue(inst *models.Instrument, location string) (int, error) {
	switch location {
	case LocationCSSD:
		return inst.CSSDStock, nil
	case LocationDirty:
		return inst.DirtyStock, nil
	case LocationPacking:
		return inst.PackingStock, nil
	case LocationBroken:
		return inst.BrokenStock, nil
	case LocationMissing:
		return inst.MissingStock, nil
	default:
		return 0, fmt.Errorf("unknown stock location %q", location)
	}
}

func setCounter(tx *gorm.DB, inst *models.Instrument, location string, value int) error {
	var column string
	switch location {
	case LocationCSSD:
		column = "cssd_stock"
	case LocationDirty:
		column = "dirty_stock"
	case LocationPacking:
		column = "packing_stock"
	case LocationBroken:
		column = "broken_stock"
	case LocationMissing:
		column = "missing_stock"
	default:
		return fmt.Errorf("unknown stock location %q", location)
	}
	return tx.Model(inst).Update(column, value).Error
}
