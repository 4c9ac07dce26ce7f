package sets

import (
	"errors"
	"fmt"

	"cssd/internal/ledger"
	"cssd/internal/models"

	"github.com/jinzhu/gorm"
)

// ErrUnknownSet is returned when the set does not exist
var ErrUnknownSet = errors.New("unknown instrument set")

// ErrInactiveSet is returned when expanding a soft-disabled set
var ErrInactiveSet = errors.New("instrument set is inactive")

// ErrEmptySet is returned when expanding a set with no members
var ErrEmptySet = errors.New("instrument set has no items")

// Requirement is one flattened (instrument, quantity) demand produced by
// expanding a set.
type Requirement struct {
	InstrumentID uint
	Quantity     int
}

// Available computes how many complete sets the given location can supply:
// the minimum over members of floor(stock / member quantity). Any inactive
// or absent member makes the whole set unavailable.
func Available(db *gorm.DB, setID uint, location string) (int, error) {
	set, err := load(db, setID)
	if err != nil {
		return 0, err
	}
	if !set.IsActive || len(set.Items) == 0 {
		return 0, nil
	}

	available := -1
	for _, item := range set.Items {
		if item.Quantity <= 0 {
			return 0, nil
		}

		var inst models.Instrument
		if err := ledger.LockForUpdate(db).First(&inst, item.InstrumentID).Error; err != nil {
			if gorm.IsRecordNotFoundError(err) {
				return 0, nil
			}
			return 0, err
		}
		if !inst.IsActive {
			return 0, nil
		}

		stock, err := ledger.StockAt(db, item.InstrumentID, location)
		if err != nil {
			return 0, err
		}

		supply := stock / item.Quantity
		if available == -1 || supply < available {
			available = supply
		}
	}

	return available, nil
}

// Expand flattens count sets into per-instrument quantities. This is the
// only path by which a set transaction touches concrete stock.
func Expand(db *gorm.DB, setID uint, count int) ([]Requirement, error) {
	if count < 0 {
		return nil, fmt.Errorf("negative set count %d", count)
	}

	set, err := load(db, setID)
	if err != nil {
		return nil, err
	}
	if !set.IsActive {
		return nil, fmt.Errorf("set %d: %w", setID, ErrInactiveSet)
	}
	if len(set.Items) == 0 {
		return nil, fmt.Errorf("set %d: %w", setID, ErrEmptySet)
	}

	return flatten(set.Items, count), nil
}

// Members flattens count sets into per-instrument quantities without the
// active check. Used when settling transactions that already reference the
// set; a set soft-disabled after creation must still validate and reverse.
func Members(db *gorm.DB, setID uint, count int) ([]Requirement, error) {
	set, err := load(db, setID)
	if err != nil {
		return nil, err
	}
	if len(set.Items) == 0 {
		return nil, fmt.Errorf("set %d: %w", setID, ErrEmptySet)
	}
	return flatten(set.Items, count), nil
}

func flatten(items []models.SetItem, count int) []Requirement {
	reqs := make([]Requirement, 0, len(items))
	for _, item := range items {
		reqs = append(reqs, Requirement{
			InstrumentID: item.InstrumentID,
			Quantity:     item.Quantity * count,
		})
	}
	return reqs
}

func load(db *gorm.DB, setID uint) (*models.InstrumentSet, error) {
	var set models.InstrumentSet
	if err := db.Preload("Items").First(&set, setID).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, fmt.Errorf("set %d: %w", setID, ErrUnknownSet)
		}
		return nil, err
	}
	return &set, nil
}
