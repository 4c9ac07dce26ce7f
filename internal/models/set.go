package models

import "github.com/jinzhu/gorm"

// InstrumentSet is a named bill of materials: a bundle of instrument
// quantities distributed and collected as one unit. Sets referenced by
// active records are soft-disabled rather than deleted.
type InstrumentSet struct {
	gorm.Model
	Name     string
	IsActive bool `gorm:"default:true"`
	Items    []SetItem
}

// TableName sets the table name for InstrumentSet
func (InstrumentSet) TableName() string {
	return "instrument_sets"
}

// SetItem is one (instrument, quantity) member of a set
type SetItem struct {
	gorm.Model
	InstrumentSetID uint `gorm:"index"`
	InstrumentID    uint `gorm:"index"`
	Quantity        int
}
