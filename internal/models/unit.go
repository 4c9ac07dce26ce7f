package models

import (
	"fmt"
	"strings"

	"github.com/jinzhu/gorm"
)

// Unit is a consuming location: a ward, operating room or other care unit.
// The engine treats units as read-only except for the active flag.
type Unit struct {
	gorm.Model
	Name     string
	Code     string `gorm:"unique_index"`
	Type     string
	IsActive bool `gorm:"default:true"`
}

// TableName sets the table name for Unit
func (Unit) TableName() string {
	return "units"
}

// UnitCode builds the scannable code for a unit, e.g. UNIT-OR-3A
func UnitCode(unitType, suffix string) string {
	return fmt.Sprintf("UNIT-%s-%s", strings.ToUpper(unitType), strings.ToUpper(suffix))
}
