package models

import "github.com/jinzhu/gorm"

// Instrument is a catalog entry for one kind of reusable surgical item.
// Stock is tracked as a set of per-location counters; TotalStock is derived
// from the circulating counters and recomputed on every ledger mutation.
// Broken and missing quantities are write-offs outside the circulating total.
type Instrument struct {
	gorm.Model
	Code         string `gorm:"unique_index"`
	Name         string
	Category     string // single | set
	MeasureUnit  string
	IsSerialized bool
	IsActive     bool `gorm:"default:true"`

	TotalStock   int
	CSSDStock    int `gorm:"column:cssd_stock"`
	DirtyStock   int
	PackingStock int
	BrokenStock  int
	MissingStock int

	UnitStocks []UnitStock
	UnitQuotas []UnitQuota
}

// TableName sets the table name for Instrument
func (Instrument) TableName() string {
	return "instruments"
}

// InstrumentCategory represents the catalog category of an instrument
type InstrumentCategory string

const (
	CategorySingle InstrumentCategory = "single"
	CategorySet    InstrumentCategory = "set"
)

// UnitStock is the quantity of an instrument currently held by one care unit
type UnitStock struct {
	gorm.Model
	InstrumentID uint `gorm:"index"`
	UnitID       uint `gorm:"index"`
	Quantity     int
}

// UnitQuota is the par level for an instrument at one care unit. Physical
// counts above MaxQuantity are flagged as overstock by stock-take audits.
type UnitQuota struct {
	gorm.Model
	InstrumentID uint `gorm:"index"`
	UnitID       uint `gorm:"index"`
	MaxQuantity  int
}
