package models

import "github.com/jinzhu/gorm"

// Asset is one physically identifiable unit of a serialized instrument.
// Transactions reassign its location and status; only explicit deactivation
// retires it.
type Asset struct {
	gorm.Model
	InstrumentID uint   `gorm:"index;unique_index:idx_assets_instrument_serial"`
	SerialNumber string `gorm:"unique_index:idx_assets_instrument_serial"`
	Status       string
	Location     string
	UsageCount   int
	IsActive     bool `gorm:"default:true"`
}

// TableName sets the table name for Asset
func (Asset) TableName() string {
	return "assets"
}

// AssetStatus represents the lifecycle state of a serialized asset
type AssetStatus string

const (
	AssetReady   AssetStatus = "READY"
	AssetInUse   AssetStatus = "IN_USE"
	AssetDirty   AssetStatus = "DIRTY"
	AssetRetired AssetStatus = "RETIRED"
)
