package database

import (
	"fmt"
	"time"

	"cssd/internal/models"

	"github.com/jinzhu/gorm"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var db *gorm.DB

// Open connects to the database and configures the connection pool
func Open(dialect, dsn string) (*gorm.DB, error) {
	conn, err := gorm.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.DB().SetMaxIdleConns(10)
	conn.DB().SetMaxOpenConns(100)
	conn.DB().SetConnMaxLifetime(time.Hour)

	return conn, nil
}

// Migrate creates and updates all tables required by the engine
func Migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&models.Instrument{},
		&models.UnitStock{},
		&models.UnitQuota{},
		&models.InstrumentSet{},
		&models.SetItem{},
		&models.Asset{},
		&models.Unit{},
		&models.Transaction{},
		&models.TransactionItem{},
		&models.TransactionSetItem{},
		&models.SterilePack{},
		&models.PackItem{},
		&models.SterilizationBatch{},
		&models.LedgerMovement{},
		&models.AdminAdjustment{},
		&models.StockTake{},
		&models.StockTakeItem{},
	).Error
}

// OpenTest opens an in-memory SQLite database with the full schema. The
// connection pool is capped at one so every query sees the same in-memory
// store.
func OpenTest() (*gorm.DB, error) {
	conn, err := gorm.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	conn.DB().SetMaxOpenConns(1)
	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// InitDB opens the global database connection and runs migrations
func InitDB(dialect, dsn string) error {
	conn, err := Open(dialect, dsn)
	if err != nil {
		return err
	}
	if err := Migrate(conn); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	db = conn
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return db
}

// CloseDB closes the database connection
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}
