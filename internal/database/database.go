package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/tether007/greenChain-Advisory/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Database struct {
	DB *gorm.DB
}

// NewPostgres connects to a Postgres database using the given DSN.
func NewPostgres(dsn string) (*Database, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return initDatabase(db)
}

// NewSqlite opens (creating if necessary) a SQLite database at the given path.
func NewSqlite(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: newGormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return initDatabase(db)
}

func newGormLogger() logger.Interface {
	// Only log errors and slow queries
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Error,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

func initDatabase(db *gorm.DB) (*Database, error) {
	database := &Database{DB: db}
	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return database, nil
}

func (d *Database) migrate() error {
	return d.DB.AutoMigrate(
		&models.Analysis{},
		&models.Listing{},
	)
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Analysis operations

// RegisterAnalysis inserts the pending analysis row keyed by its on-chain
// identifier. Registering an identifier that already exists is a no-op, so
// the store's uniqueness constraint is the authoritative de-duplication
// mechanism across server instances.
func (d *Database) RegisterAnalysis(analysis *models.Analysis) error {
	return d.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "analysis_id"}},
		DoNothing: true,
	}).Create(analysis).Error
}

// CompleteAnalysis writes the AI result onto the existing row. The row must
// already exist from registration; completing an unknown identifier returns
// gorm.ErrRecordNotFound.
func (d *Database) CompleteAnalysis(analysisID, diagnosis, advice string, confidence float64, severity string) error {
	now := time.Now()
	result := d.DB.Model(&models.Analysis{}).
		Where("analysis_id = ?", analysisID).
		Updates(map[string]interface{}{
			"diagnosis":    diagnosis,
			"advice":       advice,
			"confidence":   confidence,
			"severity":     severity,
			"completed_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (d *Database) GetAnalysis(analysisID string) (*models.Analysis, error) {
	var analysis models.Analysis
	err := d.DB.Where("analysis_id = ?", analysisID).First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

// ListAnalysesByFarmer returns a farmer's analysis history, newest first.
func (d *Database) ListAnalysesByFarmer(farmerAddress string) ([]models.Analysis, error) {
	var analyses []models.Analysis
	err := d.DB.Where("farmer_address = ?", farmerAddress).
		Order("created_at DESC").
		Find(&analyses).Error
	return analyses, err
}

// Marketplace operations

func (d *Database) CreateListing(listing *models.Listing) error {
	return d.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_id"}},
		DoNothing: true,
	}).Create(listing).Error
}

// ListOpenListings returns unsold listings, newest first.
func (d *Database) ListOpenListings() ([]models.Listing, error) {
	var listings []models.Listing
	err := d.DB.Where("sold = ?", false).
		Order("created_at DESC").
		Find(&listings).Error
	return listings, err
}

func (d *Database) MarkListingSold(itemID string) error {
	result := d.DB.Model(&models.Listing{}).
		Where("item_id = ?", itemID).
		Update("sold", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
