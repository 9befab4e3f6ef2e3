package config

import (
	"fmt"

	"github.com/cashbeik/loyalty/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// InitDB opens the database connection and migrates the schema
func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate applies the schema. Split out so tests can run it against an
// in-memory database.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Member{},
		&models.Staff{},
		&models.Admin{},
		&models.Merchant{},
		&models.Session{},
		&models.LockoutRecord{},
		&models.LinkToken{},
		&models.ResetToken{},
		&models.PendingRegistration{},
		&models.Balance{},
		&models.Transaction{},
		&models.Coupon{},
		&models.CouponUse{},
		&models.Campaign{},
		&models.CampaignRedemption{},
		&models.AuditEvent{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %v", err)
	}
	return nil
}
