package database

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zaqqye/bustrack/internal/config"
	"github.com/zaqqye/bustrack/internal/models"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{}
	if cfg.IsProduction() {
		gcfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gcfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Migrate creates or updates every table the service reads or writes.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Route{},
		&models.Bus{},
		&models.Student{},
		&models.Attendance{},
		&models.Location{},
	)
}
