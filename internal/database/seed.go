package database

import (
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zaqqye/bustrack/internal/config"
	"github.com/zaqqye/bustrack/internal/models"
	"github.com/zaqqye/bustrack/internal/utils"
)

func SeedAdmin(db *gorm.DB, cfg *config.Config) error {
	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" {
		email = "admin@example.com"
	}
	name := cfg.AdminFullName
	if name == "" {
		name = "Administrator"
	}
	password := cfg.AdminPassword
	if password == "" {
		password = "admin123"
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return err
	}

	admin := models.User{
		Name:     name,
		Email:    email,
		Password: hashed,
		Role:     models.RoleAdmin,
		Active:   true,
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}
	log.Info().Str("email", email).Msg("seeded initial admin")
	return nil
}

// SeedDemoFleet creates one route, bus, driver, parent and student so a fresh
// dev database can be exercised end to end. It does nothing once any bus exists.
func SeedDemoFleet(db *gorm.DB, password string) error {
	var count int64
	if err := db.Model(&models.Bus{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		route := models.Route{
			Name: "Morning loop",
			Stops: datatypes.NewJSONSlice([]models.Stop{
				{Name: "Depot", Latitude: -0.3031, Longitude: 36.0800, Order: 1},
				{Name: "Market", Latitude: -0.2960, Longitude: 36.0712, Order: 2},
				{Name: "School", Latitude: -0.2874, Longitude: 36.0655, Order: 3},
			}),
		}
		if err := tx.Create(&route).Error; err != nil {
			return err
		}
		driver := models.User{Name: "Demo Driver", Email: "driver@example.com", Password: hashed, Role: models.RoleDriver, Active: true}
		parent := models.User{Name: "Demo Parent", Email: "parent@example.com", Password: hashed, Role: models.RoleParent, Active: true}
		if err := tx.Create(&driver).Error; err != nil {
			return err
		}
		if err := tx.Create(&parent).Error; err != nil {
			return err
		}
		bus := models.Bus{
			NumberPlate:     "DEMO-001",
			Capacity:        40,
			RouteID:         &route.ID,
			DriverID:        &driver.ID,
			Status:          models.BusActive,
			TrackingEnabled: true,
		}
		if err := tx.Create(&bus).Error; err != nil {
			return err
		}
		student := models.Student{Name: "Demo Student", Grade: "4", ParentID: parent.ID, BusID: &bus.ID}
		if err := tx.Create(&student).Error; err != nil {
			return err
		}
		log.Info().Uint("bus_id", bus.ID).Msg("seeded demo fleet")
		return nil
	})
}
