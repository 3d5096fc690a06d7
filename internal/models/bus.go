package models

import "time"

const (
	BusActive       = "active"
	BusInactive     = "inactive"
	BusMaintenance  = "maintenance"
	BusOutOfService = "out_of_service"
)

// Bus is a tracked vehicle. DriverID is unique: a driver holds at most one
// active assignment.
type Bus struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	NumberPlate     string    `gorm:"uniqueIndex" json:"number_plate"`
	Capacity        int       `json:"capacity"`
	RouteID         *uint     `gorm:"index" json:"route_id"`
	Route           *Route    `json:"route,omitempty"`
	DriverID        *uint     `gorm:"uniqueIndex" json:"driver_id"`
	Status          string    `gorm:"size:32;default:active" json:"status"`
	TrackingEnabled bool      `json:"tracking_enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AssignedTo reports whether userID is the bus's current driver.
func (b Bus) AssignedTo(userID uint) bool {
	return b.DriverID != nil && *b.DriverID == userID
}
