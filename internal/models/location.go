package models

import "time"

// Location is one immutable GPS report. Speed is km/h.
type Location struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BusID     uint      `gorm:"not null;index:idx_locations_bus_created,priority:1" json:"bus_id"`
	Bus       *Bus      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Latitude  float64   `gorm:"not null" json:"latitude"`
	Longitude float64   `gorm:"not null" json:"longitude"`
	Speed     float64   `gorm:"not null" json:"speed"`
	CreatedAt time.Time `gorm:"index:idx_locations_bus_created,priority:2" json:"created_at"`
}
