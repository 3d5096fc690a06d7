package models

import (
	"time"

	"gorm.io/datatypes"
)

// Stop is one element of Route.Stops.
type Stop struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Order     int     `json:"order"`
}

type Route struct {
	ID        uint                      `gorm:"primaryKey" json:"id"`
	Name      string                    `json:"name"`
	Stops     datatypes.JSONSlice[Stop] `json:"stops"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}
