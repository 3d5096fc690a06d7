package models

import "time"

// Student links a parent to the bus their child rides.
type Student struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `json:"name"`
	Grade     string    `json:"grade"`
	ParentID  uint      `gorm:"index;not null" json:"parent_id"`
	BusID     *uint     `gorm:"index" json:"bus_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attendance is migrated for completeness; the tracking core never writes it.
type Attendance struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	StudentID uint      `gorm:"index" json:"student_id"`
	BusID     *uint     `gorm:"index" json:"bus_id"`
	Status    string    `gorm:"size:16" json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
