package store

import (
	"context"
	"math"

	"github.com/zaqqye/bustrack/internal/apperr"
	"github.com/zaqqye/bustrack/internal/models"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// LocationStore is the append-only record of bus positions.
type LocationStore interface {
	Append(ctx context.Context, busID uint, latitude, longitude, speed float64) (models.Location, error)
	Latest(ctx context.Context, busID uint) (models.Location, error)
	History(ctx context.Context, busID uint, limit int) ([]models.Location, error)
}

// Directory exposes the user/bus/student relationships the tracking core reads.
type Directory interface {
	UserByUserID(ctx context.Context, userID string) (models.User, error)
	UserByEmail(ctx context.Context, email string) (models.User, error)
	BusByID(ctx context.Context, busID uint) (models.Bus, error)
	ListBuses(ctx context.Context) ([]models.Bus, error)
	ParentHasStudentOnBus(ctx context.Context, parentID, busID uint) (bool, error)
	SetTrackingEnabled(ctx context.Context, busID uint, enabled bool) (models.Bus, error)
}

// Backend bundles both halves, as every implementation in this package does.
type Backend interface {
	LocationStore
	Directory
}

func validateReport(latitude, longitude, speed float64) error {
	if !finite(latitude) || !finite(longitude) {
		return apperr.Validation("latitude and longitude must be finite numbers")
	}
	if !finite(speed) || speed < 0 {
		return apperr.Validation("speed must be a non-negative number")
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
