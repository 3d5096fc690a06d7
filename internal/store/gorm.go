package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/zaqqye/bustrack/internal/apperr"
	"github.com/zaqqye/bustrack/internal/models"
)

// Postgres error codes mapped to client errors.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

// GormStore implements Backend on a relational database.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) Append(ctx context.Context, busID uint, latitude, longitude, speed float64) (models.Location, error) {
	if err := validateReport(latitude, longitude, speed); err != nil {
		return models.Location{}, err
	}
	loc := models.Location{
		BusID:     busID,
		Latitude:  latitude,
		Longitude: longitude,
		Speed:     speed,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Bus{}).Where("id = ?", busID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.Validation("bus does not exist")
		}
		return tx.Create(&loc).Error
	})
	if err != nil {
		return models.Location{}, mapErr(err)
	}
	return loc, nil
}

func (s *GormStore) Latest(ctx context.Context, busID uint) (models.Location, error) {
	var loc models.Location
	err := s.DB.WithContext(ctx).
		Where("bus_id = ?", busID).
		Order("created_at DESC, id DESC").
		First(&loc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Location{}, apperr.NotFound("location not found")
		}
		return models.Location{}, mapErr(err)
	}
	return loc, nil
}

func (s *GormStore) History(ctx context.Context, busID uint, limit int) ([]models.Location, error) {
	locs := []models.Location{}
	err := s.DB.WithContext(ctx).
		Where("bus_id = ?", busID).
		Order("created_at DESC, id DESC").
		Limit(clampLimit(limit)).
		Find(&locs).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return locs, nil
}

func (s *GormStore) UserByUserID(ctx context.Context, userID string) (models.User, error) {
	var u models.User
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, apperr.NotFound("user not found")
		}
		return models.User{}, mapErr(err)
	}
	return u, nil
}

func (s *GormStore) UserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, apperr.NotFound("user not found")
		}
		return models.User{}, mapErr(err)
	}
	return u, nil
}

func (s *GormStore) BusByID(ctx context.Context, busID uint) (models.Bus, error) {
	var b models.Bus
	if err := s.DB.WithContext(ctx).Preload("Route").First(&b, busID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Bus{}, apperr.NotFound("bus not found")
		}
		return models.Bus{}, mapErr(err)
	}
	return b, nil
}

func (s *GormStore) ListBuses(ctx context.Context) ([]models.Bus, error) {
	buses := []models.Bus{}
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&buses).Error; err != nil {
		return nil, mapErr(err)
	}
	return buses, nil
}

func (s *GormStore) ParentHasStudentOnBus(ctx context.Context, parentID, busID uint) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Student{}).
		Where("parent_id = ? AND bus_id = ?", parentID, busID).
		Count(&n).Error
	if err != nil {
		return false, mapErr(err)
	}
	return n > 0, nil
}

func (s *GormStore) SetTrackingEnabled(ctx context.Context, busID uint, enabled bool) (models.Bus, error) {
	res := s.DB.WithContext(ctx).Model(&models.Bus{}).Where("id = ?", busID).Update("tracking_enabled", enabled)
	if res.Error != nil {
		return models.Bus{}, mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.Bus{}, apperr.NotFound("bus not found")
	}
	return s.BusByID(ctx, busID)
}

// mapErr keeps apperr values, turns constraint violations into validation
// errors and everything else into StoreUnavailable.
func mapErr(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return apperr.Validation("bus does not exist")
		case pgUniqueViolation:
			return apperr.Validation("duplicate value")
		}
	}
	return apperr.StoreUnavailable(err)
}
