package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zaqqye/bustrack/internal/apperr"
	"github.com/zaqqye/bustrack/internal/models"
)

// Memory is a process-local Backend for development and tests.
type Memory struct {
	mu        sync.RWMutex
	users     map[uint]models.User
	buses     map[uint]models.Bus
	students  map[uint]models.Student
	locations map[uint][]models.Location // per bus, append order
	nextLocID uint
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[uint]models.User),
		buses:     make(map[uint]models.Bus),
		students:  make(map[uint]models.Student),
		locations: make(map[uint][]models.Location),
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// PutUser inserts or replaces a user. Missing IDs are assigned.
func (m *Memory) PutUser(u models.User) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = uint(len(m.users) + 1)
		for {
			if _, taken := m.users[u.ID]; !taken {
				break
			}
			u.ID++
		}
	}
	if u.UserID == "" {
		u.UserID = uuid.NewString()
	}
	m.users[u.ID] = u
	return u
}

func (m *Memory) PutBus(b models.Bus) models.Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Status == "" {
		b.Status = models.BusActive
	}
	m.buses[b.ID] = b
	return b
}

func (m *Memory) PutStudent(s models.Student) models.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
	return s
}

// Count returns the number of stored reports for busID.
func (m *Memory) Count(busID uint) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.locations[busID])
}

func (m *Memory) Append(ctx context.Context, busID uint, latitude, longitude, speed float64) (models.Location, error) {
	if err := ctx.Err(); err != nil {
		return models.Location{}, apperr.StoreUnavailable(err)
	}
	if err := validateReport(latitude, longitude, speed); err != nil {
		return models.Location{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buses[busID]; !ok {
		return models.Location{}, apperr.Validation("bus does not exist")
	}
	m.nextLocID++
	loc := models.Location{
		ID:        m.nextLocID,
		BusID:     busID,
		Latitude:  latitude,
		Longitude: longitude,
		Speed:     speed,
		CreatedAt: m.now(),
	}
	m.locations[busID] = append(m.locations[busID], loc)
	return loc, nil
}

func (m *Memory) Latest(ctx context.Context, busID uint) (models.Location, error) {
	locs, err := m.History(ctx, busID, 1)
	if err != nil {
		return models.Location{}, err
	}
	if len(locs) == 0 {
		return models.Location{}, apperr.NotFound("location not found")
	}
	return locs[0], nil
}

func (m *Memory) History(ctx context.Context, busID uint, limit int) ([]models.Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.StoreUnavailable(err)
	}
	m.mu.RLock()
	src := m.locations[busID]
	out := make([]models.Location, len(src))
	copy(out, src)
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *Memory) UserByUserID(ctx context.Context, userID string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.UserID == userID {
			return u, nil
		}
	}
	return models.User{}, apperr.NotFound("user not found")
}

func (m *Memory) UserByEmail(ctx context.Context, email string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, apperr.NotFound("user not found")
}

func (m *Memory) BusByID(ctx context.Context, busID uint) (models.Bus, error) {
	if err := ctx.Err(); err != nil {
		return models.Bus{}, apperr.StoreUnavailable(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buses[busID]
	if !ok {
		return models.Bus{}, apperr.NotFound("bus not found")
	}
	return b, nil
}

func (m *Memory) ListBuses(ctx context.Context) ([]models.Bus, error) {
	m.mu.RLock()
	out := make([]models.Bus, 0, len(m.buses))
	for _, b := range m.buses {
		out = append(out, b)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ParentHasStudentOnBus(ctx context.Context, parentID, busID uint) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.students {
		if s.ParentID == parentID && s.BusID != nil && *s.BusID == busID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) SetTrackingEnabled(ctx context.Context, busID uint, enabled bool) (models.Bus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buses[busID]
	if !ok {
		return models.Bus{}, apperr.NotFound("bus not found")
	}
	b.TrackingEnabled = enabled
	b.UpdatedAt = m.now()
	m.buses[busID] = b
	return b, nil
}
