package tracking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zaqqye/bustrack/internal/apperr"
	"github.com/zaqqye/bustrack/internal/authz"
	"github.com/zaqqye/bustrack/internal/metrics"
	"github.com/zaqqye/bustrack/internal/models"
	"github.com/zaqqye/bustrack/internal/store"
	"github.com/zaqqye/bustrack/internal/ws"
)

const activeBusesConcurrency = 8

// Authorizer is the subset of authz.Resolver the service needs.
type Authorizer interface {
	CanObserve(ctx context.Context, caller authz.Caller, busID uint) (models.Bus, error)
	CanIngest(ctx context.Context, caller authz.Caller, busID uint) (models.Bus, error)
}

// Publisher pushes an event to everyone watching a bus.
type Publisher interface {
	Publish(busID uint, evt ws.LocationEvent) int
}

// Report is one position reported by a driver.
type Report struct {
	BusID     uint
	Latitude  float64
	Longitude float64
	Speed     float64
}

// ActiveBus is one entry of the admin overview.
type ActiveBus struct {
	BusID       uint            `json:"bus_id"`
	NumberPlate string          `json:"number_plate"`
	Location    models.Location `json:"location"`
}

// Service ties storage, authorization and fan-out together.
type Service struct {
	Store   store.LocationStore
	Dir     store.Directory
	Authz   Authorizer
	Hub     Publisher
	Timeout time.Duration
}

func NewService(st store.LocationStore, dir store.Directory, az Authorizer, hub Publisher, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{Store: st, Dir: dir, Authz: az, Hub: hub, Timeout: timeout}
}

// Ingest authorizes, persists and then publishes a report. Nothing is
// published unless the row was stored.
func (s *Service) Ingest(ctx context.Context, caller authz.Caller, r Report) (models.Location, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	bus, err := s.Authz.CanIngest(ctx, caller, r.BusID)
	if err != nil {
		metrics.LocationsIngested.WithLabelValues("rejected").Inc()
		return models.Location{}, apperr.FromContext(err)
	}
	if !bus.TrackingEnabled {
		metrics.LocationsIngested.WithLabelValues("rejected").Inc()
		return models.Location{}, apperr.Forbidden("tracking disabled for this bus")
	}

	loc, err := s.Store.Append(ctx, bus.ID, r.Latitude, r.Longitude, r.Speed)
	if err != nil {
		metrics.LocationsIngested.WithLabelValues("failed").Inc()
		return models.Location{}, apperr.FromContext(err)
	}
	metrics.LocationsIngested.WithLabelValues("stored").Inc()

	if s.Hub != nil {
		n := s.Hub.Publish(bus.ID, ws.LocationEvent{
			BusID:     loc.BusID,
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Speed:     loc.Speed,
			Timestamp: loc.CreatedAt,
		})
		log.Debug().Uint("bus_id", bus.ID).Int("delivered", n).Msg("location published")
	}
	return loc, nil
}

// Latest returns the newest report for a bus the caller may observe.
func (s *Service) Latest(ctx context.Context, caller authz.Caller, busID uint) (models.Location, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	if _, err := s.Authz.CanObserve(ctx, caller, busID); err != nil {
		return models.Location{}, apperr.FromContext(err)
	}
	loc, err := s.Store.Latest(ctx, busID)
	if err != nil {
		return models.Location{}, apperr.FromContext(err)
	}
	return loc, nil
}

// History returns up to limit reports, most recent first.
func (s *Service) History(ctx context.Context, caller authz.Caller, busID uint, limit int) ([]models.Location, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	if _, err := s.Authz.CanObserve(ctx, caller, busID); err != nil {
		return nil, apperr.FromContext(err)
	}
	locs, err := s.Store.History(ctx, busID, limit)
	if err != nil {
		return nil, apperr.FromContext(err)
	}
	return locs, nil
}

// ActiveBuses returns the latest report of every bus that has one, ordered
// by bus id. Only admins may call it.
func (s *Service) ActiveBuses(ctx context.Context, caller authz.Caller) ([]ActiveBus, error) {
	if caller.Role != models.RoleAdmin {
		return nil, apperr.Forbidden("access denied")
	}
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	buses, err := s.Dir.ListBuses(ctx)
	if err != nil {
		return nil, apperr.FromContext(err)
	}

	var (
		mu  sync.Mutex
		out = make([]ActiveBus, 0, len(buses))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(activeBusesConcurrency)
	for _, bus := range buses {
		bus := bus
		g.Go(func() error {
			loc, err := s.Store.Latest(gctx, bus.ID)
			if err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					return nil
				}
				return err
			}
			mu.Lock()
			out = append(out, ActiveBus{BusID: bus.ID, NumberPlate: bus.NumberPlate, Location: loc})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.FromContext(err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusID < out[j].BusID })
	return out, nil
}
