package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/zaqqye/bustrack/internal/apperr"
	"github.com/zaqqye/bustrack/internal/metrics"
	"github.com/zaqqye/bustrack/internal/models"
	"github.com/zaqqye/bustrack/internal/store"
)

// StaleSweep finds tracking-enabled buses that stopped reporting.
type StaleSweep struct {
	Dir     store.Directory
	Store   store.LocationStore
	After   time.Duration
	Timeout time.Duration
	Now     func() time.Time
}

// StaleBus is a bus whose last report is older than the threshold. LastSeen
// is nil when it never reported.
type StaleBus struct {
	BusID    uint
	LastSeen *time.Time
}

// Run checks every active, tracking-enabled bus once and updates the
// stale-bus gauge.
func (s *StaleSweep) Run(ctx context.Context) ([]StaleBus, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	cutoff := now().Add(-s.After)

	buses, err := s.Dir.ListBuses(ctx)
	if err != nil {
		return nil, err
	}
	var stale []StaleBus
	for _, bus := range buses {
		if !bus.TrackingEnabled || bus.Status != models.BusActive {
			continue
		}
		loc, err := s.Store.Latest(ctx, bus.ID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			stale = append(stale, StaleBus{BusID: bus.ID})
		case err != nil:
			return nil, err
		case loc.CreatedAt.Before(cutoff):
			seen := loc.CreatedAt
			stale = append(stale, StaleBus{BusID: bus.ID, LastSeen: &seen})
		}
	}

	metrics.StaleBuses.Set(float64(len(stale)))
	for _, b := range stale {
		evt := log.Warn().Uint("bus_id", b.BusID)
		if b.LastSeen != nil {
			evt = evt.Time("last_seen", *b.LastSeen)
		}
		evt.Msg("bus tracking is stale")
	}
	return stale, nil
}

// Schedule registers the sweep on a new cron scheduler. The caller starts
// and stops it.
func (s *StaleSweep) Schedule(spec string) (*cron.Cron, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := s.Run(ctx); err != nil {
			log.Error().Err(err).Msg("stale sweep failed")
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
