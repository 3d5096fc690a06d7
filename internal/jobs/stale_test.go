package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zaqqye/bustrack/internal/metrics"
	"github.com/zaqqye/bustrack/internal/models"
	"github.com/zaqqye/bustrack/internal/store"
)

func TestStaleSweep(t *testing.T) {
	mem := store.NewMemory()
	mem.PutBus(models.Bus{ID: 1, TrackingEnabled: true})
	mem.PutBus(models.Bus{ID: 2, TrackingEnabled: true})
	mem.PutBus(models.Bus{ID: 3, TrackingEnabled: false})
	mem.PutBus(models.Bus{ID: 4, TrackingEnabled: true, Status: models.BusMaintenance})
	mem.PutBus(models.Bus{ID: 5, TrackingEnabled: true})

	ctx := context.Background()
	if _, err := mem.Append(ctx, 1, 1, 1, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.Append(ctx, 5, 1, 1, 0); err != nil {
		t.Fatal(err)
	}

	// an hour later every report is stale
	later := time.Now().Add(time.Hour)
	sweep := &StaleSweep{Dir: mem, Store: mem, After: 5 * time.Minute, Now: func() time.Time { return later }}
	stale, err := sweep.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := map[uint]bool{}
	for _, b := range stale {
		got[b.BusID] = b.LastSeen != nil
	}
	if len(got) != 3 || got[2] || !got[1] || !got[5] {
		t.Fatalf("stale = %+v", stale)
	}

	sweep.Now = time.Now
	stale, err = sweep.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].BusID != 2 || stale[0].LastSeen != nil {
		t.Fatalf("stale = %+v", stale)
	}
	if v := testutil.ToFloat64(metrics.StaleBuses); v != 1 {
		t.Fatalf("gauge = %v, want 1", v)
	}
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	sweep := &StaleSweep{}
	if _, err := sweep.Schedule("not a spec"); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
	c, err := sweep.Schedule("@every 1m")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Entries()) != 1 {
		t.Fatalf("entries = %d", len(c.Entries()))
	}
}
