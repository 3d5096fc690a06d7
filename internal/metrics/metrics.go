package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LocationsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bustrack_locations_ingested_total",
		Help: "Location reports received, by result.",
	}, []string{"result"})

	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bustrack_events_published_total",
		Help: "location-update events handed to the room hub.",
	})

	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bustrack_events_delivered_total",
		Help: "location-update events queued to subscriber connections.",
	})

	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bustrack_subscribers_dropped_total",
		Help: "Connections disconnected because their send queue was full.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bustrack_rooms_active",
		Help: "Bus rooms with at least one member.",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bustrack_ws_clients_connected",
		Help: "Open websocket connections.",
	})

	StaleBuses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bustrack_stale_buses",
		Help: "Tracking-enabled buses without a recent location report.",
	})
)
