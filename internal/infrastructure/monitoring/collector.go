package monitoring

import (
	"time"

	"meshcall/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes relay-side metrics. All metrics are registered on
// the default registry via promauto, so one Collector per process.
type Collector struct {
	roomsActive           prometheus.Gauge
	participantsConnected prometheus.Gauge
	joinsTotal            prometheus.Counter
	signalsRouted         *prometheus.CounterVec
	signalsDropped        *prometheus.CounterVec
	connectionDuration    prometheus.Histogram

	roomParticipants *prometheus.GaugeVec
}

func NewCollector() *Collector {
	return &Collector{
		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_rooms_active",
			Help: "Number of rooms with at least one participant",
		}),

		participantsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_participants_connected",
			Help: "Number of participants currently connected to the relay",
		}),

		joinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_joins_total",
			Help: "Total number of successful room joins",
		}),

		signalsRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_signals_routed_total",
			Help: "Signal messages routed between participants, by signal type",
		}, []string{"type"}),

		signalsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_signals_dropped_total",
			Help: "Signal messages dropped by the relay, by reason",
		}, []string{"reason"}),

		connectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshcall_connection_duration_seconds",
			Help:    "How long participants stay connected",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),

		roomParticipants: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshcall_room_participants",
			Help: "Participant count per room",
		}, []string{"room"}),
	}
}

func (c *Collector) RecordJoin(room domain.RoomName, roomSize int, firstInRoom bool) {
	c.joinsTotal.Inc()
	c.participantsConnected.Inc()
	if firstInRoom {
		c.roomsActive.Inc()
	}
	c.roomParticipants.WithLabelValues(string(room)).Set(float64(roomSize))
}

func (c *Collector) RecordLeave(room domain.RoomName, roomSize int, connectedFor time.Duration) {
	c.participantsConnected.Dec()
	c.connectionDuration.Observe(connectedFor.Seconds())

	if roomSize == 0 {
		c.roomsActive.Dec()
		c.roomParticipants.DeleteLabelValues(string(room))
		return
	}
	c.roomParticipants.WithLabelValues(string(room)).Set(float64(roomSize))
}

func (c *Collector) RecordSignalRouted(signalType domain.SignalType) {
	c.signalsRouted.WithLabelValues(string(signalType)).Inc()
}

func (c *Collector) RecordSignalDropped(reason string) {
	c.signalsDropped.WithLabelValues(reason).Inc()
}
