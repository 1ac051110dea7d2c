// Package metrics holds the prometheus collectors of the runtime.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "simfed"

var (
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "frames_total",
			Help:      "Frames that crossed a channel, by direction and message type.",
		},
		[]string{"channel", "direction", "type"},
	)
	droppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "dropped_total",
			Help:      "Frames dropped by a channel before reaching a handler.",
		},
		[]string{"channel", "reason"},
	)
	pendingRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "pending_requests",
			Help:      "Requests waiting for a response.",
		},
		[]string{"channel"},
	)
	forwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "frames_total",
			Help:      "Frames seen by the forwarder, by direction and outcome.",
		},
		[]string{"direction", "outcome"},
	)
	federates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rti",
			Name:      "joined_federates",
			Help:      "Federates joined to each federation execution.",
		},
		[]string{"federation"},
	)
)

var registerMetrics sync.Once

// Register adds every collector to reg once. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(framesTotal)
		reg.MustRegister(droppedTotal)
		reg.MustRegister(pendingRequests)
		reg.MustRegister(forwardedTotal)
		reg.MustRegister(federates)
	})
}

// RecordFrame counts a frame leaving ("out") or entering ("in") a channel.
func RecordFrame(channel, direction, msgType string) {
	framesTotal.WithLabelValues(channel, direction, msgType).Inc()
}

// RecordDropped counts a frame a channel discarded.
func RecordDropped(channel, reason string) {
	droppedTotal.WithLabelValues(channel, reason).Inc()
}

// SetPendingRequests records the size of a channel's correlation table.
func SetPendingRequests(channel string, n int) {
	pendingRequests.WithLabelValues(channel).Set(float64(n))
}

// RecordForwarded counts a forwarder decision.
func RecordForwarded(direction, outcome string) {
	forwardedTotal.WithLabelValues(direction, outcome).Inc()
}

// SetFederates records the number of joined federates of a federation.
func SetFederates(federation string, n int) {
	federates.WithLabelValues(federation).Set(float64(n))
}

// DeleteFederation drops the series of a destroyed federation.
func DeleteFederation(federation string) {
	federates.DeleteLabelValues(federation)
}
