package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "energy_monitor_ticks_total",
		Help: "Polling ticks executed.",
	})
	readingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "energy_monitor_readings_total",
		Help: "Readings persisted, per device.",
	}, []string{"device"})
	readFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "energy_monitor_read_failures_total",
		Help: "Reads that failed after all retries, per device.",
	}, []string{"device"})
	droppedWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "energy_monitor_dropped_writes_total",
		Help: "Readings dropped after a failed write retry, per device.",
	}, []string{"device"})
)
