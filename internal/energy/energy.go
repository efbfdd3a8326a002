// Package energy holds the pure conversions from raw samples to power,
// accumulated energy and cost. Everything here is stateless; the collector
// supplies the measured elapsed time between readings.
package energy

import (
	"time"

	"energy-monitor/internal/model"
)

// Power converts a raw sample into instantaneous watts for the device.
// Negative results (inverted sensor wiring) are clamped to zero, never
// propagated.
func Power(raw float64, d model.Device) float64 {
	p := raw * d.CTRatio * d.Voltage * d.CalibrationFactor
	if p < 0 {
		return 0
	}
	return p
}

// DeltaWh integrates two consecutive power samples over the measured elapsed
// time using the trapezoidal rule. Irregular elapsed times (jitter, missed
// ticks) are expected and handled by construction.
func DeltaWh(prevWatts, curWatts float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return (prevWatts + curWatts) / 2 * elapsed.Hours()
}

// Cost prices an energy increment at the given per-kWh rate.
func Cost(energyWh, ratePerKWh float64) float64 {
	return energyWh / 1000 * ratePerKWh
}
