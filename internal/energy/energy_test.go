package energy

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"energy-monitor/internal/model"
)

func TestPower(t *testing.T) {
	dev := model.Device{Voltage: 230, CTRatio: 30, CalibrationFactor: 1}

	assert.InDelta(t, 0.5*30*230, Power(0.5, dev), 1e-9)
	assert.Equal(t, 0.0, Power(-0.5, dev), "negative samples clamp to zero")

	dev.CalibrationFactor = 2
	assert.InDelta(t, 0.5*30*230*2, Power(0.5, dev), 1e-9)
}

func TestPowerNeverNegative(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		dev := model.Device{
			Voltage:           r.Float64()*400 - 100,
			CTRatio:           r.Float64()*100 - 20,
			CalibrationFactor: r.Float64()*4 - 1,
		}
		raw := r.Float64()*4 - 2
		assert.GreaterOrEqual(t, Power(raw, dev), 0.0)
	}
}

func TestDeltaWh(t *testing.T) {
	// 100W for an hour is 100Wh; the trapezoid averages the endpoints.
	assert.InDelta(t, 100, DeltaWh(100, 100, time.Hour), 1e-9)
	assert.InDelta(t, 75, DeltaWh(50, 100, time.Hour), 1e-9)
	assert.InDelta(t, 100.0/60, DeltaWh(100, 100, time.Minute), 1e-9)

	assert.Equal(t, 0.0, DeltaWh(100, 100, 0))
	assert.Equal(t, 0.0, DeltaWh(100, 100, -time.Minute))
}

func TestDeltaWhMatchesPiecewiseIntegral(t *testing.T) {
	// Sum of per-step trapezoids over an irregular trace equals the whole
	// integral of the piecewise-linear curve.
	times := []time.Duration{0, time.Minute, 3 * time.Minute, 4 * time.Minute, 10 * time.Minute}
	watts := []float64{0, 120, 80, 200, 40}

	var total float64
	for i := 1; i < len(times); i++ {
		total += DeltaWh(watts[i-1], watts[i], times[i]-times[i-1])
	}

	var expected float64
	for i := 1; i < len(times); i++ {
		expected += (watts[i-1] + watts[i]) / 2 * (times[i] - times[i-1]).Hours()
	}
	assert.InDelta(t, expected, total, 1e-9)
}

func TestCost(t *testing.T) {
	assert.InDelta(t, 0.1168, Cost(1000, 0.1168), 1e-9)
	assert.InDelta(t, 0.0584, Cost(500, 0.1168), 1e-9)
	assert.Equal(t, 0.0, Cost(0, 0.1168))
}
