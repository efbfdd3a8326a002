package sensor

import (
	"context"
	"fmt"
)

const defaultCalibrationSamples = 10

// Thresholds below which the reference signal is considered missing. A flat
// trace means the sensor is likely disconnected; a near-zero mean means the
// reference load is not drawing through the clamp.
const (
	minCalibrationMean     = 1e-6
	minCalibrationVariance = 1e-12
)

// Calibrate reads samples while a reference load of known wattage is active
// and derives the multiplicative factor mapping raw samples to watts.
func Calibrate(ctx context.Context, src Source, channel, samples int, knownWatts float64) (float64, error) {
	if knownWatts <= 0 {
		return 0, fmt.Errorf("%w: reference load must be positive, got %.2fW", ErrCalibration, knownWatts)
	}
	if samples <= 0 {
		samples = defaultCalibrationSamples
	}

	vals := make([]float64, 0, samples)
	for i := 0; i < samples; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		v, err := src.Read(ctx, channel)
		if err != nil {
			return 0, fmt.Errorf("%w: sample %d/%d: %v", ErrCalibration, i+1, samples, err)
		}
		vals = append(vals, v)
	}

	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	var variance float64
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))

	if mean < minCalibrationMean {
		return 0, fmt.Errorf("%w: no signal on channel %d (raw mean %.3g)", ErrCalibration, channel, mean)
	}
	if variance < minCalibrationVariance {
		return 0, fmt.Errorf("%w: flat signal on channel %d, sensor likely disconnected", ErrCalibration, channel)
	}
	return knownWatts / mean, nil
}
