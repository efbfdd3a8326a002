package sensor

import (
	"context"
	"errors"
)

// Source reads one raw sample from a sensor channel. Implementations must be
// safe for concurrent use; the collector may poll several devices at once.
//
// The raw sample is a dimensionless magnitude; the energy package converts it
// to watts using the device's CT ratio, voltage and calibration factor.
type Source interface {
	Read(ctx context.Context, channel int) (float64, error)
}

var (
	// ErrReadTimeout reports that a transfer did not complete in time.
	ErrReadTimeout = errors.New("sensor: read timeout")
	// ErrReadFault reports a transport or wiring fault.
	ErrReadFault = errors.New("sensor: read fault")
	// ErrCalibration reports that a calibration run produced no usable signal.
	ErrCalibration = errors.New("sensor: calibration failed")
)
