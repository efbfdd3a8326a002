package sensor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource replays a fixed sequence of samples, cycling when exhausted.
type scriptedSource struct {
	vals []float64
	errs []error
	i    int
}

func (s *scriptedSource) Read(ctx context.Context, channel int) (float64, error) {
	idx := s.i % len(s.vals)
	s.i++
	if len(s.errs) > 0 && s.errs[idx] != nil {
		return 0, s.errs[idx]
	}
	return s.vals[idx], nil
}

func TestCalibrateDerivesFactorFromMean(t *testing.T) {
	// Samples averaging 2.0 against a 200W reference yield factor 100.
	src := &scriptedSource{vals: []float64{1.9, 2.1, 2.0, 1.95, 2.05}}
	factor, err := Calibrate(context.Background(), src, 0, 5, 200)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, factor, 1e-9)
}

func TestCalibrateRejectsFlatSignal(t *testing.T) {
	src := &scriptedSource{vals: []float64{1.5}}
	_, err := Calibrate(context.Background(), src, 0, 10, 100)
	require.ErrorIs(t, err, ErrCalibration)
}

func TestCalibrateRejectsNoSignal(t *testing.T) {
	src := &scriptedSource{vals: []float64{0, 0, 0, 0}}
	_, err := Calibrate(context.Background(), src, 0, 4, 100)
	require.ErrorIs(t, err, ErrCalibration)
}

func TestCalibrateRejectsBadReference(t *testing.T) {
	src := &scriptedSource{vals: []float64{2.0}}
	_, err := Calibrate(context.Background(), src, 0, 5, 0)
	require.ErrorIs(t, err, ErrCalibration)

	_, err = Calibrate(context.Background(), src, 0, 5, -60)
	require.ErrorIs(t, err, ErrCalibration)
}

func TestCalibrateWrapsReadFailure(t *testing.T) {
	src := &scriptedSource{vals: []float64{2.0, 0}, errs: []error{nil, ErrReadFault}}
	_, err := Calibrate(context.Background(), src, 0, 5, 100)
	require.ErrorIs(t, err, ErrCalibration)
}

func TestCalibrateDefaultSampleCount(t *testing.T) {
	src := &scriptedSource{vals: []float64{1.9, 2.1}}
	factor, err := Calibrate(context.Background(), src, 0, 0, 200)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, factor, 1e-9)
	assert.Equal(t, defaultCalibrationSamples, src.i)
}

func TestCalibrateCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &scriptedSource{vals: []float64{2.0}}
	_, err := Calibrate(ctx, src, 0, 5, 100)
	require.ErrorIs(t, err, context.Canceled)
}
