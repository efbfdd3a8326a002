package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-monitor/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedReadings(t *testing.T, st *Store, deviceID string, base time.Time, watts []float64) {
	t.Helper()
	ctx := context.Background()
	for i, w := range watts {
		err := st.Append(ctx, &model.Reading{
			DeviceID:   deviceID,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Raw:        w / 1000,
			PowerWatts: w,
			EnergyWh:   w / 60,
			Cost:       w / 60 / 1000 * 0.1168,
		})
		require.NoError(t, err)
	}
}

func TestRegisterAndListDevices(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"tv-1", "fridge-1"} {
		require.NoError(t, st.RegisterDevice(ctx, &model.Device{
			DeviceID: id, Type: "tv", Voltage: 230, CTRatio: 30, CalibrationFactor: 1, RatedWatts: 100,
		}))
	}
	devs, err := st.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devs, 2)
	assert.Equal(t, "fridge-1", devs[0].DeviceID, "ordered by identifier")

	// Save is an upsert, not a duplicate insert.
	require.NoError(t, st.RegisterDevice(ctx, &model.Device{
		DeviceID: "tv-1", Name: "renamed", Type: "tv", Voltage: 230, CTRatio: 30, CalibrationFactor: 1, RatedWatts: 100,
	}))
	devs, err = st.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devs, 2)
}

func TestUpdateCalibration(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.RegisterDevice(ctx, &model.Device{
		DeviceID: "tv-1", Type: "tv", Voltage: 230, CTRatio: 30, CalibrationFactor: 1, RatedWatts: 100,
	}))

	require.NoError(t, st.UpdateCalibration(ctx, "tv-1", 1.37))
	devs, err := st.Devices(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.37, devs[0].CalibrationFactor, 1e-9)
}

func TestReadingsAscendingWindow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	seedReadings(t, st, "tv-1", base, []float64{10, 20, 30, 40, 50})

	rows, err := st.Readings(ctx, "tv-1", base.Add(time.Minute), base.Add(4*time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 3, "window is half open")
	assert.Equal(t, 20.0, rows[0].PowerWatts)
	assert.Equal(t, 40.0, rows[2].PowerWatts)
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i].Timestamp.After(rows[i-1].Timestamp))
	}

	rows, err = st.Readings(ctx, "absent", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLastReading(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	r, err := st.LastReading(ctx, "tv-1")
	require.NoError(t, err)
	assert.Nil(t, r)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	seedReadings(t, st, "tv-1", base, []float64{10, 20, 30})
	r, err = st.LastReading(ctx, "tv-1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 30.0, r.PowerWatts)
}

func TestAggregate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	watts := []float64{10, 20, 30, 40}
	seedReadings(t, st, "tv-1", base, watts)
	from, to := base, base.Add(time.Hour)

	mean, err := st.Aggregate(ctx, "tv-1", from, to, AggregateMean)
	require.NoError(t, err)
	assert.InDelta(t, 25, mean, 1e-9)

	max, err := st.Aggregate(ctx, "tv-1", from, to, AggregateMax)
	require.NoError(t, err)
	assert.InDelta(t, 40, max, 1e-9)

	sum, err := st.Aggregate(ctx, "tv-1", from, to, AggregateSum)
	require.NoError(t, err)
	assert.InDelta(t, 100, sum, 1e-9)

	stdev, err := st.Aggregate(ctx, "tv-1", from, to, AggregateStdev)
	require.NoError(t, err)
	var m, sq float64
	for _, w := range watts {
		m += w / float64(len(watts))
		sq += w * w / float64(len(watts))
	}
	assert.InDelta(t, math.Sqrt(sq-m*m), stdev, 1e-9)

	_, err = st.Aggregate(ctx, "tv-1", from, to, AggregateFunc("mode"))
	require.Error(t, err)

	// Empty windows aggregate to zero, not an error.
	mean, err = st.Aggregate(ctx, "tv-1", to, to.Add(time.Hour), AggregateMean)
	require.NoError(t, err)
	assert.Zero(t, mean)
}

func TestSumEnergy(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	seedReadings(t, st, "tv-1", base, []float64{60, 60})
	seedReadings(t, st, "fridge-1", base, []float64{120})
	from, to := base, base.Add(time.Hour)

	wh, err := st.SumEnergy(ctx, "tv-1", from, to)
	require.NoError(t, err)
	assert.InDelta(t, 2, wh, 1e-9)

	all, err := st.SumEnergy(ctx, "", from, to)
	require.NoError(t, err)
	assert.InDelta(t, 4, all, 1e-9)
}

func TestLatestReadings(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	seedReadings(t, st, "fridge-1", base, []float64{100, 110})
	seedReadings(t, st, "tv-1", base, []float64{10, 20, 30})

	rows, err := st.LatestReadings(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "fridge-1", rows[0].DeviceID)
	assert.Equal(t, 110.0, rows[0].PowerWatts)
	assert.Equal(t, "tv-1", rows[1].DeviceID)
	assert.Equal(t, 30.0, rows[1].PowerWatts)
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "energy.db")
	st, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}
