package analyzer

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-monitor/internal/model"
	"energy-monitor/internal/store"
)

type fakeStore struct {
	devices []model.Device
	rows    map[string][]model.Reading
}

func (f *fakeStore) Devices(ctx context.Context) ([]model.Device, error) {
	return f.devices, nil
}

func (f *fakeStore) Readings(ctx context.Context, deviceID string, from, to time.Time) ([]model.Reading, error) {
	var out []model.Reading
	for _, r := range f.rows[deviceID] {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) Aggregate(ctx context.Context, deviceID string, from, to time.Time, fn store.AggregateFunc) (float64, error) {
	rows, _ := f.Readings(ctx, deviceID, from, to)
	if len(rows) == 0 {
		return 0, nil
	}
	var sum, max float64
	for _, r := range rows {
		sum += r.PowerWatts
		if r.PowerWatts > max {
			max = r.PowerWatts
		}
	}
	switch fn {
	case store.AggregateMean:
		return sum / float64(len(rows)), nil
	case store.AggregateMax:
		return max, nil
	case store.AggregateSum:
		return sum, nil
	default:
		return 0, nil
	}
}

func (f *fakeStore) SumEnergy(ctx context.Context, deviceID string, from, to time.Time) (float64, error) {
	var sum float64
	for id, rows := range f.rows {
		if deviceID != "" && id != deviceID {
			continue
		}
		for _, r := range rows {
			if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
				sum += r.EnergyWh
			}
		}
	}
	return sum, nil
}

var testClock = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func testDevice(id string, rated float64) model.Device {
	return model.Device{DeviceID: id, Name: id, Type: "tv", Voltage: 230, CTRatio: 30, CalibrationFactor: 1, RatedWatts: rated}
}

// trace appends minute-spaced readings ending just before testClock.
func trace(f *fakeStore, deviceID string, watts []float64) {
	start := testClock.Add(-time.Duration(len(watts)) * time.Minute)
	var prev float64
	for i, w := range watts {
		wh := (prev + w) / 2 / 60
		if i == 0 {
			wh = 0
		}
		f.rows[deviceID] = append(f.rows[deviceID], model.Reading{
			DeviceID:   deviceID,
			Timestamp:  start.Add(time.Duration(i) * time.Minute),
			PowerWatts: w,
			EnergyWh:   wh,
			Cost:       wh / 1000 * 0.1168,
		})
		prev = w
	}
}

func newTestRules(f *fakeStore) *Rules {
	r := NewRules(f, Config{PollingInterval: time.Minute, RatePerKWh: 0.1168})
	r.now = func() time.Time { return testClock }
	return r
}

func cyclicWatts(n, period, on int, base float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%period < on {
			out[i] = base
		}
	}
	return out
}

func TestComputeStatistics(t *testing.T) {
	f := &fakeStore{rows: map[string][]model.Reading{}}
	trace(f, "tv", []float64{10, 20, 30, 40})
	rows := f.rows["tv"]

	s := computeStatistics(rows, 15)
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 25, s.MeanWatts, 1e-9)
	assert.InDelta(t, 25, s.MedianWatts, 1e-9)
	assert.InDelta(t, math.Sqrt(125), s.StdDevWatts, 1e-9)
	assert.InDelta(t, 40, s.PeakWatts, 1e-9)
	assert.Equal(t, rows[3].Timestamp, s.PeakTime)
	assert.InDelta(t, 0.75, s.DutyCycle, 1e-9, "three of four samples at or above 15W")
}

func TestClassify(t *testing.T) {
	r := newTestRules(&fakeStore{})
	cases := []struct {
		name  string
		s     Statistics
		rated float64
		want  string
	}{
		{"standby", Statistics{DutyCycle: 0}, 100, PatternStandby},
		{"always on", Statistics{DutyCycle: 0.95, MeanWatts: 100, PeakWatts: 110}, 150, PatternAlwaysOn},
		{"intermittent mid band", Statistics{DutyCycle: 0.5, MeanWatts: 90, PeakWatts: 100}, 150, PatternIntermittent},
		{"intermittent lower edge", Statistics{DutyCycle: 0.15, MeanWatts: 20, PeakWatts: 60}, 500, PatternIntermittent},
		{"peak only", Statistics{DutyCycle: 0.1, MeanWatts: 40, PeakWatts: 400}, 500, PatternPeakOnly},
		{"rarely on, small peaks", Statistics{DutyCycle: 0.1, MeanWatts: 2, PeakWatts: 20}, 500, PatternStandby},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.classify(tc.s, tc.rated))
		})
	}
}

func TestDetectAnomalies(t *testing.T) {
	f := &fakeStore{rows: map[string][]model.Reading{}}
	watts := make([]float64, 100)
	for i := range watts {
		watts[i] = 100
	}
	watts[10] = 101
	watts[50] = 2000 // the outlier
	trace(f, "tv", watts)

	r := newTestRules(f)
	rows := f.rows["tv"]
	s := computeStatistics(rows, 5)
	anomalies := r.detectAnomalies(rows, s)
	require.Len(t, anomalies, 1)
	assert.InDelta(t, 2000, anomalies[0].PowerWatts, 1e-9)
	assert.Greater(t, anomalies[0].Threshold, s.MeanWatts)
}

func TestScoreBounds(t *testing.T) {
	r := newTestRules(&fakeStore{})
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		mean := rng.Float64() * 3000
		s := Statistics{
			MeanWatts:   mean,
			PeakWatts:   mean * (1 + rng.Float64()*20),
			StdDevWatts: rng.Float64() * mean * 5,
		}
		got := r.score(s)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 100.0)
	}
	assert.Equal(t, 100.0, r.score(Statistics{}), "no draw scores perfect")
	assert.Equal(t, 100.0, r.score(Statistics{MeanWatts: 100, PeakWatts: 100}), "flat draw scores perfect")
}

func TestAnalyzeDeviceIntermittent(t *testing.T) {
	f := &fakeStore{
		devices: []model.Device{testDevice("fridge", 200)},
		rows:    map[string][]model.Reading{},
	}
	// 24h at one-minute cadence: 5 minutes on at 150W out of every 30, so
	// mean power is 150*(5/30) = 25W.
	trace(f, "fridge", cyclicWatts(24*60, 30, 5, 150))

	r := newTestRules(f)
	rep, err := r.Analyze(context.Background(), "fridge", 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, PatternIntermittent, rep.Pattern)
	assert.InDelta(t, 25, rep.Statistics.MeanWatts, 1.0)
	assert.InDelta(t, 150, rep.Statistics.PeakWatts, 1e-9)
	assert.InDelta(t, 5.0/30, rep.Statistics.DutyCycle, 0.01)
	assert.Greater(t, rep.Statistics.EnergyWh, 0.0)
	assert.GreaterOrEqual(t, rep.Score, 0.0)
	assert.LessOrEqual(t, rep.Score, 100.0)
	for i, ins := range rep.Insights {
		assert.Equal(t, i+1, ins.Priority)
		assert.Equal(t, "fridge", ins.Scope)
		assert.NotEmpty(t, ins.ID)
		assert.Equal(t, rep.GeneratedAt.Add(r.cfg.CacheTTL), ins.ValidUntil)
	}
}

func TestAnalyzeAlwaysOnStandbyInsight(t *testing.T) {
	f := &fakeStore{
		devices: []model.Device{testDevice("router", 50)},
		rows:    map[string][]model.Reading{},
	}
	watts := make([]float64, 24*60)
	for i := range watts {
		watts[i] = 12
	}
	watts[0] = 14 // keep stdev nonzero
	trace(f, "router", watts)

	r := newTestRules(f)
	rep, err := r.Analyze(context.Background(), "router", 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, PatternAlwaysOn, rep.Pattern)

	var found bool
	for _, ins := range rep.Insights {
		if ins.Category == CategoryEfficiency && ins.EstimatedSavings > 0 {
			found = true
		}
	}
	assert.True(t, found, "always-on floor draw should yield an efficiency insight")
}

func TestAnalyzeUnknownDevice(t *testing.T) {
	r := newTestRules(&fakeStore{rows: map[string][]model.Reading{}})
	_, err := r.Analyze(context.Background(), "ghost", 24*time.Hour)
	require.ErrorIs(t, err, ErrUnknownDevice)
}

func TestAnalyzeInsufficientWindow(t *testing.T) {
	f := &fakeStore{
		devices: []model.Device{testDevice("tv", 150)},
		rows:    map[string][]model.Reading{},
	}
	r := newTestRules(f)

	rep, err := r.Analyze(context.Background(), "tv", 30*time.Second)
	require.NoError(t, err)
	assert.Zero(t, rep.Statistics.Count)
	assert.Empty(t, rep.Insights)

	// A valid window with no readings is also an empty report, not an error.
	rep, err = r.Analyze(context.Background(), "tv", 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, rep.Statistics.Count)
	assert.Empty(t, rep.Pattern)
}

func TestAnalyzeCachesReports(t *testing.T) {
	f := &fakeStore{
		devices: []model.Device{testDevice("tv", 150)},
		rows:    map[string][]model.Reading{},
	}
	trace(f, "tv", cyclicWatts(60, 10, 5, 100))

	r := newTestRules(f)
	first, err := r.Analyze(context.Background(), "tv", time.Hour)
	require.NoError(t, err)
	second, err := r.Analyze(context.Background(), "tv", time.Hour)
	require.NoError(t, err)
	assert.Same(t, first, second, "within the TTL the cached report is returned")

	other, err := r.Analyze(context.Background(), "tv", 2*time.Hour)
	require.NoError(t, err)
	assert.NotSame(t, first, other, "a different window is a different report")

	r.InvalidateCache()
	third, err := r.Analyze(context.Background(), "tv", time.Hour)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestAnalyzeSystem(t *testing.T) {
	f := &fakeStore{
		devices: []model.Device{testDevice("tv", 150), testDevice("fridge", 200), testDevice("idle", 100)},
		rows:    map[string][]model.Reading{},
	}
	trace(f, "tv", cyclicWatts(24*60, 60, 30, 100))
	trace(f, "fridge", cyclicWatts(24*60, 45, 15, 160))

	r := newTestRules(f)
	rep, err := r.Analyze(context.Background(), ScopeSystem, 24*time.Hour)
	require.NoError(t, err)

	require.Len(t, rep.Devices, 2, "devices with no readings are omitted")
	assert.Equal(t, rep.Devices[0].DeviceID, rep.TopConsumer)
	assert.Greater(t, rep.Devices[0].EnergyWh, rep.Devices[1].EnergyWh)

	var shares float64
	for _, d := range rep.Devices {
		shares += d.Share
	}
	assert.InDelta(t, 1.0, shares, 1e-9)

	assert.Greater(t, rep.TotalEnergyWh, 0.0)
	assert.Greater(t, rep.EstimatedMonthlyCost, 0.0)
	assert.InDelta(t, rep.TotalEnergyWh/1000*co2PerKWh, rep.CO2Kg, 1e-9)
	assert.NotEmpty(t, rep.PeakHours)
	assert.NotEmpty(t, rep.Insights)

	var categories []string
	for _, ins := range rep.Insights {
		categories = append(categories, ins.Category)
	}
	assert.Contains(t, categories, CategoryCost)
	assert.Contains(t, categories, CategoryEnvironmental)
}

func TestAnalyzeSystemEmpty(t *testing.T) {
	f := &fakeStore{
		devices: []model.Device{testDevice("tv", 150)},
		rows:    map[string][]model.Reading{},
	}
	r := newTestRules(f)
	rep, err := r.Analyze(context.Background(), ScopeSystem, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, rep.Devices)
	assert.Empty(t, rep.Insights)
}

func TestDailyReport(t *testing.T) {
	f := &fakeStore{
		devices: []model.Device{testDevice("tv", 150), testDevice("fridge", 200)},
		rows:    map[string][]model.Reading{},
	}
	trace(f, "tv", cyclicWatts(12*60, 60, 30, 100))
	trace(f, "fridge", cyclicWatts(12*60, 45, 15, 160))

	r := newTestRules(f)
	sum, err := r.DailyReport(context.Background(), testClock.Add(-time.Hour))
	require.NoError(t, err)

	require.Len(t, sum.Devices, 2)
	assert.GreaterOrEqual(t, sum.Devices[0].EnergyWh, sum.Devices[1].EnergyWh)
	assert.InDelta(t, sum.Devices[0].EnergyWh+sum.Devices[1].EnergyWh, sum.TotalEnergyWh, 1e-9)
	assert.InDelta(t, sum.TotalEnergyWh/1000*0.1168, sum.TotalCost, 1e-9)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), sum.Day)
}

func TestRankOrdersBySavingsThenFeasibility(t *testing.T) {
	r := newTestRules(&fakeStore{})
	ins := r.rank("tv", testClock, []Insight{
		{Category: CategoryEnvironmental, EstimatedSavings: 5},
		{Category: CategoryCost, EstimatedSavings: 10},
		{Category: CategoryEfficiency, EstimatedSavings: 5},
	})
	require.Len(t, ins, 3)
	assert.Equal(t, CategoryCost, ins[0].Category)
	assert.Equal(t, CategoryEfficiency, ins[1].Category, "equal savings break toward the more feasible category")
	assert.Equal(t, CategoryEnvironmental, ins[2].Category)
	assert.Equal(t, []int{1, 2, 3}, []int{ins[0].Priority, ins[1].Priority, ins[2].Priority})
}
