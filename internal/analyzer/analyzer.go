// Package analyzer derives usage statistics, patterns, anomalies, efficiency
// scores and ranked insights from stored readings. The rules are threshold
// driven and deterministic; reports are cached per scope and window.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"energy-monitor/internal/model"
	"energy-monitor/internal/store"
)

// ScopeSystem requests a whole-installation report instead of a per-device
// one.
const ScopeSystem = "system"

// Grid carbon intensity used for the environmental estimate, kg CO2 per kWh.
const co2PerKWh = 0.4

// ErrUnknownDevice reports an analysis scope that is not a registered device.
var ErrUnknownDevice = errors.New("analyzer: unknown device")

// Analyzer produces a report for a scope (a device identifier or ScopeSystem)
// over the trailing period.
type Analyzer interface {
	Analyze(ctx context.Context, scope string, period time.Duration) (*Report, error)
}

// Store is the read surface the rules need.
type Store interface {
	Devices(ctx context.Context) ([]model.Device, error)
	Readings(ctx context.Context, deviceID string, from, to time.Time) ([]model.Reading, error)
	Aggregate(ctx context.Context, deviceID string, from, to time.Time, fn store.AggregateFunc) (float64, error)
	SumEnergy(ctx context.Context, deviceID string, from, to time.Time) (float64, error)
}

// Config carries the rule thresholds plus the sampling cadence and tariff.
type Config struct {
	OnThresholdRatio        float64
	AlwaysOnDuty            float64
	IntermittentDuty        float64
	PeakRatio               float64
	AnomalySigma            float64
	PeakPenaltyWeight       float64
	VolatilityPenaltyWeight float64
	CacheTTL                time.Duration
	PollingInterval         time.Duration
	RatePerKWh              float64
}

func (c *Config) normalize() {
	if c.OnThresholdRatio <= 0 {
		c.OnThresholdRatio = 0.05
	}
	if c.AlwaysOnDuty <= 0 {
		c.AlwaysOnDuty = 0.8
	}
	if c.IntermittentDuty <= 0 {
		c.IntermittentDuty = 0.15
	}
	if c.PeakRatio <= 0 {
		c.PeakRatio = 0.5
	}
	if c.AnomalySigma <= 0 {
		c.AnomalySigma = 3
	}
	if c.PeakPenaltyWeight <= 0 {
		c.PeakPenaltyWeight = 4
	}
	if c.VolatilityPenaltyWeight <= 0 {
		c.VolatilityPenaltyWeight = 40
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = time.Minute
	}
	if c.RatePerKWh <= 0 {
		c.RatePerKWh = 0.1168
	}
}

// Usage pattern labels.
const (
	PatternAlwaysOn     = "always-on"
	PatternIntermittent = "intermittent"
	PatternPeakOnly     = "peak-only"
	PatternStandby      = "standby"
)

// Statistics summarizes a device's power draw over the window.
type Statistics struct {
	Count       int       `json:"count"`
	MeanWatts   float64   `json:"mean_watts"`
	MedianWatts float64   `json:"median_watts"`
	P10Watts    float64   `json:"p10_watts"`
	StdDevWatts float64   `json:"stddev_watts"`
	PeakWatts   float64   `json:"peak_watts"`
	PeakTime    time.Time `json:"peak_time"`
	DutyCycle   float64   `json:"duty_cycle"`
	EnergyWh    float64   `json:"energy_wh"`
	Cost        float64   `json:"cost"`
}

// Anomaly marks a sample far above the device's recent behavior.
type Anomaly struct {
	Timestamp  time.Time `json:"timestamp"`
	PowerWatts float64   `json:"power_watts"`
	Threshold  float64   `json:"threshold"`
}

// DeviceSummary is the per-device row in a system report.
type DeviceSummary struct {
	DeviceID  string  `json:"device_id"`
	Name      string  `json:"name"`
	MeanWatts float64 `json:"mean_watts"`
	PeakWatts float64 `json:"peak_watts"`
	EnergyWh  float64 `json:"energy_wh"`
	Cost      float64 `json:"cost"`
	Share     float64 `json:"share"` // fraction of total energy
}

// Report is the analyzer output. Device reports fill Statistics, Pattern,
// Anomalies and Score; system reports fill Devices, TopConsumer, PeakHours
// and the cost and CO2 estimates. Both carry ranked Insights.
type Report struct {
	Scope       string        `json:"scope"`
	Period      time.Duration `json:"period"`
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	GeneratedAt time.Time     `json:"generated_at"`

	Statistics Statistics `json:"statistics,omitempty"`
	Pattern    string     `json:"pattern,omitempty"`
	Anomalies  []Anomaly  `json:"anomalies,omitempty"`
	Score      float64    `json:"score"`

	Devices              []DeviceSummary `json:"devices,omitempty"`
	TopConsumer          string          `json:"top_consumer,omitempty"`
	PeakHours            []int           `json:"peak_hours,omitempty"`
	TotalEnergyWh        float64         `json:"total_energy_wh,omitempty"`
	EstimatedMonthlyCost float64         `json:"estimated_monthly_cost,omitempty"`
	CO2Kg                float64         `json:"co2_kg,omitempty"`

	Insights []Insight `json:"insights"`
}

// Rules is the threshold-driven Analyzer implementation.
type Rules struct {
	store Store
	cfg   Config
	cache *reportCache
	now   func() time.Time
}

func NewRules(st Store, cfg Config) *Rules {
	cfg.normalize()
	return &Rules{
		store: st,
		cfg:   cfg,
		cache: newReportCache(cfg.CacheTTL),
		now:   time.Now,
	}
}

// InvalidateCache drops all cached reports, for use after calibration changes
// the meaning of stored power values.
func (r *Rules) InvalidateCache() { r.cache.purge() }

// Analyze builds (or returns the cached) report for the scope over the
// trailing period. A window shorter than the sampling cadence, or one with no
// readings, yields an empty report rather than an error.
func (r *Rules) Analyze(ctx context.Context, scope string, period time.Duration) (*Report, error) {
	now := r.now()
	key := fmt.Sprintf("%s/%s", scope, period)
	if cached, ok := r.cache.get(key, now); ok {
		return cached, nil
	}

	to := now.Truncate(time.Minute)
	from := to.Add(-period)
	rep := &Report{Scope: scope, Period: period, From: from, To: to, GeneratedAt: now}

	if period < r.cfg.PollingInterval {
		r.cache.put(key, rep, now)
		return rep, nil
	}

	var err error
	if scope == ScopeSystem {
		err = r.analyzeSystem(ctx, rep)
	} else {
		err = r.analyzeDevice(ctx, scope, rep)
	}
	if err != nil {
		return nil, err
	}
	r.cache.put(key, rep, now)
	return rep, nil
}

func (r *Rules) analyzeDevice(ctx context.Context, deviceID string, rep *Report) error {
	dev, err := r.lookupDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	rows, err := r.store.Readings(ctx, deviceID, rep.From, rep.To)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	stats := computeStatistics(rows, r.cfg.OnThresholdRatio*dev.RatedWatts)
	rep.Statistics = stats
	rep.Pattern = r.classify(stats, dev.RatedWatts)
	rep.Anomalies = r.detectAnomalies(rows, stats)
	rep.Score = r.score(stats)
	rep.Insights = r.deviceInsights(dev, rep)
	return nil
}

func (r *Rules) analyzeSystem(ctx context.Context, rep *Report) error {
	devs, err := r.store.Devices(ctx)
	if err != nil {
		return err
	}

	var total float64
	var peakByHour [24]float64
	for _, d := range devs {
		mean, err := r.store.Aggregate(ctx, d.DeviceID, rep.From, rep.To, store.AggregateMean)
		if err != nil {
			return err
		}
		peak, err := r.store.Aggregate(ctx, d.DeviceID, rep.From, rep.To, store.AggregateMax)
		if err != nil {
			return err
		}
		wh, err := r.store.SumEnergy(ctx, d.DeviceID, rep.From, rep.To)
		if err != nil {
			return err
		}
		if mean == 0 && peak == 0 && wh == 0 {
			continue
		}
		rep.Devices = append(rep.Devices, DeviceSummary{
			DeviceID:  d.DeviceID,
			Name:      d.Name,
			MeanWatts: mean,
			PeakWatts: peak,
			EnergyWh:  wh,
			Cost:      wh / 1000 * r.cfg.RatePerKWh,
		})
		total += wh

		rows, err := r.store.Readings(ctx, d.DeviceID, rep.From, rep.To)
		if err != nil {
			return err
		}
		for _, row := range rows {
			peakByHour[row.Timestamp.Hour()] += row.PowerWatts
		}
	}
	if len(rep.Devices) == 0 {
		return nil
	}

	for i := range rep.Devices {
		if total > 0 {
			rep.Devices[i].Share = rep.Devices[i].EnergyWh / total
		}
	}
	sort.Slice(rep.Devices, func(i, j int) bool {
		return rep.Devices[i].EnergyWh > rep.Devices[j].EnergyWh
	})
	rep.TopConsumer = rep.Devices[0].DeviceID
	rep.TotalEnergyWh = total
	rep.PeakHours = topHours(peakByHour[:], 3)

	// Project the window's consumption to a 30-day month.
	hours := rep.To.Sub(rep.From).Hours()
	if hours > 0 {
		rep.EstimatedMonthlyCost = total / 1000 * r.cfg.RatePerKWh * (30 * 24 / hours)
	}
	rep.CO2Kg = total / 1000 * co2PerKWh
	rep.Score = r.systemScore(rep.Devices)
	rep.Insights = r.systemInsights(rep)
	return nil
}

func (r *Rules) lookupDevice(ctx context.Context, deviceID string) (model.Device, error) {
	devs, err := r.store.Devices(ctx)
	if err != nil {
		return model.Device{}, err
	}
	for _, d := range devs {
		if d.DeviceID == deviceID {
			return d, nil
		}
	}
	return model.Device{}, fmt.Errorf("%w %q", ErrUnknownDevice, deviceID)
}

func computeStatistics(rows []model.Reading, onThreshold float64) Statistics {
	s := Statistics{Count: len(rows)}
	powers := make([]float64, 0, len(rows))
	var sum, sumSq float64
	var on int
	for _, row := range rows {
		p := row.PowerWatts
		powers = append(powers, p)
		sum += p
		sumSq += p * p
		if p > s.PeakWatts {
			s.PeakWatts = p
			s.PeakTime = row.Timestamp
		}
		if p >= onThreshold && onThreshold > 0 {
			on++
		}
		s.EnergyWh += row.EnergyWh
		s.Cost += row.Cost
	}
	n := float64(len(rows))
	s.MeanWatts = sum / n
	s.StdDevWatts = math.Sqrt(math.Max(0, sumSq/n-s.MeanWatts*s.MeanWatts))
	s.DutyCycle = float64(on) / n

	sort.Float64s(powers)
	if len(powers)%2 == 1 {
		s.MedianWatts = powers[len(powers)/2]
	} else {
		s.MedianWatts = (powers[len(powers)/2-1] + powers[len(powers)/2]) / 2
	}
	s.P10Watts = powers[len(powers)/10]
	return s
}

// classify buckets a device by duty cycle: near-continuous draw is
// always-on, the middle band is intermittent, and a rarely-on device whose
// peaks approach its rating is peak-only.
func (r *Rules) classify(s Statistics, ratedWatts float64) string {
	switch {
	case s.DutyCycle == 0:
		return PatternStandby
	case s.DutyCycle > r.cfg.AlwaysOnDuty:
		return PatternAlwaysOn
	case s.DutyCycle >= r.cfg.IntermittentDuty:
		return PatternIntermittent
	case s.PeakWatts >= r.cfg.PeakRatio*ratedWatts:
		return PatternPeakOnly
	default:
		return PatternStandby
	}
}

func (r *Rules) detectAnomalies(rows []model.Reading, s Statistics) []Anomaly {
	if s.StdDevWatts == 0 {
		return nil
	}
	threshold := s.MeanWatts + r.cfg.AnomalySigma*s.StdDevWatts
	var out []Anomaly
	for _, row := range rows {
		if row.PowerWatts > threshold {
			out = append(out, Anomaly{Timestamp: row.Timestamp, PowerWatts: row.PowerWatts, Threshold: threshold})
		}
	}
	return out
}

// score grades consumption steadiness on [0,100]. Spiky draw (high peak to
// average ratio) and volatile draw (high coefficient of variation) each cost
// up to 50 points.
func (r *Rules) score(s Statistics) float64 {
	if s.MeanWatts <= 0 {
		return 100
	}
	peakPenalty := math.Min(50, (s.PeakWatts/s.MeanWatts-1)*r.cfg.PeakPenaltyWeight)
	if peakPenalty < 0 {
		peakPenalty = 0
	}
	volPenalty := math.Min(50, s.StdDevWatts/s.MeanWatts*r.cfg.VolatilityPenaltyWeight)
	return clampScore(100 - peakPenalty - volPenalty)
}

func (r *Rules) systemScore(devs []DeviceSummary) float64 {
	if len(devs) == 0 {
		return 100
	}
	var sum float64
	for _, d := range devs {
		s := Statistics{MeanWatts: d.MeanWatts, PeakWatts: d.PeakWatts}
		sum += r.score(s)
	}
	return clampScore(sum / float64(len(devs)))
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func topHours(byHour []float64, n int) []int {
	idx := make([]int, len(byHour))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return byHour[idx[a]] > byHour[idx[b]] })
	var out []int
	for _, h := range idx[:n] {
		if byHour[h] > 0 {
			out = append(out, h)
		}
	}
	sort.Ints(out)
	return out
}
