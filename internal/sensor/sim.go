package sensor

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"energy-monitor/internal/model"
)

// Profile kinds for simulated appliance behavior.
const (
	KindCyclic    = "cyclic"    // fixed on/off duty cycle (compressor loads)
	KindVariable  = "variable"  // continuous load with slow drift
	KindScheduled = "scheduled" // active only in configured hours
)

// Profile describes how a simulated appliance draws power over time.
type Profile struct {
	Kind         string
	BaseWatts    float64
	StandbyWatts float64
	CyclePeriod  time.Duration // cyclic: full on+off period
	DutyCycle    float64       // cyclic: fraction of the period spent on
	DriftPeriod  time.Duration // variable: period of the slow drift
	DriftDepth   float64       // variable: drift amplitude as fraction of base
	ActiveHours  [][2]int      // scheduled: inclusive local-hour ranges
	Jitter       float64       // bounded noise as fraction of the target
}

// Appliance profiles by device type. Wattages follow typical household
// figures; the cyclic fridge runs its compressor a third of each 45m period.
var profiles = map[string]Profile{
	"fridge":    {Kind: KindCyclic, BaseWatts: 160, StandbyWatts: 40, CyclePeriod: 45 * time.Minute, DutyCycle: 1.0 / 3.0, Jitter: 0.05},
	"microwave": {Kind: KindCyclic, BaseWatts: 1100, StandbyWatts: 2, CyclePeriod: 6 * time.Hour, DutyCycle: 0.01, Jitter: 0.03},
	"washer":    {Kind: KindCyclic, BaseWatts: 500, StandbyWatts: 2, CyclePeriod: 24 * time.Hour, DutyCycle: 0.04, Jitter: 0.08},
	"dryer":     {Kind: KindCyclic, BaseWatts: 2800, StandbyWatts: 1, CyclePeriod: 24 * time.Hour, DutyCycle: 0.03, Jitter: 0.08},
	"tv":        {Kind: KindVariable, BaseWatts: 120, StandbyWatts: 3, DriftPeriod: 3 * time.Hour, DriftDepth: 0.3, Jitter: 0.05},
	"computer":  {Kind: KindVariable, BaseWatts: 250, StandbyWatts: 10, DriftPeriod: 2 * time.Hour, DriftDepth: 0.4, Jitter: 0.05},
	"ac":        {Kind: KindScheduled, BaseWatts: 1800, StandbyWatts: 5, ActiveHours: [][2]int{{14, 21}}, Jitter: 0.08},
}

// ProfileFor returns the simulation profile for a device type.
func ProfileFor(deviceType string) (Profile, bool) {
	p, ok := profiles[deviceType]
	return p, ok
}

// KnownType reports whether a device type has a simulation profile.
func KnownType(deviceType string) bool {
	_, ok := profiles[deviceType]
	return ok
}

// SimSource models one appliance behind a CT sensor. Samples are a pure
// function of the device identifier and the sample time, so two sources
// built from the same device produce identical traces.
type SimSource struct {
	dev     model.Device
	profile Profile
	seed    int64

	// Now supplies the sample clock; tests replace it to script time.
	Now func() time.Time
}

// NewSimSource builds a simulated source from the device's type profile.
// An unknown device type is a configuration fault.
func NewSimSource(dev model.Device) (*SimSource, error) {
	p, ok := ProfileFor(dev.Type)
	if !ok {
		return nil, fmt.Errorf("unknown device type %q", dev.Type)
	}
	return NewSimSourceProfile(dev, p), nil
}

// NewSimSourceProfile builds a simulated source with an explicit profile.
func NewSimSourceProfile(dev model.Device, p Profile) *SimSource {
	h := fnv.New64a()
	h.Write([]byte(dev.DeviceID))
	return &SimSource{dev: dev, profile: p, seed: int64(h.Sum64()), Now: time.Now}
}

// Read returns the raw sample that, once run through the device's CT ratio,
// voltage and calibration factor, yields the profile's wattage.
func (s *SimSource) Read(ctx context.Context, channel int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("channel %d: %w", channel, ErrReadTimeout)
	}
	t := s.Now()
	watts := s.wattsAt(t)
	denom := s.dev.CTRatio * s.dev.Voltage * s.dev.CalibrationFactor
	if denom <= 0 {
		return 0, fmt.Errorf("channel %d: %w: non-positive scale for %s", channel, ErrReadFault, s.dev.DeviceID)
	}
	return watts / denom, nil
}

func (s *SimSource) wattsAt(t time.Time) float64 {
	p := s.profile
	var target float64
	switch p.Kind {
	case KindCyclic:
		period := p.CyclePeriod.Seconds()
		phase := math.Mod(float64(t.Unix()), period)
		if phase < p.DutyCycle*period {
			target = p.BaseWatts
		} else {
			target = p.StandbyWatts
		}
	case KindVariable:
		dp := p.DriftPeriod.Seconds()
		drift := math.Sin(2 * math.Pi * float64(t.Unix()) / dp)
		target = p.BaseWatts * (1 + p.DriftDepth*drift/2)
	case KindScheduled:
		target = p.StandbyWatts
		h := t.Hour()
		for _, r := range p.ActiveHours {
			if h >= r[0] && h <= r[1] {
				target = p.BaseWatts
				break
			}
		}
	default:
		target = p.BaseWatts
	}
	if p.Jitter > 0 {
		// Seeded per device and sample second: same clock, same trace.
		r := rand.New(rand.NewSource(s.seed ^ t.Unix()))
		target *= 1 + (2*r.Float64()-1)*p.Jitter
	}
	if target < 0 {
		target = 0
	}
	return target
}
