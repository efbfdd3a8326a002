package analyzer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"energy-monitor/internal/model"
)

// Insight categories.
const (
	CategoryEfficiency    = "efficiency"
	CategoryUsagePattern  = "usage-pattern"
	CategoryCost          = "cost"
	CategoryMaintenance   = "maintenance"
	CategoryEnvironmental = "environmental"
)

// feasibility ranks how actionable a category is; lower is easier. Used to
// break ties between insights with equal estimated savings.
var feasibility = map[string]int{
	CategoryEfficiency:    1,
	CategoryUsagePattern:  2,
	CategoryCost:          3,
	CategoryMaintenance:   4,
	CategoryEnvironmental: 5,
}

// Insight is one actionable recommendation. EstimatedSavings is monthly, in
// tariff currency. Priority 1 is highest.
type Insight struct {
	ID               string    `json:"id"`
	Scope            string    `json:"scope"`
	Category         string    `json:"category"`
	Message          string    `json:"message"`
	EstimatedSavings float64   `json:"estimated_savings"`
	Priority         int       `json:"priority"`
	GeneratedAt      time.Time `json:"generated_at"`
	ValidUntil       time.Time `json:"valid_until"`
}

func (r *Rules) deviceInsights(dev model.Device, rep *Report) []Insight {
	s := rep.Statistics
	hours := rep.To.Sub(rep.From).Hours()
	if hours <= 0 {
		return nil
	}
	monthly := s.Cost * (30 * 24 / hours)
	name := dev.Name
	if name == "" {
		name = dev.DeviceID
	}

	var out []Insight
	if rep.Pattern == PatternAlwaysOn && s.P10Watts >= 1 {
		standbyMonthly := s.P10Watts * 24 * 30 / 1000 * r.cfg.RatePerKWh
		out = append(out, Insight{
			Category: CategoryEfficiency,
			Message: fmt.Sprintf("%s never drops below %.0fW. A smart plug or timer cutting that floor draw could save about $%.2f per month.",
				name, s.P10Watts, standbyMonthly),
			EstimatedSavings: standbyMonthly,
		})
	}
	if rep.Pattern == PatternPeakOnly || (s.MeanWatts > 0 && s.PeakWatts/s.MeanWatts > 1/r.cfg.PeakRatio) {
		out = append(out, Insight{
			Category: CategoryUsagePattern,
			Message: fmt.Sprintf("%s draws in short bursts peaking at %.0fW. Shifting those runs off the evening peak reduces strain and tariff exposure.",
				name, s.PeakWatts),
			EstimatedSavings: monthly * 0.1,
		})
	}
	if len(rep.Anomalies) > 0 {
		a := rep.Anomalies[len(rep.Anomalies)-1]
		out = append(out, Insight{
			Category: CategoryMaintenance,
			Message: fmt.Sprintf("%s spiked to %.0fW (%d readings above the %.0fW anomaly threshold). Check the appliance for a fault or blocked airflow.",
				name, a.PowerWatts, len(rep.Anomalies), a.Threshold),
		})
	}
	if rep.Score < 50 {
		out = append(out, Insight{
			Category: CategoryEfficiency,
			Message: fmt.Sprintf("%s scores %.0f/100 for consumption steadiness. Volatile draw often indicates an appliance working harder than it should.",
				name, rep.Score),
			EstimatedSavings: monthly * 0.05,
		})
	}
	if monthly >= 5 {
		out = append(out, Insight{
			Category: CategoryCost,
			Message:  fmt.Sprintf("%s is on track for $%.2f this month at the current rate.", name, monthly),
		})
	}
	return r.rank(rep.Scope, rep.GeneratedAt, out)
}

func (r *Rules) systemInsights(rep *Report) []Insight {
	var out []Insight
	top := rep.Devices[0]
	name := top.Name
	if name == "" {
		name = top.DeviceID
	}
	out = append(out, Insight{
		Category: CategoryCost,
		Message: fmt.Sprintf("%s is your largest consumer at %.0f%% of total usage (%.2f kWh).",
			name, top.Share*100, top.EnergyWh/1000),
		EstimatedSavings: top.Cost * 0.1,
	})
	if len(rep.PeakHours) > 0 {
		out = append(out, Insight{
			Category: CategoryUsagePattern,
			Message: fmt.Sprintf("Household demand concentrates around %s. Moving flexible loads outside those hours flattens your profile.",
				formatHours(rep.PeakHours)),
			EstimatedSavings: rep.EstimatedMonthlyCost * 0.05,
		})
	}
	out = append(out, Insight{
		Category: CategoryEnvironmental,
		Message: fmt.Sprintf("Consumption over this window corresponds to roughly %.1f kg of CO2. Cutting usage 10%% avoids about %.1f kg per month.",
			rep.CO2Kg, rep.CO2Kg*0.1*(30*24/rep.To.Sub(rep.From).Hours())),
	})
	return r.rank(rep.Scope, rep.GeneratedAt, out)
}

// rank orders insights by estimated savings, breaking ties toward the more
// feasible category, then assigns identifiers, priorities and validity.
func (r *Rules) rank(scope string, generatedAt time.Time, ins []Insight) []Insight {
	sort.SliceStable(ins, func(i, j int) bool {
		if ins[i].EstimatedSavings != ins[j].EstimatedSavings {
			return ins[i].EstimatedSavings > ins[j].EstimatedSavings
		}
		return feasibility[ins[i].Category] < feasibility[ins[j].Category]
	})
	for i := range ins {
		ins[i].ID = uuid.NewString()
		ins[i].Scope = scope
		ins[i].Priority = i + 1
		ins[i].GeneratedAt = generatedAt
		ins[i].ValidUntil = generatedAt.Add(r.cfg.CacheTTL)
	}
	return ins
}

func formatHours(hours []int) string {
	s := ""
	for i, h := range hours {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%02d:00", h)
	}
	return s
}

// DailyDeviceUsage is one device's consumption for a calendar day.
type DailyDeviceUsage struct {
	DeviceID string  `json:"device_id"`
	Name     string  `json:"name"`
	EnergyWh float64 `json:"energy_wh"`
	Cost     float64 `json:"cost"`
}

// DailySummary totals a day's consumption across devices.
type DailySummary struct {
	Day           time.Time          `json:"day"`
	Devices       []DailyDeviceUsage `json:"devices"`
	TotalEnergyWh float64            `json:"total_energy_wh"`
	TotalCost     float64            `json:"total_cost"`
	CO2Kg         float64            `json:"co2_kg"`
}

// DailyReporter is implemented by analyzers that can summarize a calendar
// day.
type DailyReporter interface {
	DailyReport(ctx context.Context, day time.Time) (*DailySummary, error)
}

// DailyReport summarizes consumption for the local calendar day containing
// the given time.
func (r *Rules) DailyReport(ctx context.Context, day time.Time) (*DailySummary, error) {
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	to := from.Add(24 * time.Hour)

	devs, err := r.store.Devices(ctx)
	if err != nil {
		return nil, err
	}
	sum := &DailySummary{Day: from}
	for _, dev := range devs {
		wh, err := r.store.SumEnergy(ctx, dev.DeviceID, from, to)
		if err != nil {
			return nil, err
		}
		if wh == 0 {
			continue
		}
		cost := wh / 1000 * r.cfg.RatePerKWh
		sum.Devices = append(sum.Devices, DailyDeviceUsage{
			DeviceID: dev.DeviceID,
			Name:     dev.Name,
			EnergyWh: wh,
			Cost:     cost,
		})
		sum.TotalEnergyWh += wh
		sum.TotalCost += cost
	}
	sort.Slice(sum.Devices, func(i, j int) bool { return sum.Devices[i].EnergyWh > sum.Devices[j].EnergyWh })
	sum.CO2Kg = sum.TotalEnergyWh / 1000 * co2PerKWh
	return sum, nil
}
