package model

import "time"

// Device describes a monitored electrical load. Rows are seeded from the
// YAML config at startup; only the calibration factor changes afterwards.
type Device struct {
	DeviceID          string  `gorm:"column:device_id;primaryKey" json:"device_id"`
	Name              string  `gorm:"column:name" json:"name"`
	Location          string  `gorm:"column:location" json:"location"`
	Type              string  `gorm:"column:type" json:"type"`
	Channel           int     `gorm:"column:channel" json:"channel"`
	Voltage           float64 `gorm:"column:voltage" json:"voltage"`
	CTRatio           float64 `gorm:"column:ct_ratio" json:"ct_ratio"`
	CalibrationFactor float64 `gorm:"column:calibration_factor;default:1" json:"calibration_factor"`
	RatedWatts        float64 `gorm:"column:rated_watts" json:"rated_watts"`
	PollInterval      string  `gorm:"column:poll_interval" json:"poll_interval,omitempty"`

	Readings []Reading `gorm:"foreignKey:DeviceID;references:DeviceID" json:"-"`
}

func (Device) TableName() string { return "devices" }

// Reading is one successful poll of a device. Readings are append-only and
// ordered by timestamp per device. EnergyWh and Cost are the increments since
// the previous successful reading in the same session (zero for the first).
type Reading struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	DeviceID   string    `gorm:"column:device_id;index:idx_readings_device_time" json:"device_id"`
	Timestamp  time.Time `gorm:"column:timestamp;index:idx_readings_device_time" json:"timestamp"`
	Raw        float64   `gorm:"column:raw" json:"raw"`
	PowerWatts float64   `gorm:"column:power_watts" json:"power_watts"`
	EnergyWh   float64   `gorm:"column:energy_wh" json:"energy_wh"`
	Cost       float64   `gorm:"column:cost" json:"cost"`
}

func (Reading) TableName() string { return "readings" }
