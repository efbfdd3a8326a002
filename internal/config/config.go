package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"energy-monitor/internal/model"
)

// Config mirrors config/config.yaml.

type Config struct {
	System   SystemConfig   `yaml:"system"`
	Modbus   ModbusConfig   `yaml:"modbus"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Devices  []DeviceConfig `yaml:"devices"`
}

type SystemConfig struct {
	Database        string        `yaml:"database"`
	PollingInterval time.Duration `yaml:"polling_interval"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	RetryCount      int           `yaml:"retry_count"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	MaxWorkers      int           `yaml:"max_workers"`
	ElectricityRate float64       `yaml:"electricity_rate"` // per kWh
	Source          string        `yaml:"source"`           // simulated | modbus
}

// ModbusConfig describes the ADC bridge connection used when a device reads
// from hardware. One bridge per installation; channels select the sensor.
type ModbusConfig struct {
	Protocol   string        `yaml:"protocol"` // modbus-tcp | modbus-rtu
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	SerialPort string        `yaml:"serial_port"`
	BaudRate   int           `yaml:"baud_rate"`
	DataBits   int           `yaml:"data_bits"`
	StopBits   int           `yaml:"stop_bits"`
	Parity     string        `yaml:"parity"`
	SlaveID    uint8         `yaml:"slave_id"`
	Timeout    time.Duration `yaml:"timeout"`
}

// AnalysisConfig holds the tunable thresholds of the rule analyzer. The exact
// weights are policy; the analyzer clamps its outputs regardless.
type AnalysisConfig struct {
	OnThresholdRatio        float64       `yaml:"on_threshold_ratio"`
	AlwaysOnDuty            float64       `yaml:"always_on_duty"`
	IntermittentDuty        float64       `yaml:"intermittent_duty"`
	PeakRatio               float64       `yaml:"peak_ratio"`
	AnomalySigma            float64       `yaml:"anomaly_sigma"`
	PeakPenaltyWeight       float64       `yaml:"peak_penalty_weight"`
	VolatilityPenaltyWeight float64       `yaml:"volatility_penalty_weight"`
	CacheTTL                time.Duration `yaml:"cache_ttl"`
}

type DeviceConfig struct {
	DeviceID          string        `yaml:"device_id"`
	Name              string        `yaml:"name"`
	Location          string        `yaml:"location"`
	Type              string        `yaml:"type"`
	Channel           int           `yaml:"channel"`
	Voltage           float64       `yaml:"voltage"`
	CTRatio           float64       `yaml:"ct_ratio"`
	CalibrationFactor float64       `yaml:"calibration_factor"`
	RatedWatts        float64       `yaml:"rated_watts"`
	PollInterval      time.Duration `yaml:"poll_interval"` // optional cadence override
	Source            string        `yaml:"source"`        // optional, overrides system.source
	ActiveHours       [][2]int      `yaml:"active_hours"`  // optional, for scheduled loads
}

// Model converts the config entry into its persisted form.
func (d DeviceConfig) Model() model.Device {
	m := model.Device{
		DeviceID:          d.DeviceID,
		Name:              d.Name,
		Location:          d.Location,
		Type:              d.Type,
		Channel:           d.Channel,
		Voltage:           d.Voltage,
		CTRatio:           d.CTRatio,
		CalibrationFactor: d.CalibrationFactor,
		RatedWatts:        d.RatedWatts,
	}
	if d.PollInterval > 0 {
		m.PollInterval = d.PollInterval.String()
	}
	return m
}

// Load reads, defaults and validates the YAML config.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.System.Database == "" {
		c.System.Database = "data/energy.db"
	}
	if c.System.PollingInterval <= 0 {
		c.System.PollingInterval = time.Minute
	}
	if c.System.ReadTimeout <= 0 {
		c.System.ReadTimeout = 5 * time.Second
	}
	if c.System.RetryCount <= 0 {
		c.System.RetryCount = 3
	}
	if c.System.RetryBackoff <= 0 {
		c.System.RetryBackoff = time.Second
	}
	if c.System.MaxWorkers <= 0 {
		c.System.MaxWorkers = 8
	}
	if c.System.ElectricityRate <= 0 {
		c.System.ElectricityRate = 0.1168
	}
	if c.System.Source == "" {
		c.System.Source = "simulated"
	}
	if c.Modbus.Timeout <= 0 {
		c.Modbus.Timeout = 5 * time.Second
	}
	if c.Analysis.OnThresholdRatio <= 0 {
		c.Analysis.OnThresholdRatio = 0.05
	}
	if c.Analysis.AlwaysOnDuty <= 0 {
		c.Analysis.AlwaysOnDuty = 0.8
	}
	if c.Analysis.IntermittentDuty <= 0 {
		c.Analysis.IntermittentDuty = 0.15
	}
	if c.Analysis.PeakRatio <= 0 {
		c.Analysis.PeakRatio = 0.5
	}
	if c.Analysis.AnomalySigma <= 0 {
		c.Analysis.AnomalySigma = 3
	}
	if c.Analysis.PeakPenaltyWeight <= 0 {
		c.Analysis.PeakPenaltyWeight = 4
	}
	if c.Analysis.VolatilityPenaltyWeight <= 0 {
		c.Analysis.VolatilityPenaltyWeight = 40
	}
	if c.Analysis.CacheTTL <= 0 {
		c.Analysis.CacheTTL = 6 * time.Hour
	}
	for i := range c.Devices {
		if c.Devices[i].CalibrationFactor == 0 {
			c.Devices[i].CalibrationFactor = 1.0
		}
		if c.Devices[i].Source == "" {
			c.Devices[i].Source = c.System.Source
		}
	}
}

func (c *Config) validate() error {
	if len(c.Devices) == 0 {
		return fmt.Errorf("no devices configured")
	}
	seen := make(map[string]struct{}, len(c.Devices))
	needModbus := false
	for _, d := range c.Devices {
		if d.DeviceID == "" {
			return fmt.Errorf("device with empty device_id")
		}
		if _, ok := seen[d.DeviceID]; ok {
			return fmt.Errorf("duplicate device_id %q", d.DeviceID)
		}
		seen[d.DeviceID] = struct{}{}
		if d.Type == "" {
			return fmt.Errorf("device %s: type is required", d.DeviceID)
		}
		if d.Voltage <= 0 {
			return fmt.Errorf("device %s: voltage must be positive", d.DeviceID)
		}
		if d.CTRatio <= 0 {
			return fmt.Errorf("device %s: ct_ratio must be positive", d.DeviceID)
		}
		if d.Channel < 0 {
			return fmt.Errorf("device %s: channel must be >= 0", d.DeviceID)
		}
		if d.RatedWatts <= 0 {
			return fmt.Errorf("device %s: rated_watts must be positive", d.DeviceID)
		}
		switch d.Source {
		case "simulated":
		case "modbus":
			needModbus = true
		default:
			return fmt.Errorf("device %s: unknown source %q (expected simulated or modbus)", d.DeviceID, d.Source)
		}
		for _, h := range d.ActiveHours {
			if h[0] < 0 || h[0] > 23 || h[1] < 0 || h[1] > 23 || h[0] > h[1] {
				return fmt.Errorf("device %s: invalid active_hours range [%d,%d]", d.DeviceID, h[0], h[1])
			}
		}
	}
	if needModbus {
		switch c.Modbus.Protocol {
		case "modbus-tcp", "tcp":
			if c.Modbus.Host == "" || c.Modbus.Port == 0 {
				return fmt.Errorf("modbus: host and port are required for TCP")
			}
		case "modbus-rtu", "rtu":
			if c.Modbus.SerialPort == "" {
				return fmt.Errorf("modbus: serial_port is required for RTU")
			}
		default:
			return fmt.Errorf("modbus: protocol %q not supported", c.Modbus.Protocol)
		}
	}
	return nil
}
