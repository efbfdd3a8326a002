// Command monitor runs the full pipeline: it seeds devices from config,
// polls their sensors on the configured cadence, persists readings, and
// optionally serves the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"energy-monitor/internal/analyzer"
	"energy-monitor/internal/api"
	"energy-monitor/internal/collector"
	"energy-monitor/internal/config"
	"energy-monitor/internal/model"
	"energy-monitor/internal/sensor"
	"energy-monitor/internal/store"
)

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "path to config file")
	httpAddr := flag.String("http", "", "HTTP listen address (empty disables the API)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	st, err := store.Open(cfg.System.Database)
	if err != nil {
		log.Fatalf("open database %s: %v", cfg.System.Database, err)
	}
	defer st.Close()

	ctx := context.Background()
	for _, d := range cfg.Devices {
		m := d.Model()
		if err := st.RegisterDevice(ctx, &m); err != nil {
			log.Fatalf("register device %s: %v", d.DeviceID, err)
		}
	}

	bindings, closeSources, err := buildBindings(cfg)
	if err != nil {
		log.Fatalf("bind sensors: %v", err)
	}
	defer closeSources()

	col := collector.New(st, bindings, collector.Options{
		PollingInterval: cfg.System.PollingInterval,
		ReadTimeout:     cfg.System.ReadTimeout,
		RetryCount:      cfg.System.RetryCount,
		RetryBackoff:    cfg.System.RetryBackoff,
		MaxWorkers:      cfg.System.MaxWorkers,
		RatePerKWh:      cfg.System.ElectricityRate,
	})
	col.Start()
	defer col.Stop()

	if *httpAddr != "" {
		rules := analyzer.NewRules(st, analyzer.Config{
			OnThresholdRatio:        cfg.Analysis.OnThresholdRatio,
			AlwaysOnDuty:            cfg.Analysis.AlwaysOnDuty,
			IntermittentDuty:        cfg.Analysis.IntermittentDuty,
			PeakRatio:               cfg.Analysis.PeakRatio,
			AnomalySigma:            cfg.Analysis.AnomalySigma,
			PeakPenaltyWeight:       cfg.Analysis.PeakPenaltyWeight,
			VolatilityPenaltyWeight: cfg.Analysis.VolatilityPenaltyWeight,
			CacheTTL:                cfg.Analysis.CacheTTL,
			PollingInterval:         cfg.System.PollingInterval,
			RatePerKWh:              cfg.System.ElectricityRate,
		})
		srv := &http.Server{
			Addr:              *httpAddr,
			Handler:           api.NewServer(st, rules, col).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Printf("api: listening on %s", *httpAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("api: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("shutting down")
}

// buildBindings constructs one source per simulated device and a shared
// connection for all hardware devices.
func buildBindings(cfg *config.Config) ([]collector.Binding, func(), error) {
	var bindings []collector.Binding
	var hw *sensor.ModbusSource

	for _, d := range cfg.Devices {
		dev := d.Model()
		var src sensor.Source
		switch d.Source {
		case "modbus":
			if hw == nil {
				var err error
				hw, err = sensor.NewModbusSource(sensor.ModbusConfig{
					Protocol:   cfg.Modbus.Protocol,
					Host:       cfg.Modbus.Host,
					Port:       cfg.Modbus.Port,
					SerialPort: cfg.Modbus.SerialPort,
					BaudRate:   cfg.Modbus.BaudRate,
					DataBits:   cfg.Modbus.DataBits,
					StopBits:   cfg.Modbus.StopBits,
					Parity:     cfg.Modbus.Parity,
					SlaveID:    cfg.Modbus.SlaveID,
					Timeout:    cfg.Modbus.Timeout,
				})
				if err != nil {
					return nil, nil, err
				}
			}
			src = hw
		default:
			sim, err := newSimSource(dev, d.ActiveHours)
			if err != nil {
				return nil, nil, err
			}
			src = sim
		}
		bindings = append(bindings, collector.Binding{
			Device:   dev,
			Source:   src,
			Interval: d.PollInterval,
		})
	}

	closeFn := func() {
		if hw != nil {
			hw.Close()
		}
	}
	return bindings, closeFn, nil
}

func newSimSource(dev model.Device, hours [][2]int) (sensor.Source, error) {
	p, ok := sensor.ProfileFor(dev.Type)
	if !ok {
		return nil, fmt.Errorf("device %s: no simulation profile for type %q", dev.DeviceID, dev.Type)
	}
	if len(hours) > 0 {
		p.ActiveHours = hours
	}
	return sensor.NewSimSourceProfile(dev, p), nil
}
