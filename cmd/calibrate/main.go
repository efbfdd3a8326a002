// Command calibrate derives a device's calibration factor from a reference
// load of known wattage and stores it. Run it while the reference load is the
// only draw on the monitored circuit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"energy-monitor/internal/config"
	"energy-monitor/internal/sensor"
	"energy-monitor/internal/store"
)

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "path to config file")
	deviceID := flag.String("device", "", "device to calibrate")
	watts := flag.Float64("watts", 0, "wattage of the reference load")
	samples := flag.Int("samples", 10, "number of samples to average")
	flag.Parse()

	if *deviceID == "" || *watts <= 0 {
		log.Fatalf("usage: calibrate -device <id> -watts <reference wattage> [-samples N]")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	devCfg, err := findDevice(cfg, *deviceID)
	if err != nil {
		log.Fatal(err)
	}

	src, closeFn, err := openSource(cfg, devCfg)
	if err != nil {
		log.Fatalf("open source: %v", err)
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.Printf("sampling %s on channel %d with %.0fW reference load", devCfg.DeviceID, devCfg.Channel, *watts)
	factor, err := sensor.Calibrate(ctx, src, devCfg.Channel, *samples, *watts)
	if err != nil {
		log.Fatalf("calibration failed: %v", err)
	}

	st, err := store.Open(cfg.System.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer st.Close()

	m := devCfg.Model()
	if err := st.RegisterDevice(ctx, &m); err != nil {
		log.Fatalf("register device: %v", err)
	}
	if err := st.UpdateCalibration(ctx, devCfg.DeviceID, factor); err != nil {
		log.Fatalf("persist calibration: %v", err)
	}
	log.Printf("%s: calibration factor %.6f stored", devCfg.DeviceID, factor)
}

func findDevice(cfg *config.Config, id string) (config.DeviceConfig, error) {
	for _, d := range cfg.Devices {
		if d.DeviceID == id {
			return d, nil
		}
	}
	return config.DeviceConfig{}, fmt.Errorf("device %q not in config", id)
}

func openSource(cfg *config.Config, d config.DeviceConfig) (sensor.Source, func(), error) {
	if d.Source == "modbus" {
		hw, err := sensor.NewModbusSource(sensor.ModbusConfig{
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
		return hw, func() { hw.Close() }, nil
	}
	sim, err := sensor.NewSimSource(d.Model())
	if err != nil {
		return nil, nil, err
	}
	return sim, func() {}, nil
}
