// Command export dumps stored readings to JSON or CSV files.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"energy-monitor/internal/config"
	"energy-monitor/internal/model"
	"energy-monitor/internal/output"
	"energy-monitor/internal/store"
)

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "path to config file")
	deviceID := flag.String("device", "", "device to export (empty exports all devices)")
	hours := flag.Int("hours", 24, "trailing window to export")
	jsonPath := flag.String("json", "", "JSON output path")
	csvPath := flag.String("csv", "", "CSV output path")
	flag.Parse()

	if *jsonPath == "" && *csvPath == "" {
		log.Fatalf("usage: export [-device <id>] [-hours N] -json out.json and/or -csv out.csv")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	st, err := store.Open(cfg.System.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	to := time.Now()
	from := to.Add(-time.Duration(*hours) * time.Hour)

	var rows []model.Reading
	if *deviceID != "" {
		rows, err = st.Readings(ctx, *deviceID, from, to)
		if err != nil {
			log.Fatalf("query readings: %v", err)
		}
	} else {
		devs, err := st.Devices(ctx)
		if err != nil {
			log.Fatalf("query devices: %v", err)
		}
		for _, d := range devs {
			r, err := st.Readings(ctx, d.DeviceID, from, to)
			if err != nil {
				log.Fatalf("query readings for %s: %v", d.DeviceID, err)
			}
			rows = append(rows, r...)
		}
	}

	if *jsonPath != "" {
		if err := output.WriteJSON(*jsonPath, rows); err != nil {
			log.Fatalf("export json: %v", err)
		}
		log.Printf("wrote %d readings to %s", len(rows), *jsonPath)
	}
	if *csvPath != "" {
		if err := output.WriteCSV(*csvPath, rows); err != nil {
			log.Fatalf("export csv: %v", err)
		}
		log.Printf("wrote %d readings to %s", len(rows), *csvPath)
	}
}
