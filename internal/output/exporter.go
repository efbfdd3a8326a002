// Package output writes stored readings to JSON or CSV files.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"energy-monitor/internal/model"
)

// WriteJSON dumps readings to path as an indented JSON array.
func WriteJSON(path string, rows []model.Reading) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteCSV dumps readings to path, one row per reading.
func WriteCSV(path string, rows []model.Reading) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "device_id", "raw", "power_watts", "energy_wh", "cost"}); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.Timestamp.Format(time.RFC3339),
			r.DeviceID,
			strconv.FormatFloat(r.Raw, 'f', -1, 64),
			strconv.FormatFloat(r.PowerWatts, 'f', -1, 64),
			strconv.FormatFloat(r.EnergyWh, 'f', -1, 64),
			strconv.FormatFloat(r.Cost, 'f', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
