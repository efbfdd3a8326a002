// Package store is the append-only reading repository backed by SQLite.
// Writes are serialized to preserve monotonic per-device ordering; readers
// never block the writer since readings are immutable once appended.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"energy-monitor/internal/model"
)

// ErrWrite reports a persistence failure on append. The collector retries
// once and then drops the reading with a warning.
var ErrWrite = errors.New("store: write failed")

// AggregateFunc selects the aggregate computed over stored power samples.
type AggregateFunc string

const (
	AggregateMean  AggregateFunc = "mean"
	AggregateMax   AggregateFunc = "max"
	AggregateSum   AggregateFunc = "sum"
	AggregateStdev AggregateFunc = "stdev"
)

type Store struct {
	orm *gorm.DB

	// Serializes appends; gorm's sqlite connection is safe but ordering of
	// concurrent per-tick writers is not otherwise guaranteed.
	writeMu sync.Mutex
}

// Open opens the SQLite database, creating its directory if needed, and runs
// migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	g, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := g.AutoMigrate(&model.Device{}, &model.Reading{}); err != nil {
		_ = closeORM(g)
		return nil, err
	}
	return &Store{orm: g}, nil
}

func (s *Store) Close() error { return closeORM(s.orm) }

func closeORM(g *gorm.DB) error {
	sqlDB, err := g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RegisterDevice inserts or updates a device definition from config.
func (s *Store) RegisterDevice(ctx context.Context, d *model.Device) error {
	return s.orm.WithContext(ctx).Save(d).Error
}

// UpdateCalibration persists a newly derived calibration factor.
func (s *Store) UpdateCalibration(ctx context.Context, deviceID string, factor float64) error {
	return s.orm.WithContext(ctx).
		Model(&model.Device{}).
		Where("device_id = ?", deviceID).
		Update("calibration_factor", factor).Error
}

// Devices returns all registered devices ordered by identifier.
func (s *Store) Devices(ctx context.Context) ([]model.Device, error) {
	var devs []model.Device
	if err := s.orm.WithContext(ctx).Order("device_id").Find(&devs).Error; err != nil {
		return nil, err
	}
	return devs, nil
}

// Append persists one reading. Failures are wrapped in ErrWrite and never
// silent.
func (s *Store) Append(ctx context.Context, r *model.Reading) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.orm.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("%w: %s @ %s: %v", ErrWrite, r.DeviceID, r.Timestamp.Format(time.RFC3339), err)
	}
	return nil
}

// LastReading returns the most recent reading for a device, or nil when the
// device has none.
func (s *Store) LastReading(ctx context.Context, deviceID string) (*model.Reading, error) {
	var r model.Reading
	err := s.orm.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("timestamp DESC").
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Readings returns a device's readings within [from, to), ascending by
// timestamp.
func (s *Store) Readings(ctx context.Context, deviceID string, from, to time.Time) ([]model.Reading, error) {
	var rows []model.Reading
	err := s.orm.WithContext(ctx).
		Where("device_id = ? AND timestamp >= ? AND timestamp < ?", deviceID, from, to).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Aggregate computes mean, max, sum or stdev over instantaneous power within
// [from, to). Stdev is derived in one pass from E[x²]−E[x]².
func (s *Store) Aggregate(ctx context.Context, deviceID string, from, to time.Time, fn AggregateFunc) (float64, error) {
	q := s.orm.WithContext(ctx).
		Model(&model.Reading{}).
		Where("device_id = ? AND timestamp >= ? AND timestamp < ?", deviceID, from, to)

	var v float64
	switch fn {
	case AggregateMean:
		err := q.Select("COALESCE(AVG(power_watts), 0)").Scan(&v).Error
		return v, err
	case AggregateMax:
		err := q.Select("COALESCE(MAX(power_watts), 0)").Scan(&v).Error
		return v, err
	case AggregateSum:
		err := q.Select("COALESCE(SUM(power_watts), 0)").Scan(&v).Error
		return v, err
	case AggregateStdev:
		var row struct {
			Mean   float64
			MeanSq float64
		}
		err := q.Select("COALESCE(AVG(power_watts), 0) AS mean, COALESCE(AVG(power_watts*power_watts), 0) AS mean_sq").
			Scan(&row).Error
		if err != nil {
			return 0, err
		}
		return math.Sqrt(math.Max(0, row.MeanSq-row.Mean*row.Mean)), nil
	default:
		return 0, fmt.Errorf("store: unsupported aggregate %q", fn)
	}
}

// SumEnergy totals the stored trapezoidal energy increments within [from, to)
// so the write-time integration is never recomputed. Empty deviceID totals
// all devices.
func (s *Store) SumEnergy(ctx context.Context, deviceID string, from, to time.Time) (float64, error) {
	q := s.orm.WithContext(ctx).
		Model(&model.Reading{}).
		Where("timestamp >= ? AND timestamp < ?", from, to)
	if deviceID != "" {
		q = q.Where("device_id = ?", deviceID)
	}
	var v float64
	err := q.Select("COALESCE(SUM(energy_wh), 0)").Scan(&v).Error
	return v, err
}

// LatestReadings returns the newest reading per device, for snapshot-style
// dashboard output.
func (s *Store) LatestReadings(ctx context.Context) ([]model.Reading, error) {
	sub := s.orm.Model(&model.Reading{}).
		Select("device_id, MAX(timestamp) AS ts").
		Group("device_id")
	var rows []model.Reading
	err := s.orm.WithContext(ctx).
		Table("readings AS r").
		Joins("JOIN (?) AS l ON l.device_id = r.device_id AND l.ts = r.timestamp", sub).
		Order("r.device_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
