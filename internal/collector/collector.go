// Package collector runs the polling loop: every tick it reads all due
// devices concurrently, converts raw samples to power and energy, and appends
// the readings. A failing device never blocks or aborts the others.
package collector

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"energy-monitor/internal/energy"
	"energy-monitor/internal/model"
	"energy-monitor/internal/sensor"
)

// Collector lifecycle states.
const (
	StateIdle int32 = iota
	StateRunning
	StateStopping
)

// Store is the persistence surface the collector needs.
type Store interface {
	Append(ctx context.Context, r *model.Reading) error
	UpdateCalibration(ctx context.Context, deviceID string, factor float64) error
}

// Binding pairs a device with its sample source. Interval overrides the
// global polling cadence when positive.
type Binding struct {
	Device   model.Device
	Source   sensor.Source
	Interval time.Duration
}

// Options tune the polling loop.
type Options struct {
	PollingInterval time.Duration
	ReadTimeout     time.Duration
	RetryCount      int
	RetryBackoff    time.Duration
	MaxWorkers      int
	RatePerKWh      float64

	// Now supplies the loop clock; tests replace it.
	Now func() time.Time
}

type boundDevice struct {
	binding Binding
	nextDue time.Time
}

// sample is the last successful reading, kept in memory for trapezoidal
// integration. Reset on Start so energy never bridges downtime.
type sample struct {
	watts float64
	at    time.Time
}

type Collector struct {
	store   Store
	devices []*boundDevice
	opts    Options

	state int32

	mu   sync.Mutex
	last map[string]sample

	stop chan struct{}
	done chan struct{}
}

// New builds a collector over the given bindings. Options are defaulted to
// the same values the config layer applies.
func New(store Store, bindings []Binding, opts Options) *Collector {
	if opts.PollingInterval <= 0 {
		opts.PollingInterval = time.Minute
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.RetryCount <= 0 {
		opts.RetryCount = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	devs := make([]*boundDevice, 0, len(bindings))
	for _, b := range bindings {
		devs = append(devs, &boundDevice{binding: b})
	}
	return &Collector{
		store:   store,
		devices: devs,
		opts:    opts,
		last:    make(map[string]sample),
	}
}

// State returns the current lifecycle state.
func (c *Collector) State() int32 { return atomic.LoadInt32(&c.state) }

// Start launches the polling loop. Calling Start on a running collector is a
// no-op. The channels are allocated before the Running state is published so
// a concurrent Stop never observes them nil.
func (c *Collector) Start() {
	c.mu.Lock()
	if atomic.LoadInt32(&c.state) != StateIdle {
		c.mu.Unlock()
		return
	}
	c.last = make(map[string]sample)
	now := c.opts.Now()
	for _, d := range c.devices {
		d.nextDue = now
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	atomic.StoreInt32(&c.state, StateRunning)
	c.mu.Unlock()

	go c.run()
	log.Printf("collector: started, %d devices, interval %s", len(c.devices), c.opts.PollingInterval)
}

// Stop halts the loop and waits for any in-flight tick to finish. Idempotent.
func (c *Collector) Stop() {
	c.mu.Lock()
	if atomic.LoadInt32(&c.state) != StateRunning {
		c.mu.Unlock()
		return
	}
	atomic.StoreInt32(&c.state, StateStopping)
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done
	atomic.StoreInt32(&c.state, StateIdle)
	log.Printf("collector: stopped")
}

func (c *Collector) run() {
	defer close(c.done)

	// First tick immediately, then on the cadence.
	c.tick()
	ticker := time.NewTicker(c.opts.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			select {
			case <-c.stop:
				return
			default:
			}
			c.tick()
		}
	}
}

// tick polls every due device. Each device runs in its own goroutine and
// always reports success to the group: faults are logged and counted, never
// propagated, so one dead sensor cannot starve the rest.
func (c *Collector) tick() {
	ticksTotal.Inc()
	now := c.opts.Now()

	// Bindings are snapshotted under the lock: Calibrate mutates the bound
	// device concurrently, so workers only ever see their own copy.
	var due []Binding
	c.mu.Lock()
	for _, d := range c.devices {
		if !now.Before(d.nextDue) {
			due = append(due, d.binding)
			if d.binding.Interval > 0 {
				d.nextDue = now.Add(d.binding.Interval)
			} else {
				d.nextDue = now.Add(c.opts.PollingInterval)
			}
		}
	}
	c.mu.Unlock()

	g := new(errgroup.Group)
	g.SetLimit(c.opts.MaxWorkers)
	for _, b := range due {
		b := b
		g.Go(func() error {
			c.poll(b, now)
			return nil
		})
	}
	g.Wait()
}

func (c *Collector) poll(b Binding, now time.Time) {
	dev := c.device(b.Device.DeviceID)

	raw, err := c.readWithRetry(b.Source, dev.Channel)
	if err != nil {
		readFailures.WithLabelValues(dev.DeviceID).Inc()
		log.Printf("collector: %s: read failed after %d attempts: %v", dev.DeviceID, c.opts.RetryCount, err)
		return
	}

	watts := energy.Power(raw, dev)

	c.mu.Lock()
	prev, hasPrev := c.last[dev.DeviceID]
	c.last[dev.DeviceID] = sample{watts: watts, at: now}
	c.mu.Unlock()

	var deltaWh float64
	if hasPrev {
		deltaWh = energy.DeltaWh(prev.watts, watts, now.Sub(prev.at))
	}

	r := &model.Reading{
		DeviceID:   dev.DeviceID,
		Timestamp:  now,
		Raw:        raw,
		PowerWatts: watts,
		EnergyWh:   deltaWh,
		Cost:       energy.Cost(deltaWh, c.opts.RatePerKWh),
	}
	if err := c.append(r); err != nil {
		droppedWrites.WithLabelValues(dev.DeviceID).Inc()
		log.Printf("collector: %s: dropping reading: %v", dev.DeviceID, err)
		return
	}
	readingsTotal.WithLabelValues(dev.DeviceID).Inc()
}

// readWithRetry attempts the configured number of reads with exponential
// backoff. Each attempt gets its own deadline independent of shutdown so an
// in-flight read completes cleanly.
func (c *Collector) readWithRetry(src sensor.Source, channel int) (float64, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.RetryCount; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ReadTimeout)
		v, err := src.Read(ctx, channel)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt < c.opts.RetryCount {
			time.Sleep(c.opts.RetryBackoff << (attempt - 1))
		}
	}
	return 0, lastErr
}

func (c *Collector) append(r *model.Reading) error {
	err := c.store.Append(context.Background(), r)
	if err == nil {
		return nil
	}
	// One retry for transient write failures.
	time.Sleep(100 * time.Millisecond)
	return c.store.Append(context.Background(), r)
}

// Calibrate runs a calibration cycle against the device's source while a
// reference load of knownWatts is active, then applies and persists the new
// factor. On failure the previous factor stays in effect.
func (c *Collector) Calibrate(ctx context.Context, deviceID string, samples int, knownWatts float64) (float64, error) {
	var b Binding
	found := false
	c.mu.Lock()
	for _, d := range c.devices {
		if d.binding.Device.DeviceID == deviceID {
			b = d.binding
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return 0, fmt.Errorf("collector: unknown device %q", deviceID)
	}

	factor, err := sensor.Calibrate(ctx, b.Source, b.Device.Channel, samples, knownWatts)
	if err != nil {
		return 0, err
	}
	if err := c.store.UpdateCalibration(ctx, deviceID, factor); err != nil {
		return 0, fmt.Errorf("collector: persist calibration for %s: %w", deviceID, err)
	}
	c.mu.Lock()
	for _, d := range c.devices {
		if d.binding.Device.DeviceID == deviceID {
			d.binding.Device.CalibrationFactor = factor
			break
		}
	}
	c.mu.Unlock()
	log.Printf("collector: %s: calibration factor updated to %.4f", deviceID, factor)
	return factor, nil
}

// device returns the current snapshot of a bound device, including any
// calibration applied since Start.
func (c *Collector) device(deviceID string) model.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.devices {
		if d.binding.Device.DeviceID == deviceID {
			return d.binding.Device
		}
	}
	return model.Device{DeviceID: deviceID}
}
