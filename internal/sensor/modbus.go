package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	mb "github.com/goburrow/modbus"
)

// The CT sensors sit behind an ADC bridge that exposes each channel as a
// Modbus input register: 10-bit counts against a 3.3V reference, biased to
// mid-rail so the AC waveform stays in range.
const (
	adcResolution = 1023
	adcVref       = 3.3
)

// ModbusConfig selects and parameterizes the bridge connection.
type ModbusConfig struct {
	Protocol   string // modbus-tcp | modbus-rtu
	Host       string
	Port       int
	SerialPort string
	BaudRate   int
	DataBits   int
	StopBits   int
	Parity     string
	SlaveID    uint8
	Timeout    time.Duration
}

// handlerWithConn embeds mb.ClientHandler and exposes Connect/Close for lifecycle.
type handlerWithConn interface {
	mb.ClientHandler
	Connect() error
	Close() error
}

// ModbusSource reads raw samples from ADC channels over a single Modbus
// connection. Reads are serialized; the underlying handler is not reentrant.
type ModbusSource struct {
	mu      sync.Mutex
	handler handlerWithConn
	client  mb.Client
	addr    string
}

// NewModbusSource configures and connects a handler for TCP or RTU.
func NewModbusSource(cfg ModbusConfig) (*ModbusSource, error) {
	h, addr, err := newHandler(cfg)
	if err != nil {
		return nil, err
	}
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &ModbusSource{handler: h, client: mb.NewClient(h), addr: addr}, nil
}

func newHandler(cfg ModbusConfig) (handlerWithConn, string, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Protocol)) {
	case "modbus-tcp", "tcp":
		address := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		h := mb.NewTCPClientHandler(address)
		h.Timeout = timeout
		h.SlaveId = cfg.SlaveID
		return h, address, nil
	case "modbus-rtu", "rtu":
		if strings.TrimSpace(cfg.SerialPort) == "" {
			return nil, "", fmt.Errorf("serial_port is required for RTU")
		}
		h := mb.NewRTUClientHandler(cfg.SerialPort)
		if cfg.BaudRate > 0 {
			h.BaudRate = cfg.BaudRate
		}
		if cfg.DataBits > 0 {
			h.DataBits = cfg.DataBits
		}
		if cfg.StopBits > 0 {
			h.StopBits = cfg.StopBits
		}
		if p := strings.ToUpper(strings.TrimSpace(cfg.Parity)); p != "" {
			h.Parity = p
		}
		h.Timeout = timeout
		h.SlaveId = cfg.SlaveID
		return h, cfg.SerialPort, nil
	default:
		return nil, "", fmt.Errorf("protocol %q not implemented", cfg.Protocol)
	}
}

// Read issues one input-register transfer for the channel and converts the
// counts to a bias-removed sample magnitude.
func (s *ModbusSource) Read(ctx context.Context, channel int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("channel %d: %w", channel, ErrReadTimeout)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.client.ReadInputRegisters(uint16(channel), 1)
	if err != nil {
		// One reconnect attempt before giving up on the transfer.
		if recErr := s.reconnect(); recErr == nil {
			data, err = s.client.ReadInputRegisters(uint16(channel), 1)
		}
	}
	if err != nil {
		if isTimeout(err) {
			return 0, fmt.Errorf("channel %d @ %s: %w: %v", channel, s.addr, ErrReadTimeout, err)
		}
		return 0, fmt.Errorf("channel %d @ %s: %w: %v", channel, s.addr, ErrReadFault, err)
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("channel %d @ %s: %w: short response", channel, s.addr, ErrReadFault)
	}
	counts := uint16(data[0])<<8 | uint16(data[1])
	volts := float64(counts) / adcResolution * adcVref
	// Magnitude around the mid-rail bias; clamping happens downstream.
	return math.Abs(volts - adcVref/2), nil
}

// Close shuts down the underlying handler.
func (s *ModbusSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler.Close()
}

func (s *ModbusSource) reconnect() error {
	s.handler.Close()
	time.Sleep(200 * time.Millisecond)
	return s.handler.Connect()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
