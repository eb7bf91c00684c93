// Package ble implements transport.Conn on tinygo.org/x/bluetooth.
//
// The device is located by scanning for a matching address or local name,
// then connected and driven through blocking GATT calls. Each call runs on its
// own goroutine so that context cancellation and Close return immediately even
// when the host stack does not.
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/moffa90/go-blefota/transport"
)

// ErrNotFound is returned when no advertising device matches.
var ErrNotFound = errors.New("device not found")

// Config selects the target device.
type Config struct {
	// Address is the device address (MAC on Linux/Windows, UUID on macOS)
	Address string

	// Name matches the advertised local name when Address is empty
	Name string

	// ScanTimeout bounds the scan phase
	ScanTimeout time.Duration
}

// Conn is a BLE connection to one FOTA device.
type Conn struct {
	cfg     Config
	adapter *bluetooth.Adapter

	mu         sync.Mutex
	discover   func([]bluetooth.UUID) ([]bluetooth.DeviceService, error)
	disconnect func() error
	chars      map[string]bluetooth.DeviceCharacteristic
	closed     chan struct{}
	closeOnce  sync.Once
}

// New creates a connection using the default adapter. Nothing happens on the
// radio until Connect.
func New(cfg Config) *Conn {
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 10 * time.Second
	}
	return &Conn{
		cfg:     cfg,
		adapter: bluetooth.DefaultAdapter,
		chars:   make(map[string]bluetooth.DeviceCharacteristic),
		closed:  make(chan struct{}),
	}
}

var _ transport.Conn = (*Conn)(nil)

// Connect scans for the configured device and connects to it.
func (c *Conn) Connect(ctx context.Context) error {
	if err := c.adapter.Enable(); err != nil {
		return &transport.OpError{Op: "enable adapter", Err: err}
	}

	result, err := c.scan(ctx)
	if err != nil {
		return &transport.OpError{Op: "scan", Err: err}
	}

	device, err := call(ctx, c, func() (bluetooth.Device, error) {
		return c.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	})
	if err != nil {
		return &transport.OpError{Op: "connect", Err: err}
	}

	c.mu.Lock()
	c.discover = device.DiscoverServices
	c.disconnect = device.Disconnect
	c.mu.Unlock()

	return nil
}

func (c *Conn) scan(ctx context.Context) (bluetooth.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ScanTimeout)
	defer cancel()

	found := make(chan bluetooth.ScanResult, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if c.matches(r) {
				select {
				case found <- r:
				default:
				}
				_ = a.StopScan()
			}
		})
	}()

	select {
	case r := <-found:
		<-done
		return r, nil
	case err := <-done:
		select {
		case r := <-found:
			return r, nil
		default:
		}
		if err == nil {
			err = ErrNotFound
		}
		return bluetooth.ScanResult{}, err
	case <-ctx.Done():
		_ = c.adapter.StopScan()
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return bluetooth.ScanResult{}, fmt.Errorf("%w within %s", ErrNotFound, c.cfg.ScanTimeout)
		}
		return bluetooth.ScanResult{}, ctx.Err()
	}
}

func (c *Conn) matches(r bluetooth.ScanResult) bool {
	if c.cfg.Address != "" {
		return strings.EqualFold(r.Address.String(), c.cfg.Address)
	}
	return c.cfg.Name != "" && r.LocalName() == c.cfg.Name
}

// RequestMTU reports the MTU negotiated by the host stack. tinygo bluetooth
// does not expose an explicit exchange; stacks that cannot report it return
// an error and the caller falls back to the default MTU.
func (c *Conn) RequestMTU(ctx context.Context, mtu int) (int, error) {
	chars, err := c.resolve(ctx, "", nil)
	if err != nil {
		return 0, &transport.OpError{Op: "request mtu", Err: err}
	}
	if len(chars) == 0 {
		return 0, &transport.OpError{Op: "request mtu", Err: transport.ErrNotDiscovered}
	}

	getter, ok := any(chars[0]).(interface{ GetMTU() (uint16, error) })
	if !ok {
		return 0, &transport.OpError{Op: "request mtu", Err: errors.ErrUnsupported}
	}

	got, err := call(ctx, c, func() (uint16, error) { return getter.GetMTU() })
	if err != nil {
		return 0, &transport.OpError{Op: "request mtu", Err: err}
	}
	if int(got) > mtu {
		return mtu, nil
	}
	return int(got), nil
}

// Discover implements transport.Conn.
func (c *Conn) Discover(ctx context.Context, service string, chars []string) ([]string, error) {
	list, err := c.resolve(ctx, service, nil)
	if err != nil {
		return nil, &transport.OpError{Op: "discover", Err: err}
	}

	exposed := make(map[string]bluetooth.DeviceCharacteristic, len(list))
	for _, ch := range list {
		exposed[transport.NormalizeUUID(ch.UUID().String())] = ch
	}

	found := make([]string, 0, len(chars))
	c.mu.Lock()
	for _, want := range chars {
		key := transport.NormalizeUUID(want)
		if ch, ok := exposed[key]; ok {
			c.chars[key] = ch
			found = append(found, key)
		}
	}
	c.mu.Unlock()

	return found, nil
}

// resolve discovers the characteristics of service (all services when empty).
func (c *Conn) resolve(ctx context.Context, service string, chars []bluetooth.UUID) ([]bluetooth.DeviceCharacteristic, error) {
	c.mu.Lock()
	discover := c.discover
	c.mu.Unlock()
	if discover == nil {
		return nil, transport.ErrDisconnected
	}

	var filter []bluetooth.UUID
	if service != "" {
		u, err := bluetooth.ParseUUID(service)
		if err != nil {
			return nil, fmt.Errorf("service uuid: %w", err)
		}
		filter = []bluetooth.UUID{u}
	}

	services, err := call(ctx, c, func() ([]bluetooth.DeviceService, error) { return discover(filter) })
	if err != nil {
		return nil, err
	}

	var out []bluetooth.DeviceCharacteristic
	for _, svc := range services {
		svc := svc
		list, err := call(ctx, c, func() ([]bluetooth.DeviceCharacteristic, error) {
			return svc.DiscoverCharacteristics(chars)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, list...)
	}
	return out, nil
}

// Read implements transport.Conn.
func (c *Conn) Read(ctx context.Context, char string) ([]byte, error) {
	ch, err := c.char(char)
	if err != nil {
		return nil, &transport.OpError{Op: "read", Char: char, Err: err}
	}

	value, err := call(ctx, c, func() ([]byte, error) {
		buf := make([]byte, 512)
		n, err := ch.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	})
	if err != nil {
		return nil, &transport.OpError{Op: "read", Char: char, Err: err}
	}
	return value, nil
}

// Write implements transport.Conn. Writes use write-with-response when the
// platform supports it.
func (c *Conn) Write(ctx context.Context, char string, value []byte) error {
	ch, err := c.char(char)
	if err != nil {
		return &transport.OpError{Op: "write", Char: char, Err: err}
	}

	_, err = call(ctx, c, func() (int, error) {
		if w, ok := any(ch).(interface{ Write([]byte) (int, error) }); ok {
			return w.Write(value)
		}
		return ch.WriteWithoutResponse(value)
	})
	if err != nil {
		return &transport.OpError{Op: "write", Char: char, Err: err}
	}
	return nil
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		disconnect := c.disconnect
		c.discover = nil
		c.mu.Unlock()

		if disconnect != nil {
			err = disconnect()
		}
	})
	return err
}

func (c *Conn) char(uuid string) (bluetooth.DeviceCharacteristic, error) {
	select {
	case <-c.closed:
		return bluetooth.DeviceCharacteristic{}, transport.ErrClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chars[transport.NormalizeUUID(uuid)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, transport.ErrUnknownCharacteristic
	}
	return ch, nil
}

// call runs a blocking stack call and waits for it, the context or Close.
// An abandoned call finishes in the background.
func call[T any](ctx context.Context, c *Conn, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	var zero T
	select {
	case <-c.closed:
		return zero, transport.ErrClosed
	default:
	}

	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.closed:
		return zero, transport.ErrClosed
	}
}
