// Package sim provides an in-memory INGChips FOTA device.
//
// Device implements transport.Driver with asynchronous completions, so it can be
// wrapped by transport.NewLink and driven by the updater exactly like a radio.
// It checks every page the way the firmware does (length, CRC and, on secure
// devices, the session signature) and supports fault injection for tests.
package sim

import (
	"errors"
	"sync"
	"time"

	"github.com/moffa90/go-blefota/protocol"
	"github.com/moffa90/go-blefota/secure"
	"github.com/moffa90/go-blefota/transport"
)

// ErrConnectRefused is returned by Connect when configured to refuse.
var ErrConnectRefused = errors.New("connection refused")

// Page is a page as received by the device, after decryption.
type Page struct {
	Address uint32
	Data    []byte
}

// Device simulates the device side of the FOTA service.
type Device struct {
	cfg Config

	mu     sync.Mutex
	ev     transport.Events
	closed bool
	wg     sync.WaitGroup

	// secure state
	sessionKey secure.PrivateKey
	hostPub    []byte
	xorKey     []byte

	enabled    bool
	status     protocol.Status
	waitPolls  int
	pageOpen   bool
	pageAddr   uint32
	pageBuf    []byte
	pageEnds   int
	writeCount int

	flash    map[uint32][]byte
	pages    []Page
	metadata []byte
	rebooted bool
	commands []protocol.Command
}

// New creates a simulated device.
func New(opts ...Option) *Device {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Device{
		cfg:    cfg,
		status: protocol.StatusDisabled,
		flash:  make(map[uint32][]byte),
	}

	if cfg.RootPublicKey != nil {
		k, err := cfg.Suite.GenerateKey()
		if err != nil {
			// the stdlib suite only fails when the system RNG does
			panic("sim: session key: " + err.Error())
		}
		d.sessionKey = k
	}

	return d
}

// Secure reports whether the device exposes the public-key characteristic.
func (d *Device) Secure() bool {
	return d.sessionKey != nil
}

// Connect implements transport.Driver.
func (d *Device) Connect(ev transport.Events) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return transport.ErrClosed
	}
	if d.cfg.RefuseConnect {
		return ErrConnectRefused
	}

	d.ev = ev
	status := transport.GattSuccess
	if d.cfg.ConnectStatus != 0 {
		status = d.cfg.ConnectStatus
	}
	d.emit(func(ev transport.Events) { ev.OnConnectionStateChange(status, status == transport.GattSuccess) })
	return nil
}

// RequestMTU implements transport.Driver.
func (d *Device) RequestMTU(mtu int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return err
	}

	if d.cfg.FailMTU {
		d.emit(func(ev transport.Events) { ev.OnMTUChanged(0, transport.GattFailure) })
		return nil
	}

	negotiated := mtu
	if negotiated > d.cfg.MTU {
		negotiated = d.cfg.MTU
	}
	d.emit(func(ev transport.Events) { ev.OnMTUChanged(negotiated, transport.GattSuccess) })
	return nil
}

// DiscoverServices implements transport.Driver.
func (d *Device) DiscoverServices() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return err
	}
	d.emit(func(ev transport.Events) { ev.OnServicesDiscovered(transport.GattSuccess) })
	return nil
}

// Services implements transport.Driver.
func (d *Device) Services() map[string][]string {
	chars := []string{}
	for _, c := range []string{protocol.VersionCharUUID, protocol.ControlCharUUID, protocol.DataCharUUID} {
		if !d.hidden(c) {
			chars = append(chars, c)
		}
	}
	if d.Secure() && !d.hidden(protocol.PublicKeyCharUUID) {
		chars = append(chars, protocol.PublicKeyCharUUID)
	}

	return map[string][]string{
		"00001800-0000-1000-8000-00805f9b34fb": {"00002a00-0000-1000-8000-00805f9b34fb"},
		protocol.ServiceUUID:                   chars,
	}
}

// ReadCharacteristic implements transport.Driver.
func (d *Device) ReadCharacteristic(service, char string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return err
	}

	var value []byte
	switch transport.NormalizeUUID(char) {
	case protocol.VersionCharUUID:
		value = protocol.EncodeProductVersion(d.cfg.Version)
	case protocol.ControlCharUUID:
		value = []byte{byte(d.pollStatus())}
	case protocol.PublicKeyCharUUID:
		if d.sessionKey != nil {
			value = d.sessionKey.PublicBytes()
		}
	default:
		d.emit(func(ev transport.Events) { ev.OnCharacteristicRead(char, nil, transport.GattFailure) })
		return nil
	}

	d.emit(func(ev transport.Events) { ev.OnCharacteristicRead(char, value, transport.GattSuccess) })
	return nil
}

// WriteCharacteristic implements transport.Driver.
func (d *Device) WriteCharacteristic(service, char string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return err
	}

	value = append([]byte(nil), value...)
	d.writeCount++
	if d.cfg.FailWriteAt > 0 && d.writeCount == d.cfg.FailWriteAt {
		d.emit(func(ev transport.Events) { ev.OnCharacteristicWrite(char, transport.GattFailure) })
		return nil
	}

	switch transport.NormalizeUUID(char) {
	case protocol.ControlCharUUID:
		d.handleControl(value)
	case protocol.DataCharUUID:
		d.handleData(value)
	case protocol.PublicKeyCharUUID:
		d.handleKeyExchange(value)
	default:
		d.emit(func(ev transport.Events) { ev.OnCharacteristicWrite(char, transport.GattFailure) })
		return nil
	}

	d.emit(func(ev transport.Events) { ev.OnCharacteristicWrite(char, transport.GattSuccess) })
	return nil
}

// Close implements transport.Driver.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}

// Closed reports whether the host closed the connection.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Disconnect simulates the device dropping the link.
func (d *Device) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emit(func(ev transport.Events) { ev.OnConnectionStateChange(transport.GattSuccess, false) })
}

func (d *Device) check() error {
	if d.closed {
		return transport.ErrClosed
	}
	if d.ev == nil {
		return transport.ErrDisconnected
	}
	return nil
}

func (d *Device) hidden(char string) bool {
	for _, h := range d.cfg.Hidden {
		if transport.NormalizeUUID(h) == char {
			return true
		}
	}
	return false
}

// emit delivers a completion asynchronously. Must be called with d.mu held.
func (d *Device) emit(fn func(transport.Events)) {
	if d.ev == nil || d.closed {
		return
	}
	ev := d.ev
	latency := d.cfg.Latency

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if latency > 0 {
			time.Sleep(latency)
		}
		fn(ev)
	}()
}
