package transport

import (
	"context"
	"sync"
)

// EventQueueSize is the capacity of each per-category event queue.
// Events arriving while a queue is full are dropped.
const EventQueueSize = 10

type connEvent struct {
	status    int
	connected bool
}

type mtuEvent struct {
	mtu    int
	status int
}

type readEvent struct {
	char   string
	value  []byte
	status int
}

type writeEvent struct {
	char   string
	status int
}

// pending is a request whose caller gave up before its completion arrived.
type pending struct {
	due  bool
	char string
}

// Link adapts a callback-style Driver into a sequential Conn.
//
// Each event category has its own bounded queue. Before a request is issued the
// matching queue is drained, so a late completion of an earlier request can
// never satisfy a new one. Completions for other characteristics are discarded
// while waiting. Notifications are ignored.
//
// A request abandoned on context expiry is still outstanding at the driver.
// The next request of the same kind first waits for that late completion and
// discards it, so at most one request is outstanding and a completion is only
// ever taken by the request that caused it.
type Link struct {
	driver Driver

	// serializes requests: at most one outstanding
	mu sync.Mutex

	// guarded by mu
	discPending  pending
	mtuPending   pending
	readPending  pending
	writePending pending

	connCh  chan connEvent
	discCh  chan int
	mtuCh   chan mtuEvent
	readCh  chan readEvent
	writeCh chan writeEvent

	closed    chan struct{}
	closeOnce sync.Once
	lost      chan struct{}
	lostOnce  sync.Once

	stateMu   sync.Mutex
	connected bool
	service   string
	chars     []string
}

// NewLink wraps driver. The driver must not be shared with another Link.
func NewLink(driver Driver) *Link {
	if driver == nil {
		panic("driver cannot be nil")
	}

	return &Link{
		driver:  driver,
		connCh:  make(chan connEvent, EventQueueSize),
		discCh:  make(chan int, EventQueueSize),
		mtuCh:   make(chan mtuEvent, EventQueueSize),
		readCh:  make(chan readEvent, EventQueueSize),
		writeCh: make(chan writeEvent, EventQueueSize),
		closed:  make(chan struct{}),
		lost:    make(chan struct{}),
	}
}

// OnConnectionStateChange implements Events.
func (l *Link) OnConnectionStateChange(status int, connected bool) {
	l.stateMu.Lock()
	wasConnected := l.connected
	l.connected = connected && status == GattSuccess
	l.stateMu.Unlock()

	if wasConnected && !connected {
		l.lostOnce.Do(func() { close(l.lost) })
	}
	trySend(l.connCh, connEvent{status: status, connected: connected})
}

// OnServicesDiscovered implements Events.
func (l *Link) OnServicesDiscovered(status int) {
	trySend(l.discCh, status)
}

// OnMTUChanged implements Events.
func (l *Link) OnMTUChanged(mtu, status int) {
	trySend(l.mtuCh, mtuEvent{mtu: mtu, status: status})
}

// OnCharacteristicRead implements Events.
func (l *Link) OnCharacteristicRead(char string, value []byte, status int) {
	trySend(l.readCh, readEvent{char: NormalizeUUID(char), value: append([]byte(nil), value...), status: status})
}

// OnCharacteristicWrite implements Events.
func (l *Link) OnCharacteristicWrite(char string, status int) {
	trySend(l.writeCh, writeEvent{char: NormalizeUUID(char), status: status})
}

// OnCharacteristicChanged implements Events. Notifications are not used.
func (l *Link) OnCharacteristicChanged(string, []byte) {}

// Connect implements Conn.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.usable(); err != nil {
		return &OpError{Op: "connect", Err: err}
	}

	drain(l.connCh)
	if err := l.driver.Connect(l); err != nil {
		return &OpError{Op: "connect", Err: err}
	}

	for {
		ev, err := await(ctx, l, l.connCh, false)
		if err != nil {
			return &OpError{Op: "connect", Err: err}
		}
		if ev.status != GattSuccess {
			return &OpError{Op: "connect", Status: ev.status}
		}
		if ev.connected {
			// a fresh connection has nothing outstanding
			l.discPending, l.mtuPending = pending{}, pending{}
			l.readPending, l.writePending = pending{}, pending{}
			return nil
		}
	}
}

// RequestMTU implements Conn.
func (l *Link) RequestMTU(ctx context.Context, mtu int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.usable(); err != nil {
		return 0, &OpError{Op: "request mtu", Err: err}
	}

	if err := settle(ctx, l, l.mtuCh, &l.mtuPending, func(mtuEvent) bool { return true }); err != nil {
		return 0, &OpError{Op: "request mtu", Err: err}
	}
	drain(l.mtuCh)
	if err := l.driver.RequestMTU(mtu); err != nil {
		return 0, &OpError{Op: "request mtu", Err: err}
	}

	ev, err := await(ctx, l, l.mtuCh, true)
	if err != nil {
		abandon(ctx, &l.mtuPending, "")
		return 0, &OpError{Op: "request mtu", Err: err}
	}
	if ev.status != GattSuccess {
		return 0, &OpError{Op: "request mtu", Status: ev.status}
	}
	return ev.mtu, nil
}

// Discover implements Conn.
func (l *Link) Discover(ctx context.Context, service string, chars []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.usable(); err != nil {
		return nil, &OpError{Op: "discover", Err: err}
	}

	if err := settle(ctx, l, l.discCh, &l.discPending, func(int) bool { return true }); err != nil {
		return nil, &OpError{Op: "discover", Err: err}
	}
	drain(l.discCh)
	if err := l.driver.DiscoverServices(); err != nil {
		return nil, &OpError{Op: "discover", Err: err}
	}

	status, err := await(ctx, l, l.discCh, true)
	if err != nil {
		abandon(ctx, &l.discPending, "")
		return nil, &OpError{Op: "discover", Err: err}
	}
	if status != GattSuccess {
		return nil, &OpError{Op: "discover", Status: status}
	}

	var exposed []string
	for svc, list := range l.driver.Services() {
		if NormalizeUUID(svc) == NormalizeUUID(service) {
			exposed = list
			break
		}
	}

	found := make([]string, 0, len(chars))
	for _, c := range chars {
		if Contains(exposed, c) {
			found = append(found, NormalizeUUID(c))
		}
	}

	l.stateMu.Lock()
	l.service = NormalizeUUID(service)
	l.chars = found
	l.stateMu.Unlock()

	return found, nil
}

// Read implements Conn.
func (l *Link) Read(ctx context.Context, char string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	char = NormalizeUUID(char)
	service, err := l.target(char)
	if err != nil {
		return nil, &OpError{Op: "read", Char: char, Err: err}
	}

	stale := l.readPending.char
	if err := settle(ctx, l, l.readCh, &l.readPending, func(ev readEvent) bool { return ev.char == stale }); err != nil {
		return nil, &OpError{Op: "read", Char: char, Err: err}
	}
	drain(l.readCh)
	if err := l.driver.ReadCharacteristic(service, char); err != nil {
		return nil, &OpError{Op: "read", Char: char, Err: err}
	}

	for {
		ev, err := await(ctx, l, l.readCh, true)
		if err != nil {
			abandon(ctx, &l.readPending, char)
			return nil, &OpError{Op: "read", Char: char, Err: err}
		}
		if ev.char != char {
			continue
		}
		if ev.status != GattSuccess {
			return nil, &OpError{Op: "read", Char: char, Status: ev.status}
		}
		return ev.value, nil
	}
}

// Write implements Conn.
func (l *Link) Write(ctx context.Context, char string, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	char = NormalizeUUID(char)
	service, err := l.target(char)
	if err != nil {
		return &OpError{Op: "write", Char: char, Err: err}
	}

	stale := l.writePending.char
	if err := settle(ctx, l, l.writeCh, &l.writePending, func(ev writeEvent) bool { return ev.char == stale }); err != nil {
		return &OpError{Op: "write", Char: char, Err: err}
	}
	drain(l.writeCh)
	if err := l.driver.WriteCharacteristic(service, char, value); err != nil {
		return &OpError{Op: "write", Char: char, Err: err}
	}

	for {
		ev, err := await(ctx, l, l.writeCh, true)
		if err != nil {
			abandon(ctx, &l.writePending, char)
			return &OpError{Op: "write", Char: char, Err: err}
		}
		if ev.char != char {
			continue
		}
		if ev.status != GattSuccess {
			return &OpError{Op: "write", Char: char, Status: ev.status}
		}
		return nil
	}
}

// Close implements Conn. It is safe to call more than once and from any
// goroutine; a request in flight returns ErrClosed.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.driver.Close()
	})
	return err
}

func (l *Link) usable() error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
		return nil
	}
}

func (l *Link) target(char string) (string, error) {
	if err := l.usable(); err != nil {
		return "", err
	}

	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if l.service == "" {
		return "", ErrNotDiscovered
	}
	if !l.connected {
		return "", ErrDisconnected
	}
	if !Contains(l.chars, char) {
		return "", ErrUnknownCharacteristic
	}
	return l.service, nil
}

// await blocks for the next event on ch. When watchLost is set a peer
// disconnect also ends the wait.
func await[T any](ctx context.Context, l *Link, ch <-chan T, watchLost bool) (T, error) {
	var zero T

	lost := l.lost
	if !watchLost {
		lost = nil
	}

	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-l.closed:
		return zero, ErrClosed
	case <-lost:
		return zero, ErrDisconnected
	}
}

// settle consumes the late completion of an abandoned request, if any.
func settle[T any](ctx context.Context, l *Link, ch <-chan T, p *pending, match func(T) bool) error {
	for p.due {
		ev, err := await(ctx, l, ch, true)
		if err != nil {
			return err
		}
		if match(ev) {
			*p = pending{}
		}
	}
	return nil
}

// abandon marks a request given up on context expiry as still due.
func abandon(ctx context.Context, p *pending, char string) {
	if ctx.Err() != nil {
		*p = pending{due: true, char: char}
	}
}

func trySend[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
