package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moffa90/go-blefota/protocol"
	"github.com/moffa90/go-blefota/secure"
	"github.com/moffa90/go-blefota/transport"
)

// State is the bootstrap and run state of an Updater.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateMTUNegotiated
	StateServicesDiscovered
	StateSecured
	StateVersionRead
	StateReady
	StateBurning
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateMTUNegotiated:
		return "mtu negotiated"
	case StateServicesDiscovered:
		return "services discovered"
	case StateSecured:
		return "secured"
	case StateVersionRead:
		return "version read"
	case StateReady:
		return "ready"
	case StateBurning:
		return "burning"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var fotaChars = []string{
	protocol.VersionCharUUID,
	protocol.ControlCharUUID,
	protocol.DataCharUUID,
	protocol.PublicKeyCharUUID,
}

var requiredChars = fotaChars[:3]

// Updater drives one FOTA session with one device.
//
// Prepare and Update must not be called concurrently; Abort may be called from
// any goroutine.
type Updater struct {
	conn   transport.Conn
	config Config
	runID  string

	// cancelled by Abort
	abortCtx  context.Context
	abortFn   context.CancelFunc
	closeOnce sync.Once

	mu        sync.Mutex
	state     State
	session   secure.Session
	handshake *secure.Handshake
	version   *protocol.ProductVersion
	payload   int
	busy      bool
}

// New creates a new Updater for conn with the given options.
//
// Example:
//
//	conn := ble.New(ble.Config{Name: "my-device"})
//	up := updater.New(conn,
//	    updater.WithProgressCallback(progressFunc),
//	    updater.WithTimeout(10*time.Second),
//	)
func New(conn transport.Conn, opts ...Option) *Updater {
	if conn == nil {
		panic("conn cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	abortCtx, abortFn := context.WithCancel(context.Background())

	return &Updater{
		conn:     conn,
		config:   cfg,
		runID:    uuid.NewString(),
		abortCtx: abortCtx,
		abortFn:  abortFn,
		payload:  protocol.PayloadSize(protocol.DefaultMTU),
	}
}

// RunID identifies this updater in logs and metrics.
func (u *Updater) RunID() string {
	return u.runID
}

// State returns the current state.
func (u *Updater) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Version returns the device version read by Prepare, or nil.
func (u *Updater) Version() *protocol.ProductVersion {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.version
}

// Secure reports whether the secure variant was selected.
func (u *Updater) Secure() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.session != nil && u.session.Secure()
}

// PayloadSize returns the data bytes written per chunk.
func (u *Updater) PayloadSize() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.payload
}

// Abort closes the connection immediately. A running Prepare or Update
// returns ErrAborted. Abort is safe to call more than once.
func (u *Updater) Abort() {
	u.abortFn()
	u.disconnect()

	u.mu.Lock()
	if u.state != StateComplete {
		u.state = StateFailed
	}
	u.mu.Unlock()

	u.logInfo("aborted")
}

// Prepare bootstraps the session and returns the device version:
//  1. Connect
//  2. Negotiate the MTU (falling back to the default payload on failure)
//  3. Discover the FOTA characteristics; the public-key characteristic
//     selects the secure variant
//  4. Exchange session keys (secure devices only)
//  5. Read the product version
//
// Any failure closes the connection and leaves the updater in StateFailed.
func (u *Updater) Prepare(ctx context.Context) (*protocol.ProductVersion, error) {
	if err := u.begin("prepare", StateDisconnected); err != nil {
		return nil, err
	}
	defer u.end()

	ctx, cancel := u.runContext(ctx)
	defer cancel()

	variant := "unknown"
	ver, err := u.prepare(ctx, &variant)
	if err != nil {
		err = u.failed(err)
		u.status(err.Error())
		u.logError("prepare failed", "error", err)
		u.observeBootstrap(variant, err)
		u.setState(StateFailed)
		u.disconnect()
		return nil, err
	}

	u.observeBootstrap(variant, nil)
	u.status("version confirmed")
	u.setState(StateReady)

	if cb := u.config.ReadyCallback; cb != nil {
		v := *ver
		u.dispatch(func() { cb(v) })
	}
	return ver, nil
}

func (u *Updater) prepare(ctx context.Context, variant *string) (*protocol.ProductVersion, error) {
	if u.config.DeviceName != "" {
		u.status(fmt.Sprintf("connecting to %s ...", u.config.DeviceName))
	} else {
		u.status("connecting ...")
	}

	if err := u.op(ctx, func(ctx context.Context) error { return u.conn.Connect(ctx) }); err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}
	u.setState(StateConnected)

	var mtu int
	err := u.op(ctx, func(ctx context.Context) error {
		var err error
		mtu, err = u.conn.RequestMTU(ctx, u.config.TargetMTU)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TransportError{Op: "request mtu", Err: err}
		}
		u.logError("mtu negotiation failed, using default", "error", err, "mtu", protocol.DefaultMTU)
		mtu = protocol.DefaultMTU
	}
	u.mu.Lock()
	u.payload = protocol.PayloadSize(min(mtu, u.config.TargetMTU))
	payload := u.payload
	u.mu.Unlock()
	u.logDebug("mtu negotiated", "mtu", mtu, "payload", payload)
	u.setState(StateMTUNegotiated)

	var found []string
	err = u.op(ctx, func(ctx context.Context) error {
		var err error
		found, err = u.conn.Discover(ctx, protocol.ServiceUUID, fotaChars)
		return err
	})
	if err != nil {
		return nil, &TransportError{Op: "discover", Err: err}
	}

	var missing []string
	for _, c := range requiredChars {
		if !transport.Contains(found, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &CharacteristicMissingError{UUIDs: missing}
	}

	isSecure := transport.Contains(found, protocol.PublicKeyCharUUID)
	if cb := u.config.SecureModeCallback; cb != nil {
		u.dispatch(func() { cb(isSecure) })
	}
	if isSecure {
		*variant = "secure"
		u.status("Secure FOTA")
	} else {
		*variant = "unsecure"
		u.status("Unsecure FOTA")
	}
	u.status(protocol.ServiceName + " discovered.")
	u.setState(StateServicesDiscovered)

	session := secure.Plain()
	if isSecure {
		u.status("exchange session key ...")
		h, err := u.exchangeKey(ctx)
		if err != nil {
			return nil, err
		}
		session = h
		u.setState(StateSecured)
	}

	u.status("query current version ...")
	var raw []byte
	err = u.op(ctx, func(ctx context.Context) error {
		var err error
		raw, err = u.conn.Read(ctx, protocol.VersionCharUUID)
		return err
	})
	if err != nil {
		return nil, &TransportError{Op: "query version", Err: err}
	}
	ver, err := protocol.ParseProductVersion(raw)
	if err != nil {
		return nil, &TransportError{Op: "query version", Err: err}
	}

	u.mu.Lock()
	u.session = session
	u.version = ver
	u.state = StateVersionRead
	u.mu.Unlock()

	u.logInfo("device ready",
		"platform", ver.Platform.String(),
		"app", ver.App.String(),
		"secure", isSecure,
		"payload", payload,
	)
	return ver, nil
}

// exchangeKey runs the session key handshake over the public-key characteristic.
func (u *Updater) exchangeKey(ctx context.Context) (*secure.Handshake, error) {
	if u.config.RootKey == nil {
		return nil, &HandshakeError{Reason: "no root key configured"}
	}

	u.mu.Lock()
	h := u.handshake
	u.mu.Unlock()
	if h == nil {
		var err error
		h, err = secure.NewHandshake(u.config.Suite, u.config.RootKey)
		if err != nil {
			return nil, &HandshakeError{Reason: "create session", Err: err}
		}
		u.mu.Lock()
		u.handshake = h
		u.mu.Unlock()
	}

	var peer []byte
	err := u.op(ctx, func(ctx context.Context) error {
		var err error
		peer, err = u.conn.Read(ctx, protocol.PublicKeyCharUUID)
		return err
	})
	if err != nil {
		return nil, &HandshakeError{Reason: "read device key", Err: err}
	}

	payload, err := h.BeginHandshake(peer)
	if err != nil {
		return nil, &HandshakeError{Reason: "device key", Err: err}
	}

	if err := u.write(ctx, protocol.PublicKeyCharUUID, payload); err != nil {
		return nil, &HandshakeError{Reason: "send session key", Err: err}
	}

	st, err := u.readStatus(ctx)
	if err != nil {
		return nil, &HandshakeError{Reason: "read status", Err: err}
	}
	if err := h.CompleteHandshake(st != protocol.StatusError); err != nil {
		return nil, &HandshakeError{Reason: "device answered " + st.String(), Err: err}
	}

	u.logDebug("session key exchanged")
	return h, nil
}

// runContext derives the context of a Prepare or Update call. It is cancelled
// by Abort as well as by the parent.
func (u *Updater) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(u.abortCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// failed maps an error to ErrAborted when the call was interrupted by Abort.
func (u *Updater) failed(err error) error {
	if u.abortCtx.Err() != nil {
		return ErrAborted
	}
	return err
}

// op runs one transport operation under the per-operation timeout.
func (u *Updater) op(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, u.config.Timeout)
	defer cancel()
	return fn(ctx)
}

func (u *Updater) write(ctx context.Context, char string, value []byte) error {
	return u.op(ctx, func(ctx context.Context) error {
		return u.conn.Write(ctx, char, value)
	})
}

// readStatus reads the control characteristic. An empty value reads as
// CommandError.
func (u *Updater) readStatus(ctx context.Context) (protocol.Status, error) {
	var value []byte
	err := u.op(ctx, func(ctx context.Context) error {
		var err error
		value, err = u.conn.Read(ctx, protocol.ControlCharUUID)
		return err
	})
	if err != nil {
		return protocol.StatusError, err
	}
	return protocol.ParseStatus(value), nil
}

// control writes a control command and requires an OK status.
func (u *Updater) control(ctx context.Context, name string, cmd []byte) error {
	if err := u.write(ctx, protocol.ControlCharUUID, cmd); err != nil {
		return err
	}
	st, err := u.readStatus(ctx)
	if err != nil {
		return err
	}
	if st != protocol.StatusOK {
		return &protocol.CommandError{Operation: name, Status: st}
	}
	return nil
}

// begin marks the updater busy if it is in state from.
func (u *Updater) begin(op string, from State) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.abortCtx.Err() != nil {
		return ErrAborted
	}
	if u.busy || u.state != from {
		return &StateError{Op: op, State: u.state}
	}
	u.busy = true
	return nil
}

func (u *Updater) end() {
	u.mu.Lock()
	u.busy = false
	u.mu.Unlock()
}

func (u *Updater) setState(s State) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state == StateFailed && s != StateFailed {
		return
	}
	u.state = s
}

func (u *Updater) disconnect() {
	u.closeOnce.Do(func() {
		if err := u.conn.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
			u.logError("disconnect failed", "error", err)
		}
	})
}

// sleep pauses for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *Updater) dispatch(fn func()) {
	if u.config.Dispatcher != nil {
		u.config.Dispatcher(fn)
		return
	}
	fn()
}

// status reports a status message through the status callback.
func (u *Updater) status(msg string) {
	u.logDebug("status", "message", msg)
	if cb := u.config.StatusCallback; cb != nil {
		u.dispatch(func() { cb(msg) })
	}
}

// reportProgress calls the progress callback if configured.
func (u *Updater) reportProgress(progress Progress) {
	if cb := u.config.ProgressCallback; cb != nil {
		u.dispatch(func() { cb(progress) })
	}
}

func (u *Updater) observeBootstrap(variant string, err error) {
	if u.config.Metrics != nil {
		u.config.Metrics.ObserveBootstrap(variant, Classify(err))
	}
}

// logDebug logs a debug message if a logger is configured.
func (u *Updater) logDebug(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Debug(msg, append(keysAndValues, "run_id", u.runID)...)
	}
}

// logInfo logs an info message if a logger is configured.
func (u *Updater) logInfo(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Info(msg, append(keysAndValues, "run_id", u.runID)...)
	}
}

// logError logs an error message if a logger is configured.
func (u *Updater) logError(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Error(msg, append(keysAndValues, "run_id", u.runID)...)
	}
}
