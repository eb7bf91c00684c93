package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testService = "0000aaaa-0000-1000-8000-00805f9b34fb"
	testCharA   = "0000aaa1-0000-1000-8000-00805f9b34fb"
	testCharB   = "0000aaa2-0000-1000-8000-00805f9b34fb"
)

// fakeDriver answers each request with a scripted completion.
type fakeDriver struct {
	mu      sync.Mutex
	ev      Events
	closed  bool
	silent  bool // never complete requests
	onRead  func(ev Events, char string)
	onWrite func(ev Events, char string, value []byte)
	mtu     int
	writes  [][]byte
}

func (f *fakeDriver) Connect(ev Events) error {
	f.mu.Lock()
	f.ev = ev
	f.mu.Unlock()
	go ev.OnConnectionStateChange(GattSuccess, true)
	return nil
}

func (f *fakeDriver) RequestMTU(mtu int) error {
	if f.silent {
		return nil
	}
	go f.ev.OnMTUChanged(f.mtu, GattSuccess)
	return nil
}

func (f *fakeDriver) DiscoverServices() error {
	go f.ev.OnServicesDiscovered(GattSuccess)
	return nil
}

func (f *fakeDriver) Services() map[string][]string {
	return map[string][]string{
		"0000180a-0000-1000-8000-00805f9b34fb": {testCharB},
		testService:                            {testCharA, testCharB},
	}
}

func (f *fakeDriver) ReadCharacteristic(service, char string) error {
	if f.silent {
		return nil
	}
	if f.onRead != nil {
		go f.onRead(f.ev, char)
		return nil
	}
	go f.ev.OnCharacteristicRead(char, []byte{0x01}, GattSuccess)
	return nil
}

func (f *fakeDriver) WriteCharacteristic(service, char string, value []byte) error {
	f.mu.Lock()
	f.writes = append(f.writes, value)
	f.mu.Unlock()
	if f.silent {
		return nil
	}
	if f.onWrite != nil {
		go f.onWrite(f.ev, char, value)
		return nil
	}
	go f.ev.OnCharacteristicWrite(char, GattSuccess)
	return nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func connectedLink(t *testing.T, d *fakeDriver) *Link {
	t.Helper()
	l := NewLink(d)
	ctx := context.Background()
	require.NoError(t, l.Connect(ctx))
	found, err := l.Discover(ctx, testService, []string{testCharA, testCharB})
	require.NoError(t, err)
	require.Len(t, found, 2)
	return l
}

func TestLinkSequentialOperations(t *testing.T) {
	d := &fakeDriver{mtu: 247}
	l := connectedLink(t, d)
	ctx := context.Background()

	mtu, err := l.RequestMTU(ctx, 512)
	require.NoError(t, err)
	assert.Equal(t, 247, mtu)

	v, err := l.Read(ctx, testCharA)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, v)

	require.NoError(t, l.Write(ctx, testCharB, []byte{0xAA}))
	assert.Equal(t, [][]byte{{0xAA}}, d.writes)
}

func TestLinkDiscoverSubset(t *testing.T) {
	l := NewLink(&fakeDriver{})
	ctx := context.Background()
	require.NoError(t, l.Connect(ctx))

	missing := "0000aaa9-0000-1000-8000-00805f9b34fb"
	found, err := l.Discover(ctx, testService, []string{testCharA, missing})
	require.NoError(t, err)
	assert.Equal(t, []string{testCharA}, found)

	_, err = l.Read(ctx, missing)
	assert.ErrorIs(t, err, ErrUnknownCharacteristic)
}

func TestLinkRequiresDiscovery(t *testing.T) {
	l := NewLink(&fakeDriver{})
	require.NoError(t, l.Connect(context.Background()))

	_, err := l.Read(context.Background(), testCharA)
	assert.ErrorIs(t, err, ErrNotDiscovered)
}

func TestLinkDiscardsMismatchedCompletions(t *testing.T) {
	d := &fakeDriver{
		onRead: func(ev Events, char string) {
			ev.OnCharacteristicChanged(char, []byte{0xEE})
			ev.OnCharacteristicRead(testCharB, []byte{0xBB}, GattSuccess)
			ev.OnCharacteristicRead(char, []byte{0xAA}, GattSuccess)
		},
	}
	l := connectedLink(t, d)

	v, err := l.Read(context.Background(), testCharA)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, v)
}

func TestLinkDrainsStaleEvents(t *testing.T) {
	d := &fakeDriver{}
	l := connectedLink(t, d)

	// a late completion left over from an abandoned request
	l.OnCharacteristicRead(testCharA, []byte{0x99}, GattSuccess)

	d.onRead = func(ev Events, char string) {
		ev.OnCharacteristicRead(char, []byte{0x42}, GattSuccess)
	}
	v, err := l.Read(context.Background(), testCharA)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42}, v)
}

func TestLinkGattFailure(t *testing.T) {
	d := &fakeDriver{
		onWrite: func(ev Events, char string, value []byte) {
			ev.OnCharacteristicWrite(char, GattFailure)
		},
	}
	l := connectedLink(t, d)

	err := l.Write(context.Background(), testCharA, []byte{1})
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "write", opErr.Op)
	assert.Equal(t, GattFailure, opErr.Status)
}

func TestLinkContextCancel(t *testing.T) {
	d := &fakeDriver{}
	l := connectedLink(t, d)
	d.silent = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.Read(ctx, testCharA)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// lateWrites completes the first write after delay and answers later writes
// with next.
func lateWrites(delay time.Duration, next func(ev Events, char string)) func(Events, string, []byte) {
	var calls atomic.Int32
	return func(ev Events, char string, value []byte) {
		if calls.Add(1) == 1 {
			time.Sleep(delay)
			ev.OnCharacteristicWrite(char, GattSuccess)
			return
		}
		next(ev, char)
	}
}

func TestLinkLateCompletionNotTakenByNextRequest(t *testing.T) {
	d := &fakeDriver{}
	l := connectedLink(t, d)
	// the second write is never acknowledged
	d.onWrite = lateWrites(50*time.Millisecond, func(Events, string) {})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Write(ctx, testCharA, []byte{1})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel2()
	err = l.Write(ctx2, testCharA, []byte{2})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "late completion of the first write was accepted")

	d.mu.Lock()
	assert.Len(t, d.writes, 2)
	d.mu.Unlock()
}

func TestLinkRequestAfterLateCompletion(t *testing.T) {
	d := &fakeDriver{}
	l := connectedLink(t, d)
	d.onWrite = lateWrites(30*time.Millisecond, func(ev Events, char string) {
		ev.OnCharacteristicWrite(char, GattFailure)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Write(ctx, testCharA, []byte{1}), context.DeadlineExceeded)

	err := l.Write(context.Background(), testCharA, []byte{2})
	var opErr *OpError
	require.ErrorAs(t, err, &opErr, "second write must get its own completion")
	assert.Equal(t, GattFailure, opErr.Status)
}

func TestLinkAbandonedReadSettlesBeforeNextRead(t *testing.T) {
	d := &fakeDriver{}
	l := connectedLink(t, d)

	var calls atomic.Int32
	d.onRead = func(ev Events, char string) {
		if calls.Add(1) == 1 {
			time.Sleep(30 * time.Millisecond)
			ev.OnCharacteristicRead(char, []byte{0x01}, GattSuccess)
			return
		}
		ev.OnCharacteristicRead(char, []byte{0x02}, GattSuccess)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := l.Read(ctx, testCharA)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	v, err := l.Read(context.Background(), testCharA)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, v)
}

func TestLinkReconnectClearsAbandonedRequest(t *testing.T) {
	d := &fakeDriver{silent: true}
	l := connectedLink(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Write(ctx, testCharA, []byte{1}), context.DeadlineExceeded)

	d.silent = false
	require.NoError(t, l.Connect(context.Background()))

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, l.Write(ctx2, testCharA, []byte{2}))
}

func TestLinkCloseUnblocksPendingRequest(t *testing.T) {
	d := &fakeDriver{}
	l := connectedLink(t, d)
	d.silent = true

	done := make(chan error, 1)
	go func() {
		done <- l.Write(context.Background(), testCharA, []byte{1})
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close(), "close is idempotent")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("pending write did not return after Close")
	}
	assert.True(t, d.closed)

	_, err := l.RequestMTU(context.Background(), 512)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLinkPeerDisconnect(t *testing.T) {
	d := &fakeDriver{}
	l := connectedLink(t, d)
	d.silent = true

	done := make(chan error, 1)
	go func() {
		_, err := l.Read(context.Background(), testCharA)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	l.OnConnectionStateChange(GattSuccess, false)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("pending read did not return after disconnect")
	}
}

func TestLinkQueueOverflowDrops(t *testing.T) {
	l := NewLink(&fakeDriver{})
	for i := 0; i < EventQueueSize*3; i++ {
		l.OnMTUChanged(i, GattSuccess)
	}
	assert.Len(t, l.mtuCh, EventQueueSize)
}

func TestOpErrorFormatting(t *testing.T) {
	err := &OpError{Op: "read", Char: testCharA, Status: 5, Err: errors.New("boom")}
	assert.Equal(t, "read "+testCharA+": gatt status 5: boom", err.Error())
	assert.ErrorIs(t, err, err.Err)

	assert.True(t, Contains([]string{"ABC"}, "abc"))
	assert.False(t, Contains(nil, "abc"))
}
