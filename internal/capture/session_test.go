package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeFrame is a minimal Frame for session tests; the session never
// inspects frame contents.
type fakeFrame struct{ n int }

func (f *fakeFrame) Timestamp() time.Time                { return time.Unix(int64(f.n), 0) }
func (f *fakeFrame) Length() int                         { return 60 }
func (f *fakeFrame) Layers() []string                    { return []string{"eth"} }
func (f *fakeFrame) HighestLayer() string                { return "ETH" }
func (f *fakeFrame) HasLayer(string) bool                { return false }
func (f *fakeFrame) Field(string, string) (string, bool) { return "", false }
func (f *fakeFrame) Raw() ([]byte, bool)                 { return nil, false }

// fakeHandle delivers frames from a channel. A closed channel models
// source exhaustion; Interrupt unblocks a pending Next, matching the
// forced-unblock contract.
type fakeHandle struct {
	frames        chan Frame
	interrupt     chan struct{}
	interruptOnce sync.Once
	closeCount    atomic.Int32
	nextErr       error
}

func (h *fakeHandle) Next() (Frame, error) {
	select {
	case <-h.interrupt:
		return nil, io.EOF
	default:
	}
	if h.nextErr != nil {
		return nil, h.nextErr
	}
	select {
	case f, ok := <-h.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-h.interrupt:
		return nil, io.EOF
	}
}

func (h *fakeHandle) Interrupt() {
	h.interruptOnce.Do(func() { close(h.interrupt) })
}

func (h *fakeHandle) Close() {
	h.closeCount.Add(1)
	h.Interrupt()
}

type fakeEngine struct {
	handle    *fakeHandle
	openErr   error
	gotIface  string
	gotFilter string
}

func (e *fakeEngine) Open(iface, filter string) (Handle, error) {
	e.gotIface = iface
	e.gotFilter = filter
	if e.openErr != nil {
		return nil, e.openErr
	}
	return e.handle, nil
}

// newFakeEngine buffers n frames. When exhaust is true the source ends
// after them; otherwise the next read blocks until interrupted.
func newFakeEngine(n int, exhaust bool) *fakeEngine {
	h := &fakeHandle{
		frames:    make(chan Frame, n),
		interrupt: make(chan struct{}),
	}
	for i := 1; i <= n; i++ {
		h.frames <- &fakeFrame{n: i}
	}
	if exhaust {
		close(h.frames)
	}
	return &fakeEngine{handle: h}
}

func TestSessionCountLimit(t *testing.T) {
	// 1. Ten frames available, limit at five
	engine := newFakeEngine(10, false)
	session := NewSession(Config{Interface: "fake0", PacketCount: 5, Timeout: 30 * time.Second}, engine)

	var numbers []int
	stats, err := session.Start(func(frame Frame, number int) error {
		numbers = append(numbers, number)
		return nil
	}, nil)
	require.NoError(t, err)

	// 2. The count limit governs, not the timeout
	require.Equal(t, 5, stats.PacketsCaptured)
	require.False(t, stats.StoppedByTimeout)
	require.False(t, stats.StoppedByUser)
	require.Empty(t, stats.Error)

	// 3. Sequence numbers are exactly 1..N with no gaps
	require.Equal(t, []int{1, 2, 3, 4, 5}, numbers)

	// 4. Teardown ran exactly once
	require.Equal(t, int32(1), engine.handle.closeCount.Load())
}

func TestSessionSourceExhausted(t *testing.T) {
	engine := newFakeEngine(3, true)
	session := NewSession(Config{Interface: "fake0", Timeout: 30 * time.Second}, engine)

	stats, err := session.Start(func(Frame, int) error { return nil }, nil)
	require.NoError(t, err)

	require.Equal(t, 3, stats.PacketsCaptured)
	require.False(t, stats.StoppedByUser)
	require.False(t, stats.StoppedByTimeout)
	require.Empty(t, stats.Error)
}

func TestSessionTimeout(t *testing.T) {
	// A source that never produces a frame and never ends.
	engine := newFakeEngine(0, false)
	session := NewSession(Config{Interface: "fake0", Timeout: 100 * time.Millisecond}, engine)

	start := time.Now()
	stats, err := session.Start(func(Frame, int) error { return nil }, nil)
	require.NoError(t, err)

	require.True(t, stats.StoppedByTimeout)
	require.False(t, stats.StoppedByUser)
	require.Equal(t, 0, stats.PacketsCaptured)
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	// The forced unblock must have released the worker well inside the
	// grace period.
	require.Less(t, time.Since(start), graceTimeout)
	require.Equal(t, int32(1), engine.handle.closeCount.Load())
}

func TestSessionStopFromCallback(t *testing.T) {
	engine := newFakeEngine(10, false)
	session := NewSession(Config{Interface: "fake0", Timeout: 30 * time.Second}, engine)

	stats, err := session.Start(func(frame Frame, number int) error {
		if number == 3 {
			session.Stop()
		}
		return nil
	}, nil)
	require.NoError(t, err)

	require.Equal(t, 3, stats.PacketsCaptured)
	require.True(t, stats.StoppedByUser)
	require.False(t, stats.StoppedByTimeout)
	require.Less(t, stats.ElapsedTime, 30.0)
}

func TestSessionStopFromAnotherGoroutine(t *testing.T) {
	// 1. A source with one frame, then a blocking read
	engine := newFakeEngine(1, false)
	session := NewSession(Config{Interface: "fake0", Timeout: 30 * time.Second}, engine)

	delivered := make(chan struct{})
	go func() {
		<-delivered
		session.Stop()
	}()

	stats, err := session.Start(func(Frame, int) error {
		close(delivered)
		return nil
	}, nil)
	require.NoError(t, err)

	// 2. At most one more callback can run after Stop; here none can,
	// so exactly the delivered frame is counted
	require.Equal(t, 1, stats.PacketsCaptured)
	require.True(t, stats.StoppedByUser)
	require.False(t, stats.StoppedByTimeout)
}

func TestSessionStopIdempotent(t *testing.T) {
	engine := newFakeEngine(5, false)
	session := NewSession(Config{Interface: "fake0", PacketCount: 2, Timeout: 30 * time.Second}, engine)

	stats, err := session.Start(func(Frame, int) error { return nil }, nil)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PacketsCaptured)

	// Stop after the session already ended is a no-op.
	session.Stop()
	session.Stop()
	require.Equal(t, 2, session.PacketsCaptured())
}

func TestSessionCallbackError(t *testing.T) {
	engine := newFakeEngine(5, false)
	session := NewSession(Config{Interface: "fake0", Timeout: 30 * time.Second}, engine)

	stats, err := session.Start(func(frame Frame, number int) error {
		if number == 2 {
			return errors.New("sink exploded")
		}
		return nil
	}, nil)
	require.NoError(t, err)

	// The failing frame was already counted; the session ends early.
	require.Equal(t, 2, stats.PacketsCaptured)
	require.Equal(t, "sink exploded", stats.Error)
	require.False(t, stats.StoppedByUser)
	require.False(t, stats.StoppedByTimeout)
	require.Equal(t, int32(1), engine.handle.closeCount.Load())
}

func TestSessionReadError(t *testing.T) {
	engine := newFakeEngine(0, false)
	engine.handle.nextErr = fmt.Errorf("device vanished")
	session := NewSession(Config{Interface: "fake0", Timeout: 30 * time.Second}, engine)

	stats, err := session.Start(func(Frame, int) error { return nil }, nil)
	require.NoError(t, err)
	require.Equal(t, "device vanished", stats.Error)
	require.Equal(t, 0, stats.PacketsCaptured)
}

func TestSessionOpenError(t *testing.T) {
	engine := &fakeEngine{openErr: errors.New("no such device")}
	session := NewSession(Config{Interface: "bogus0", DisplayFilter: "tcp", Timeout: 30 * time.Second}, engine)

	stats, err := session.Start(func(Frame, int) error { return nil }, nil)
	require.Nil(t, stats)
	require.Error(t, err)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	require.Equal(t, "bogus0", startErr.Interface)

	// The interface and filter were handed through unparsed.
	require.Equal(t, "bogus0", engine.gotIface)
	require.Equal(t, "tcp", engine.gotFilter)
}

func TestSessionValidation(t *testing.T) {
	engine := newFakeEngine(0, true)

	_, err := NewSession(Config{Timeout: time.Second}, engine).Start(nil, nil)
	require.Error(t, err)

	_, err = NewSession(Config{}, engine).Start(func(Frame, int) error { return nil }, nil)
	require.Error(t, err)

	_, err = NewSession(Config{Timeout: time.Second, PacketCount: -1}, engine).Start(func(Frame, int) error { return nil }, nil)
	require.Error(t, err)
}

func TestSessionLiveAccessors(t *testing.T) {
	engine := newFakeEngine(3, true)
	session := NewSession(Config{Interface: "fake0", Timeout: 30 * time.Second}, engine)

	require.False(t, session.IsCapturing())
	require.Equal(t, 0.0, session.ElapsedTime())

	var statusSeen string
	stats, err := session.Start(func(frame Frame, number int) error {
		// Readers may poll these while the session runs.
		require.Equal(t, number, session.PacketsCaptured())
		require.True(t, session.IsCapturing())
		require.Greater(t, session.ElapsedTime(), 0.0)
		return nil
	}, func(status string) {
		statusSeen = status
	})
	require.NoError(t, err)

	require.Equal(t, "Capturing packets...", statusSeen)
	require.Equal(t, 3, stats.PacketsCaptured)
	require.False(t, session.IsCapturing())
	require.Greater(t, stats.ElapsedTime, 0.0)
}

func TestSessionReusableAfterRun(t *testing.T) {
	// A fresh engine per run; the session resets its counters.
	engine := newFakeEngine(2, true)
	session := NewSession(Config{Interface: "fake0", Timeout: 30 * time.Second}, engine)

	stats, err := session.Start(func(Frame, int) error { return nil }, nil)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PacketsCaptured)

	engine.handle = &fakeHandle{frames: make(chan Frame, 1), interrupt: make(chan struct{})}
	engine.handle.frames <- &fakeFrame{n: 1}
	close(engine.handle.frames)

	stats, err = session.Start(func(Frame, int) error { return nil }, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PacketsCaptured)
	require.False(t, stats.StoppedByUser)
}
