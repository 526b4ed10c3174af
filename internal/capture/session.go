package capture

import (
	"errors"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// FrameCallback is invoked once per captured frame, synchronously on the
// worker goroutine, with a 1-based sequence number. Returning an error
// ends the session early and is reported in Stats.Error.
type FrameCallback func(frame Frame, number int) error

// StatusCallback receives coarse progress messages.
type StatusCallback func(status string)

// graceTimeout bounds how long Start waits for the worker after a
// forced unblock before abandoning it.
const graceTimeout = 2 * time.Second

// Session drives one bounded capture from Start to termination and
// produces one Stats. A Session runs one Start call at a time; Stop may
// be called from any goroutine, including from inside the frame
// callback. PacketsCaptured and ElapsedTime are safe to read while a
// session is in progress.
type Session struct {
	cfg    Config
	engine Engine

	captured  atomic.Int64
	startNano atomic.Int64 // session start, 0 while idle
	stopNano  atomic.Int64 // first Stop request, 0 if none

	mu     sync.Mutex
	handle Handle
}

// NewSession creates a session for one capture bounded by cfg.
func NewSession(cfg Config, engine Engine) *Session {
	return &Session{cfg: cfg, engine: engine}
}

// Start opens the engine handle, streams frames through onFrame and
// blocks until the session ends by count limit, timeout, Stop, source
// exhaustion or callback error. Only open failures return an error; all
// later failures are reported through Stats.
func (s *Session) Start(onFrame FrameCallback, onStatus StatusCallback) (*Stats, error) {
	if onFrame == nil {
		return nil, errors.New("capture: frame callback is required")
	}
	if s.cfg.Timeout <= 0 {
		return nil, errors.New("capture: session timeout must be positive")
	}
	if s.cfg.PacketCount < 0 {
		return nil, errors.New("capture: packet count must be non-negative")
	}

	s.captured.Store(0)
	s.stopNano.Store(0)
	start := time.Now()
	s.startNano.Store(start.UnixNano())
	defer s.startNano.Store(0)

	// Open synchronously so start failures surface before the session
	// is considered running.
	handle, err := s.engine.Open(s.cfg.Interface, s.cfg.DisplayFilter)
	if err != nil {
		return nil, &StartError{Interface: s.cfg.Interface, Err: err}
	}
	s.setHandle(handle)
	defer s.setHandle(nil)

	if onStatus != nil {
		onStatus("Capturing packets...")
	}

	// Buffered so an abandoned worker can still deliver its result
	// without anyone listening.
	done := make(chan string, 1)
	go s.run(handle, onFrame, done)

	deadline := start.Add(s.cfg.Timeout)
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	stats := &Stats{}
	select {
	case msg := <-done:
		if msg != "" {
			stats.Error = msg
		} else if s.stopNano.Load() != 0 {
			stats.StoppedByUser = true
		}
	case <-timer.C:
		// Arbitrate against a near-simultaneous Stop: the earliest
		// request wins. A stop recorded at or before the deadline is a
		// user stop even though the timer fired first.
		if at := s.stopNano.Load(); at != 0 && !time.Unix(0, at).After(deadline) {
			stats.StoppedByUser = true
		} else {
			stats.StoppedByTimeout = true
		}
		s.stopNano.CompareAndSwap(0, time.Now().UnixNano())
		// The worker may be parked inside a blocking read that never
		// observes the stop flag, so force the wait to return too.
		handle.Interrupt()
		select {
		case msg := <-done:
			_ = msg // stop-induced errors are expected noise
		case <-time.After(graceTimeout):
			log.WithField("interface", s.cfg.Interface).
				Warn("capture worker did not exit within grace period, abandoning it")
		}
	}

	stats.PacketsCaptured = int(s.captured.Load())
	stats.ElapsedTime = time.Since(start).Seconds()
	return stats, nil
}

// run is the capture worker. It owns the handle for the session's
// lifetime and guarantees teardown on every exit path.
func (s *Session) run(handle Handle, onFrame FrameCallback, done chan<- string) {
	// libpcap keeps per-thread state for some link modes.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var errMsg string
	defer func() {
		handle.Close()
		done <- errMsg
	}()

	for {
		frame, err := handle.Next()
		if err != nil {
			// Exhaustion is a clean end; errors after a stop request
			// are suppressed.
			if errors.Is(err, io.EOF) || s.stopRequested() {
				return
			}
			errMsg = err.Error()
			return
		}
		if s.stopRequested() {
			return
		}
		n := int(s.captured.Add(1))
		if err := onFrame(frame, n); err != nil {
			errMsg = err.Error()
			return
		}
		// The callback may itself have called Stop.
		if s.stopRequested() {
			return
		}
		if s.cfg.PacketCount > 0 && n >= s.cfg.PacketCount {
			return
		}
	}
}

// Stop requests cooperative termination and forces a blocked read to
// return. It is idempotent and safe from any goroutine; at most one
// more callback invocation can occur after it returns.
func (s *Session) Stop() {
	s.stopNano.CompareAndSwap(0, time.Now().UnixNano())
	if h := s.currentHandle(); h != nil {
		h.Interrupt()
	}
}

// PacketsCaptured reports the number of frames streamed so far.
func (s *Session) PacketsCaptured() int {
	return int(s.captured.Load())
}

// ElapsedTime reports seconds since the session started, 0 when idle.
func (s *Session) ElapsedTime() float64 {
	at := s.startNano.Load()
	if at == 0 {
		return 0
	}
	return time.Since(time.Unix(0, at)).Seconds()
}

// IsCapturing reports whether a session is currently in progress.
func (s *Session) IsCapturing() bool {
	return s.startNano.Load() != 0
}

func (s *Session) stopRequested() bool {
	return s.stopNano.Load() != 0
}

func (s *Session) setHandle(h Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

func (s *Session) currentHandle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}
