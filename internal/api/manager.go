package api

import (
	"fmt"
	"sync"

	"PacketLens/internal/capture"
	"PacketLens/internal/model"
	"PacketLens/internal/normalize"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrSessionNotFound is returned for operations on unknown session ids.
var ErrSessionNotFound = fmt.Errorf("capture session not found")

// captureSession pairs one capture.Session with the records it has
// produced. The buffer belongs to the API layer; the core retains no
// record history.
type captureSession struct {
	id      string
	iface   string
	session *capture.Session

	mu      sync.RWMutex
	records []model.PacketRecord
	stats   *capture.Stats
	done    chan struct{}
}

func (cs *captureSession) append(rec *model.PacketRecord) {
	cs.mu.Lock()
	cs.records = append(cs.records, *rec)
	cs.mu.Unlock()
}

func (cs *captureSession) snapshot(offset, limit int) ([]model.PacketRecord, int) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	total := len(cs.records)
	if offset < 0 || offset > total {
		return []model.PacketRecord{}, total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]model.PacketRecord, end-offset)
	copy(out, cs.records[offset:end])
	return out, total
}

func (cs *captureSession) clear() {
	cs.mu.Lock()
	cs.records = nil
	cs.mu.Unlock()
}

func (cs *captureSession) finalStats() *capture.Stats {
	select {
	case <-cs.done:
		cs.mu.RLock()
		defer cs.mu.RUnlock()
		return cs.stats
	default:
		return nil
	}
}

// Manager owns the capture sessions created through the API. Each
// request constructs an explicit session object addressed by id; there
// is no process-wide current-capture state.
type Manager struct {
	engine capture.Engine

	mu       sync.RWMutex
	sessions map[string]*captureSession
}

// NewManager creates a manager that opens captures through the given
// engine.
func NewManager(engine capture.Engine) *Manager {
	return &Manager{engine: engine, sessions: make(map[string]*captureSession)}
}

// StartCapture creates a session and starts it in the background. The
// call returns once the capture is actually running; a failure to open
// the interface or filter is returned synchronously and no session is
// retained.
func (m *Manager) StartCapture(cfg capture.Config) (string, error) {
	cs := &captureSession{
		id:      uuid.NewString(),
		iface:   cfg.Interface,
		session: capture.NewSession(cfg, m.engine),
		done:    make(chan struct{}),
	}

	// The status callback fires after the engine handle opens, so the
	// first message on this channel tells us whether the open succeeded.
	started := make(chan error, 1)
	go func() {
		stats, err := cs.session.Start(func(frame capture.Frame, number int) error {
			cs.append(normalize.Normalize(frame, number))
			return nil
		}, func(string) {
			started <- nil
		})
		if err != nil {
			started <- err
			close(cs.done)
			return
		}
		cs.mu.Lock()
		cs.stats = stats
		cs.mu.Unlock()
		close(cs.done)
		log.WithFields(log.Fields{
			"session": cs.id,
			"packets": stats.PacketsCaptured,
		}).Info("capture session finished")
	}()

	if err := <-started; err != nil {
		return "", err
	}

	m.mu.Lock()
	m.sessions[cs.id] = cs
	m.mu.Unlock()
	return cs.id, nil
}

// StopCapture requests cooperative termination of a session.
func (m *Manager) StopCapture(id string) (int, error) {
	cs, err := m.get(id)
	if err != nil {
		return 0, err
	}
	cs.session.Stop()
	return cs.session.PacketsCaptured(), nil
}

// SessionStatus reports the live progress of a session and, once it
// has finished, its final statistics.
type SessionStatus struct {
	ID          string         `json:"id"`
	Interface   string         `json:"interface"`
	IsCapturing bool           `json:"is_capturing"`
	PacketCount int            `json:"packet_count"`
	ElapsedTime float64        `json:"elapsed_time"`
	Stats       *capture.Stats `json:"stats"`
}

// Status returns the current status of a session.
func (m *Manager) Status(id string) (*SessionStatus, error) {
	cs, err := m.get(id)
	if err != nil {
		return nil, err
	}
	status := &SessionStatus{
		ID:          cs.id,
		Interface:   cs.iface,
		IsCapturing: cs.session.IsCapturing(),
		PacketCount: cs.session.PacketsCaptured(),
		ElapsedTime: cs.session.ElapsedTime(),
		Stats:       cs.finalStats(),
	}
	return status, nil
}

// Records returns a copy of a session's records with pagination.
func (m *Manager) Records(id string, offset, limit int) ([]model.PacketRecord, int, error) {
	cs, err := m.get(id)
	if err != nil {
		return nil, 0, err
	}
	records, total := cs.snapshot(offset, limit)
	return records, total, nil
}

// ClearRecords drops a session's record buffer.
func (m *Manager) ClearRecords(id string) error {
	cs, err := m.get(id)
	if err != nil {
		return err
	}
	cs.clear()
	return nil
}

// StopAll stops every known session; used at server shutdown.
func (m *Manager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cs := range m.sessions {
		cs.session.Stop()
	}
}

func (m *Manager) get(id string) (*captureSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cs, nil
}
