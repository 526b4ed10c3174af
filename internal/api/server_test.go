package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PacketLens/internal/capture"
	"PacketLens/internal/model"
)

type fakeFrame struct {
	seq int
}

func (f *fakeFrame) Timestamp() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
func (f *fakeFrame) Length() int          { return 60 + f.seq }
func (f *fakeFrame) Layers() []string     { return []string{"eth", "ip", "tcp"} }
func (f *fakeFrame) HighestLayer() string { return "TCP" }
func (f *fakeFrame) HasLayer(name string) bool {
	return name == "eth" || name == "ip" || name == "tcp"
}
func (f *fakeFrame) Field(layer, name string) (string, bool) {
	switch layer + "." + name {
	case "ip.src":
		return "192.168.1.10", true
	case "ip.dst":
		return "10.0.0.1", true
	case "tcp.srcport":
		return fmt.Sprintf("%d", 50000+f.seq), true
	case "tcp.dstport":
		return "443", true
	}
	return "", false
}
func (f *fakeFrame) Raw() ([]byte, bool) { return nil, false }

type fakeHandle struct {
	frames        chan capture.Frame
	interrupt     chan struct{}
	interruptOnce sync.Once
}

func (h *fakeHandle) Next() (capture.Frame, error) {
	select {
	case <-h.interrupt:
		return nil, io.EOF
	case frame, ok := <-h.frames:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	}
}

func (h *fakeHandle) Interrupt() {
	h.interruptOnce.Do(func() { close(h.interrupt) })
}

func (h *fakeHandle) Close() { h.Interrupt() }

type fakeEngine struct {
	handle  *fakeHandle
	openErr error
}

func (e *fakeEngine) Open(iface, filter string) (capture.Handle, error) {
	if e.openErr != nil {
		return nil, e.openErr
	}
	return e.handle, nil
}

// newFakeEngine yields n frames. With exhaust set the source then
// reports end of input; otherwise it blocks until interrupted.
func newFakeEngine(n int, exhaust bool) *fakeEngine {
	h := &fakeHandle{
		frames:    make(chan capture.Frame, n),
		interrupt: make(chan struct{}),
	}
	for i := 1; i <= n; i++ {
		h.frames <- &fakeFrame{seq: i}
	}
	if exhaust {
		close(h.frames)
	}
	return &fakeEngine{handle: h}
}

func doRequest(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	var decoded map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decoded))
	}
	return rr, decoded
}

func startCapture(t *testing.T, s *Server, packetCount int) string {
	t.Helper()
	rr, body := doRequest(t, s, http.MethodPost, "/api/v1/capture/start", CaptureRequest{
		Interface:   "fake0",
		PacketCount: packetCount,
		Timeout:     5,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "started", body["status"])
	id, ok := body["id"].(string)
	require.True(t, ok)
	return id
}

func waitForFinish(t *testing.T, s *Server, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rr, body := doRequest(t, s, http.MethodGet, "/api/v1/capture/"+id+"/status", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		if body["stats"] != nil {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session did not finish in time")
	return nil
}

func TestStartStatusAndPackets(t *testing.T) {
	s := NewServer(newFakeEngine(2, true))

	// 1. Start a capture whose source yields two packets then ends.
	id := startCapture(t, s, 0)
	status := waitForFinish(t, s, id)
	assert.Equal(t, "fake0", status["interface"])
	assert.Equal(t, false, status["is_capturing"])
	assert.EqualValues(t, 2, status["packet_count"])

	stats, ok := status["stats"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, stats["packets_captured"])
	assert.Equal(t, false, stats["stopped_by_user"])
	assert.Equal(t, false, stats["stopped_by_timeout"])

	// 2. Fetch the buffered records.
	rr, body := doRequest(t, s, http.MethodGet, "/api/v1/capture/"+id+"/packets", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, body["total"])
	packets, ok := body["packets"].([]any)
	require.True(t, ok)
	require.Len(t, packets, 2)
	first := packets[0].(map[string]any)
	assert.EqualValues(t, 1, first["number"])
	assert.Equal(t, "TCP", first["protocol"])

	// 3. Pagination slices the buffer without changing the total.
	rr, body = doRequest(t, s, http.MethodGet, "/api/v1/capture/"+id+"/packets?offset=1&limit=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, body["total"])
	require.Len(t, body["packets"].([]any), 1)

	// 4. Clearing drops the buffer.
	rr, _ = doRequest(t, s, http.MethodDelete, "/api/v1/capture/"+id+"/packets", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr, body = doRequest(t, s, http.MethodGet, "/api/v1/capture/"+id+"/packets", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 0, body["total"])
}

func TestStopCapture(t *testing.T) {
	s := NewServer(newFakeEngine(1, false))

	// 1. Start against a source that blocks after one packet.
	id := startCapture(t, s, 0)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, body := doRequest(t, s, http.MethodGet, "/api/v1/capture/"+id+"/status", nil)
		if n, ok := body["packet_count"].(float64); ok && n >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// 2. Stop and confirm the termination cause.
	rr, body := doRequest(t, s, http.MethodPost, "/api/v1/capture/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "stopped", body["status"])

	status := waitForFinish(t, s, id)
	stats := status["stats"].(map[string]any)
	assert.Equal(t, true, stats["stopped_by_user"])
	assert.Equal(t, false, stats["stopped_by_timeout"])
}

func TestStartCaptureCountLimit(t *testing.T) {
	s := NewServer(newFakeEngine(5, false))

	id := startCapture(t, s, 3)
	status := waitForFinish(t, s, id)
	assert.EqualValues(t, 3, status["packet_count"])
}

func TestStartCaptureOpenError(t *testing.T) {
	s := NewServer(&fakeEngine{openErr: fmt.Errorf("no such device")})

	rr, body := doRequest(t, s, http.MethodPost, "/api/v1/capture/start", CaptureRequest{Interface: "missing0", Timeout: 5})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, body["detail"], "missing0")
}

func TestStartCaptureRequiresInterface(t *testing.T) {
	s := NewServer(newFakeEngine(0, true))

	rr, body := doRequest(t, s, http.MethodPost, "/api/v1/capture/start", CaptureRequest{Timeout: 5})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "interface is required", body["detail"])
}

func TestUnknownSession(t *testing.T) {
	s := NewServer(newFakeEngine(0, true))

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/capture/nope/status"},
		{http.MethodPost, "/api/v1/capture/nope/stop"},
		{http.MethodGet, "/api/v1/capture/nope/packets"},
		{http.MethodDelete, "/api/v1/capture/nope/packets"},
	} {
		rr, _ := doRequest(t, s, req.method, req.path, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, req.path)
	}
}

func TestExportImportEndpoints(t *testing.T) {
	s := NewServer(newFakeEngine(0, true))
	path := filepath.Join(t.TempDir(), "capture.json")

	records := []model.PacketRecord{{
		Number:   1,
		Length:   60,
		Layers:   []string{"eth", "ip", "tcp"},
		Protocol: "TCP",
	}}

	// 1. Export writes the file.
	rr, body := doRequest(t, s, http.MethodPost, "/api/v1/export", ExportRequest{FilePath: path, Packets: records})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 1, body["packet_count"])
	_, err := os.Stat(path)
	require.NoError(t, err)

	// 2. Import reads it back.
	rr, body = doRequest(t, s, http.MethodPost, "/api/v1/import", ImportRequest{FilePath: path})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, body["packet_count"])

	// 3. Importing a missing file is a client error.
	rr, _ = doRequest(t, s, http.MethodPost, "/api/v1/import", ImportRequest{FilePath: filepath.Join(t.TempDir(), "nope.json")})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
