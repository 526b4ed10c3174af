// Package api exposes session control, record retrieval and file
// export/import over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"PacketLens/internal/capture"
	"PacketLens/internal/export"
	"PacketLens/internal/model"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// Server wires the session manager into an HTTP router.
type Server struct {
	manager *Manager
	router  *mux.Router
}

// NewServer builds a server whose sessions capture through the given
// engine.
func NewServer(engine capture.Engine) *Server {
	s := &Server{manager: NewManager(engine), router: mux.NewRouter()}
	s.routes()
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

// Manager exposes the session manager, e.g. for shutdown.
func (s *Server) Manager() *Manager { return s.manager }

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/api/v1/interfaces", s.listInterfacesHandler).Methods("GET")
	r.HandleFunc("/api/v1/capture/start", s.startCaptureHandler).Methods("POST")
	r.HandleFunc("/api/v1/capture/{id}/stop", s.stopCaptureHandler).Methods("POST")
	r.HandleFunc("/api/v1/capture/{id}/status", s.captureStatusHandler).Methods("GET")
	r.HandleFunc("/api/v1/capture/{id}/packets", s.getPacketsHandler).Methods("GET")
	r.HandleFunc("/api/v1/capture/{id}/packets", s.clearPacketsHandler).Methods("DELETE")
	r.HandleFunc("/api/v1/export", s.exportHandler).Methods("POST")
	r.HandleFunc("/api/v1/import", s.importHandler).Methods("POST")
}

// CaptureRequest is the payload for starting a capture.
type CaptureRequest struct {
	Interface     string `json:"interface"`
	PacketCount   int    `json:"packet_count"`
	DisplayFilter string `json:"display_filter"`
	Timeout       int    `json:"timeout"`
}

// ExportRequest is the payload for exporting records to a file.
type ExportRequest struct {
	FilePath string               `json:"file_path"`
	Packets  []model.PacketRecord `json:"packets"`
}

// ImportRequest is the payload for importing records from a file.
type ImportRequest struct {
	FilePath string `json:"file_path"`
}

func (s *Server) listInterfacesHandler(w http.ResponseWriter, r *http.Request) {
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interfaces": ifaces})
}

func (s *Server) startCaptureHandler(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request: "+err.Error())
		return
	}
	if req.Interface == "" {
		writeError(w, http.StatusBadRequest, "interface is required")
		return
	}
	if req.Timeout <= 0 {
		req.Timeout = 300
	}

	cfg := capture.Config{
		Interface:     req.Interface,
		PacketCount:   req.PacketCount,
		DisplayFilter: req.DisplayFilter,
		Timeout:       time.Duration(req.Timeout) * time.Second,
	}
	id, err := s.manager.StartCapture(cfg)
	if err != nil {
		var startErr *capture.StartError
		if errors.As(err, &startErr) {
			writeError(w, http.StatusBadRequest, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	log.WithFields(log.Fields{"session": id, "interface": req.Interface}).Info("capture started")
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        id,
		"status":    "started",
		"interface": req.Interface,
	})
}

func (s *Server) stopCaptureHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	captured, err := s.manager.StopCapture(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "stopped",
		"packets_captured": captured,
	})
}

func (s *Server) captureStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := s.manager.Status(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) getPacketsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 100)

	records, total, err := s.manager.Records(id, offset, limit)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"packets": records,
		"total":   total,
		"offset":  offset,
		"limit":   limit,
	})
}

func (s *Server) clearPacketsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.ClearRecords(id); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request: "+err.Error())
		return
	}
	if err := export.Export(req.FilePath, req.Packets); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"file_path":    req.FilePath,
		"packet_count": len(req.Packets),
	})
}

func (s *Server) importHandler(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request: "+err.Error())
		return
	}
	records, err := export.Import(req.FilePath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"file_path":    req.FilePath,
		"packets":      records,
		"packet_count": len(records),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func writeManagerError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
