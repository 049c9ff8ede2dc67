package web

import (
	"encoding/json"
	"net/http"

	"github.com/sweeney/cvt-actuator/internal/status"
)

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleRecordJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	if !snap.HasRecord {
		http.Error(w, "no record yet", http.StatusServiceUnavailable)
		return
	}
	data, err := json.Marshal(snap.Record)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
