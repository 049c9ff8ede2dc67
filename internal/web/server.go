// Package web provides an HTTP status server for the actuator daemon.
package web

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/sweeney/cvt-actuator/internal/status"
	"github.com/sweeney/cvt-actuator/internal/telemetry"
)

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/record.json", s.handleRecordJSON)
	mux.HandleFunc("/record.csv", s.handleRecordCSV)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

// handleRecordCSV serves the latest record as a header line and one row,
// the same layout the daemon logs.
func (s *Server) handleRecordCSV(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	if !snap.HasRecord {
		http.Error(w, "no record yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	io.WriteString(w, telemetry.Header()+"\n"+snap.Record.CSV()+"\n")
}
