// Package web provides an HTTP status server for the dimmer daemon.
package web

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"

	"github.com/sweeney/dimmer-regulator/internal/mqtt"
	"github.com/sweeney/dimmer-regulator/internal/regulation"
	"github.com/sweeney/dimmer-regulator/internal/status"
)

// maxCommandBytes bounds a POST /cmd body.
const maxCommandBytes = 4096

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	commander  mqtt.Commander
}

// New creates a Server that reads state from the given tracker. A non-nil
// commander enables POST /cmd, which accepts the MQTT command JSON.
func New(addr string, tracker *status.Tracker, commander mqtt.Commander) *Server {
	s := &Server{tracker: tracker, commander: commander}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	if commander != nil {
		mux.HandleFunc("/cmd", s.handleCommand)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
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

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd, err := mqtt.ParseCommand(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := cmd.Apply(s.commander); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, regulation.ErrMailboxFull) {
			code = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), code)
		return
	}
	log.Printf("web: command %s channel %d", cmd.Command, cmd.Channel)
	w.WriteHeader(http.StatusAccepted)
}
