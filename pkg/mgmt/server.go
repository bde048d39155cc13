// Package mgmt implements the switch's introspection/management surface:
// a read-mostly HTTP API over every engine Core owns, plus a WebSocket
// stream of periodic stats snapshots. Grounded on pkg/webui/server.go
// (Server struct shape, session-free since this is a pure introspection
// API, APIResponse envelope, event broadcaster goroutine) generalized
// from "bonding session dashboard" to "switch state dashboard", and
// wired to github.com/gorilla/mux for routing -- the teacher declares
// gorilla/mux in go.mod but its own webui/server.go never imports it,
// using the bare net/http.ServeMux instead.
package mgmt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/nexswitch/vswitch/pkg/core"
	"github.com/nexswitch/vswitch/pkg/corelog"
)

// Server serves the HTTP/WebSocket management API for one Core instance.
type Server struct {
	config *Config
	core   *core.Core
	log    *logrus.Entry

	httpServer *http.Server

	wsClients map[*WSClient]bool
	wsMu      sync.RWMutex
	eventChan chan *Event

	startTime time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewServer builds a management server over c, using cfg (or
// DefaultConfig if nil).
func NewServer(cfg *Config, c *core.Core) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Server{
		config:    cfg,
		core:      c,
		log:       corelog.For("mgmt"),
		wsClients: make(map[*WSClient]bool),
		eventChan: make(chan *Event, 1000),
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the HTTP server, the WebSocket event broadcaster, and
// the periodic stats-snapshot publisher.
func (s *Server) Start() error {
	r := mux.NewRouter()
	s.setupRoutes(r)

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.corsMiddleware(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.wg.Add(2)
	go s.broadcastEvents()
	go s.publishStatsPeriodically()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("mgmt http server stopped unexpectedly")
		}
	}()

	s.log.WithField("addr", s.config.ListenAddr).Info("management server listening")
	return nil
}

// Stop shuts down the HTTP server and background goroutines.
func (s *Server) Stop() error {
	close(s.stopCh)
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/ports", s.handlePorts).Methods(http.MethodGet)
	api.HandleFunc("/ports/{id}", s.handlePort).Methods(http.MethodGet)
	api.HandleFunc("/vlans", s.handleVlans).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/vlans/{vid}", s.handleVlan).Methods(http.MethodDelete)
	api.HandleFunc("/vlans/{vid}/ports/{port}", s.handleVlanPort).Methods(http.MethodPost, http.MethodDelete)
	api.HandleFunc("/mac-table", s.handleMacTable).Methods(http.MethodGet)
	api.HandleFunc("/arp", s.handleArp).Methods(http.MethodGet)
	api.HandleFunc("/stp", s.handleStp).Methods(http.MethodGet)
	api.HandleFunc("/routes", s.handleRoutes).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleEvents)

	if s.config.EnableMetrics {
		r.HandleFunc(s.config.MetricsPath, s.handleMetrics).Methods(http.MethodGet)
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.EnableCORS {
			origin := "*"
			if len(s.config.AllowedOrigins) > 0 {
				origin = s.config.AllowedOrigins[0]
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message})
}

// PublishEvent fans out ev to every connected WebSocket client.
func (s *Server) PublishEvent(ev *Event) {
	select {
	case s.eventChan <- ev:
	default:
	}
}

func (s *Server) broadcastEvents() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case ev := <-s.eventChan:
			s.wsMu.RLock()
			for client := range s.wsClients {
				select {
				case client.send <- ev:
				default:
				}
			}
			s.wsMu.RUnlock()
		}
	}
}

// publishStatsPeriodically pushes a stats snapshot to subscribers every
// couple of seconds, the same cadence as cmd/server's own statsMonitor
// ticker, just fanned out over the websocket instead of printed to
// stdout.
func (s *Server) publishStatsPeriodically() {
	defer s.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.PublishEvent(&Event{
				Type:      EventStats,
				Timestamp: time.Now(),
				Data:      s.core.SnapshotStats(),
			})
		}
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP vswitch_uptime_seconds Time since the management server started\n")
	fmt.Fprintf(w, "# TYPE vswitch_uptime_seconds gauge\n")
	fmt.Fprintf(w, "vswitch_uptime_seconds %.0f\n", time.Since(s.startTime).Seconds())

	fmt.Fprintf(w, "# HELP vswitch_goroutines Number of goroutines\n")
	fmt.Fprintf(w, "# TYPE vswitch_goroutines gauge\n")
	fmt.Fprintf(w, "vswitch_goroutines %d\n", runtime.NumGoroutine())

	stats := s.core.SnapshotStats()
	fmt.Fprintf(w, "# HELP vswitch_frames_received_total Frames received on any port\n")
	fmt.Fprintf(w, "# TYPE vswitch_frames_received_total counter\n")
	fmt.Fprintf(w, "vswitch_frames_received_total %d\n", stats.FramesReceived)

	fmt.Fprintf(w, "# HELP vswitch_frames_forwarded_total Frames unicast-forwarded\n")
	fmt.Fprintf(w, "# TYPE vswitch_frames_forwarded_total counter\n")
	fmt.Fprintf(w, "vswitch_frames_forwarded_total %d\n", stats.FramesForwarded)

	fmt.Fprintf(w, "# HELP vswitch_frames_flooded_total Frames flooded to a vlan\n")
	fmt.Fprintf(w, "# TYPE vswitch_frames_flooded_total counter\n")
	fmt.Fprintf(w, "vswitch_frames_flooded_total %d\n", stats.FramesFlooded)

	fmt.Fprintf(w, "# HELP vswitch_frames_dropped_total Frames dropped at any pipeline stage\n")
	fmt.Fprintf(w, "# TYPE vswitch_frames_dropped_total counter\n")
	fmt.Fprintf(w, "vswitch_frames_dropped_total %d\n", stats.FramesDropped)

	fmt.Fprintf(w, "# HELP vswitch_routed_packets_total Packets forwarded at layer 3\n")
	fmt.Fprintf(w, "# TYPE vswitch_routed_packets_total counter\n")
	fmt.Fprintf(w, "vswitch_routed_packets_total %d\n", stats.RoutedPackets)
}
