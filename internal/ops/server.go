// Package ops serves the read-only operations plane: health, prometheus
// metrics, and a websocket spectator feed of world events.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deepfall/server/internal/logging"
	"deepfall/server/internal/metrics"
	"deepfall/server/internal/stage"
)

// Options configure server construction.
type Options struct {
	Addr     string
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
}

// Server is the ops HTTP listener plus the spectator hub.
type Server struct {
	http  *http.Server
	hub   *Hub
	log   *logging.Logger
	runID atomic.Value
}

// New assembles the router. Call Start to begin serving.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.L()
	}
	s := &Server{
		hub: NewHub(log, opts.Metrics),
		log: log,
	}
	s.runID.Store("")

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/spectate", s.handleSpectate)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetRunID records the active run for health responses and frames.
func (s *Server) SetRunID(runID string) {
	s.runID.Store(runID)
}

// Observe returns a notification tap that feeds the spectator hub.
func (s *Server) Observe() func(stage.Notification) {
	return func(n stage.Notification) {
		if frame := Frame(s.runID.Load().(string), n); frame != nil {
			s.hub.Publish(frame)
		}
	}
}

// Start serves until Shutdown. Bind failures are fatal.
func (s *Server) Start() {
	go func() {
		s.log.Info("ops plane listening", logging.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Fatal("ops listener failed", logging.Error(err))
		}
	}()
}

// Shutdown stops the listener and drops every spectator.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"run_id": s.runID.Load(),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is read-only world state; origin gating buys nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleSpectate(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("spectator upgrade failed", logging.Error(err))
		return
	}
	c := s.hub.attach(conn)
	defer s.hub.detach(c)

	//1.- Spectators never send application data; the read loop only watches
	// for the close handshake.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
