// Package server exposes the location service: the HTTP surface through
// which other fleet members read and write global location metadata on
// whichever machine currently holds mastership.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"locstore/config"
	"locstore/pkg/api"
	"locstore/pkg/election"
	"locstore/pkg/model"
	"locstore/pkg/redisdb"
	"locstore/storage"
)

// Server serves the authoritative store of this machine over HTTP+JSON.
type Server struct {
	cfg     *config.Config
	store   storage.Store
	elect   election.Election
	machine model.MachineLocation
	router  *mux.Router
	log     *slog.Logger
}

// New wires the routes over store and elect.
func New(cfg *config.Config, store storage.Store, elect election.Election, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		store:   store,
		elect:   elect,
		machine: model.MachineLocation(cfg.Machine.Address),
		log:     log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/locations/get", s.handleGetBulk).Methods(http.MethodPost)
	r.HandleFunc("/locations/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/locations/touch", s.handleTouch).Methods(http.MethodPost)
	r.HandleFunc("/locations/unregister", s.handleUnregister).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}
	s.router = r
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("location service listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleGetBulk(w http.ResponseWriter, r *http.Request) {
	var req api.GetBulkRequest
	if !s.decode(w, r, &req) {
		return
	}
	entries, err := s.store.GetBulk(r.Context(), req.Hashes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, api.GetBulkResponse{Entries: entries})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.Register(r.Context(), req.Machine, req.Entries); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, struct{}{})
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	var req api.TouchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.Touch(r.Context(), req.Machine, req.Hashes); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, struct{}{})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req api.UnregisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.Unregister(r.Context(), req.Hashes); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, struct{}{})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.elect.CurrentMaster(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, api.Status{
		Machine: s.machine,
		Role:    state.Role,
		Master:  state.Master,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encoding response", "err", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if redisdb.IsRestartRecommended(err) || redisdb.IsTransient(err) {
		status = http.StatusServiceUnavailable
	}
	s.log.Warn("request failed", "path", r.URL.Path, "err", err)
	http.Error(w, err.Error(), status)
}
