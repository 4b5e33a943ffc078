// Package httpapi exposes the feed renderers and the management CRUD
// surface over HTTP, plus health and Prometheus metrics endpoints. It holds
// no business logic: every handler is a thin adapter over the Store and the
// control plane.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fenilsonani/feedmailer/internal/config"
	"github.com/fenilsonani/feedmailer/internal/imapclient"
	"github.com/fenilsonani/feedmailer/internal/logging"
	"github.com/fenilsonani/feedmailer/internal/scheduler"
	"github.com/fenilsonani/feedmailer/internal/store"
)

// Status is the run-state snapshot GetStatus returns, as seen through the
// control plane.
type Status = scheduler.Status

// controlPlane is the subset of *controlplane.Plane the HTTP layer depends
// on, narrowed to an interface so tests can substitute a fake.
type controlPlane interface {
	ProcessAllNow()
	ProcessAccountNow(accountID string)
	Pause()
	Resume()
	GetStatus() (Status, error)
}

// Server adapts Store and control-plane state onto HTTP. Build
// with New; Start/Shutdown manage the underlying listener's lifecycle.
type Server struct {
	cfg          *config.Config
	store        store.Store
	plane        controlPlane
	logger       *logging.Logger
	httpServer   *http.Server
	startTime    time.Time
	shutdownOnce sync.Once
	errCh        chan error
}

// New builds a Server bound to addr. It does not start listening; call
// Start for that.
func New(cfg *config.Config, s store.Store, plane controlPlane, logger *logging.Logger) *Server {
	srv := &Server{
		cfg:       cfg,
		store:     s,
		plane:     plane,
		logger:    logger,
		startTime: time.Now(),
		errCh:     make(chan error, 1),
	}

	mux := http.NewServeMux()
	srv.registerRoutes(mux)

	handler := srv.withCORS(mux)
	handler = srv.withPanicRecovery(handler)
	handler = srv.withRequestLogging(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /feeds/{id}/rss", s.handleFeedRSS)
	mux.HandleFunc("GET /feeds/{id}/atom", s.handleFeedAtom)

	mux.HandleFunc("GET /api/imap-accounts", s.handleListAccounts)
	mux.HandleFunc("POST /api/imap-accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /api/imap-accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("PATCH /api/imap-accounts/{id}", s.handleUpdateAccount)
	mux.HandleFunc("DELETE /api/imap-accounts/{id}", s.handleDeleteAccount)

	mux.HandleFunc("GET /api/email-rules", s.handleListRules)
	mux.HandleFunc("POST /api/email-rules", s.handleCreateRule)
	mux.HandleFunc("GET /api/email-rules/{id}", s.handleGetRule)
	mux.HandleFunc("PATCH /api/email-rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /api/email-rules/{id}", s.handleDeleteRule)

	mux.HandleFunc("GET /api/feeds", s.handleListFeeds)
	mux.HandleFunc("POST /api/feeds", s.handleCreateFeed)
	mux.HandleFunc("GET /api/feeds/{id}", s.handleGetFeed)
	mux.HandleFunc("PATCH /api/feeds/{id}", s.handleUpdateFeed)
	mux.HandleFunc("DELETE /api/feeds/{id}", s.handleDeleteFeed)
	mux.HandleFunc("GET /api/feeds/{id}/items", s.handleListFeedItems)

	mux.HandleFunc("PATCH /api/feed-items/{id}", s.handleUpdateFeedItem)

	mux.HandleFunc("GET /api/background/status", s.handleBackgroundStatus)
	mux.HandleFunc("POST /api/background/start", s.handleBackgroundResume)
	mux.HandleFunc("POST /api/background/stop", s.handleBackgroundPause)
	mux.HandleFunc("POST /api/background/restart", s.handleBackgroundRestart)
	mux.HandleFunc("POST /api/background/process/{id}", s.handleProcessAccount)
	mux.HandleFunc("POST /api/background/process-all", s.handleProcessAll)

	mux.HandleFunc("POST /api/imap/{id}/test", s.handleTestAccount)
	mux.HandleFunc("POST /api/imap/{id}/process", s.handleProcessAccount)
	mux.HandleFunc("POST /api/imap/process-all", s.handleProcessAll)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Start begins listening in the background. Errors other than a graceful
// Shutdown are delivered on Err.
func (s *Server) Start() {
	s.logger.Info("http api starting", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
		close(s.errCh)
	}()
}

// Err reports a listener failure other than a graceful shutdown. It closes
// once Start's goroutine exits.
func (s *Server) Err() <-chan error { return s.errCh }

// Shutdown stops accepting new connections and waits for in-flight
// requests to finish or ctx to expire. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info("http api shutting down")
		err = s.httpServer.Shutdown(ctx)
	})
	return err
}

type healthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Services  map[string]string `json:"services"`
}

// handleHealth always returns 200 (liveness, not readiness): a degraded
// dependency is reported in the body, not the status code.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Services:  map[string]string{},
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.store.Stats(ctx); err != nil {
		status.Status = "degraded"
		status.Services["database"] = "disconnected"
	} else {
		status.Services["database"] = "ok"
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleBackgroundStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.plane.GetStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleBackgroundPause(w http.ResponseWriter, r *http.Request) {
	s.plane.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleBackgroundResume(w http.ResponseWriter, r *http.Request) {
	s.plane.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// handleBackgroundRestart resumes a paused scheduler and kicks an
// immediate pass; there is no separate process to restart in-process.
func (s *Server) handleBackgroundRestart(w http.ResponseWriter, r *http.Request) {
	s.plane.Resume()
	s.plane.ProcessAllNow()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleProcessAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}
	if _, err := s.store.GetAccount(r.Context(), id); err != nil {
		writeStoreErr(w, err)
		return
	}
	s.plane.ProcessAccountNow(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleProcessAll(w http.ResponseWriter, r *http.Request) {
	s.plane.ProcessAllNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleTestAccount validates that the account's credentials and host are
// reachable without performing a full processing run.
func (s *Server) handleTestAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	acct, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	sess, err := imapclient.Connect(r.Context(), acct)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	sess.Close()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
