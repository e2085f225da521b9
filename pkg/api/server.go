// Package api is the HTTP surface of the control plane: the /v1 REST routes,
// the SSE run stream, the runner websocket endpoint, and the operational
// endpoints (health, readiness, metrics).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/trcoder/trcoder/pkg/apikey"
	"github.com/trcoder/trcoder/pkg/billing"
	"github.com/trcoder/trcoder/pkg/config"
	"github.com/trcoder/trcoder/pkg/contextpack"
	"github.com/trcoder/trcoder/pkg/events"
	"github.com/trcoder/trcoder/pkg/log"
	"github.com/trcoder/trcoder/pkg/metrics"
	"github.com/trcoder/trcoder/pkg/orchestrator"
	"github.com/trcoder/trcoder/pkg/runner"
	"github.com/trcoder/trcoder/pkg/storage"
)

// Server serves the control plane HTTP API
type Server struct {
	cfg    *config.Config
	store  storage.Store
	orch   *orchestrator.Orchestrator
	hub    *events.Hub
	bridge *runner.Bridge
	keys   *apikey.Manager
	bill   *billing.Manager
	packs  *contextpack.Manager
	logger zerolog.Logger

	httpServer *http.Server
}

// Deps bundles the server's collaborators
type Deps struct {
	Config       *config.Config
	Store        storage.Store
	Orchestrator *orchestrator.Orchestrator
	Hub          *events.Hub
	Bridge       *runner.Bridge
	Keys         *apikey.Manager
	Billing      *billing.Manager
	Packs        *contextpack.Manager
}

// NewServer creates the API server
func NewServer(d Deps) *Server {
	return &Server{
		cfg:    d.Config,
		store:  d.Store,
		orch:   d.Orchestrator,
		hub:    d.Hub,
		bridge: d.Bridge,
		keys:   d.Keys,
		bill:   d.Billing,
		packs:  d.Packs,
		logger: log.WithComponent("api"),
	}
}

// Router builds the chi route tree
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestMetrics)

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		// The runner websocket authenticates inside the bridge handshake.
		r.Get("/runner/ws", s.bridge.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Post("/projects/connect", s.handleConnectProject)
			r.Get("/whoami", s.handleWhoami)

			r.Route("/projects/{projectID}", func(r chi.Router) {
				r.Post("/plan", s.handleCreatePlan)
				r.Post("/plan/approve", s.handleApprovePlan)
				r.Get("/plan/status", s.handlePlanStatus)
				r.Get("/plan/tasks", s.handlePlanTasks)
				r.Post("/chat", s.handleChat)
				r.Post("/runs/start", s.handleStartRun)
				r.Get("/runs", s.handleListRuns)
			})

			r.Route("/runs/{runID}", func(r chi.Router) {
				r.Get("/status", s.handleRunStatus)
				r.Get("/stream", s.handleRunStream)
				r.Post("/verify", s.handleVerify)
				r.Post("/apply", s.handleApply)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
				r.Post("/cancel", s.handleCancel)
			})

			r.Get("/usage/month", s.handleUsageMonth)
			r.Get("/usage/today", s.handleUsageToday)
			r.Get("/invoice/preview", s.handleInvoicePreview)
			r.Get("/cost/explain", s.handleCostExplain)
			r.Get("/logs/tail", s.handleLogsTail)
			r.Get("/ledger/export", s.handleLedgerExport)

			r.Route("/packs/{packID}", func(r chi.Router) {
				r.Get("/stats", s.handlePackStats)
				r.Post("/rebuild", s.handlePackRebuild)
				r.Get("/list", s.handlePackList)
				r.Get("/read", s.handlePackRead)
				r.Get("/search", s.handlePackSearch)
				r.Get("/diff", s.handlePackDiff)
				r.Get("/gitlog", s.handlePackGitLog)
				r.Get("/failures", s.handlePackFailures)
				r.Get("/logs", s.handlePackLogs)
			})
		})
	})

	return r
}

// Start listens on addr until the context is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metrics.RegisterComponent("api", true, "")
	s.logger.Info().Str("addr", addr).Msg("api server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps an error to its HTTP status. Orchestrator errors carry
// their own kind; anything else is a 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var oe *orchestrator.Error
	if errors.As(err, &oe) {
		body := map[string]interface{}{
			"error":   string(oe.Kind),
			"message": oe.Message,
		}
		for k, v := range oe.Details {
			body[k] = v
		}
		writeJSON(w, oe.HTTPStatus(), body)
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "not_found"})
		return
	}
	s.logger.Error().Err(err).Msg("internal error")
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal"})
}

// decodeBody parses a JSON request body
func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
