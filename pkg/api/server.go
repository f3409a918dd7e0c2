// Package api exposes the workspace store over HTTP/JSON. The server is the
// admin surface of `vm serve`: a fronting proxy handles authentication and
// passes identity in headers, handlers validate and mutate the store, and
// the provisioner loop realizes the rows asynchronously.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/log"
	"github.com/devyard/vm/pkg/metrics"
	"github.com/devyard/vm/pkg/provisioner"
	"github.com/devyard/vm/pkg/store"
	"github.com/devyard/vm/pkg/types"
)

// Server serves the workspace API over HTTP.
type Server struct {
	store    store.Store
	factory  provisioner.Factory
	validate *validator.Validate
	logger   zerolog.Logger

	httpSrv *http.Server
}

// NewServer builds a server over the store. The factory supplies the
// provider backend used to tear down instances on DELETE.
func NewServer(st store.Store, factory provisioner.Factory) *Server {
	return &Server{
		store:    st,
		factory:  factory,
		validate: validator.New(),
		logger:   log.WithComponent("api"),
	}
}

// Router assembles the chi handler. Exposed separately so tests can drive
// it through httptest without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", metrics.ReadyHandler())
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Post("/workspaces", s.handleCreateWorkspace)
		r.Get("/workspaces", s.handleListWorkspaces)
		r.Get("/workspaces/{id}", s.handleGetWorkspace)
		r.Delete("/workspaces/{id}", s.handleDeleteWorkspace)
	})

	return r
}

// Start listens on addr and serves until Shutdown. A clean shutdown returns
// nil.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("api listening")
	metrics.RegisterComponent("api", true, "listening on "+addr)
	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)

		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", status).
			Dur("duration", timer.Duration()).
			Msg("request")
	})
}

// handleHealthz folds the component registry into the liveness answer: the
// endpoint stays 200 "ok" while every registered component is healthy.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := metrics.GetHealth()
	status, code := "ok", http.StatusOK
	if report.Status == metrics.StatusUnhealthy {
		status, code = report.Status, http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"components": report.Components,
		"uptime":     report.Uptime,
	})
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req store.CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errdefs.Validationf("decode request body: %v", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, errdefs.Validationf("invalid request: %v", err))
		return
	}
	if !req.Provider.Valid() {
		writeError(w, errdefs.Validationf("unknown provider %q", req.Provider))
		return
	}

	// Unowned requests are attributed to the caller.
	if user, ok := UserFrom(r.Context()); ok && req.Owner == "" {
		req.Owner = user.Name
	}

	workspace, err := s.store.CreateWorkspace(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, workspace)
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	f := store.Filters{Owner: r.URL.Query().Get("owner")}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := statusFromQuery(raw)
		if !status.Valid() {
			writeError(w, errdefs.Validationf("unknown status %q", raw))
			return
		}
		f.Status = status
	}

	workspaces, err := s.store.ListWorkspaces(f)
	if err != nil {
		writeError(w, err)
		return
	}
	if workspaces == nil {
		workspaces = []*types.Workspace{}
	}
	writeJSON(w, http.StatusOK, workspaces)
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	workspace, err := s.store.GetWorkspace(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workspace)
}

// handleDeleteWorkspace tears the instance down before dropping the row so
// a crash between the two leaves the record behind rather than an orphaned
// instance.
func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	workspace, err := s.store.GetWorkspace(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	prov, err := s.factory(workspace)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := prov.Destroy(r.Context(), workspace.Name); err != nil && !errors.Is(err, errdefs.ErrNotFound) {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteWorkspace(workspace.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFromQuery accepts both the wire casing ("running") and the
// canonical one ("Running").
func statusFromQuery(raw string) types.WorkspaceStatus {
	for _, s := range []types.WorkspaceStatus{
		types.StatusCreating, types.StatusRunning, types.StatusStopped, types.StatusFailed,
	} {
		if strings.EqualFold(raw, string(s)) {
			return s
		}
	}
	return types.WorkspaceStatus(raw)
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errdefs.HTTPStatus(err), errorResponse{
		Error: err.Error(),
		Kind:  kindLabel(err),
	})
}

// kindLabel names the failure class for clients. The sentinels have no
// errdefs kind of their own, so they get explicit labels.
func kindLabel(err error) string {
	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errdefs.ErrUnauthorized):
		return "unauthorized"
	default:
		return string(errdefs.GetKind(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
