package httpx

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Bikxs/Skafu-sub001/internal/command"
	"github.com/Bikxs/Skafu-sub001/internal/ws"
)

// Router wires HTTP endpoints to the command processor and queries.
type Router struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	proc          *command.Processor
	hub           *ws.Hub
	upgrader      websocket.Upgrader
	limiter       RateLimiter
	authSecret    string
	executorToken string
	health        func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	commandTotal       *prometheus.CounterVec
}

const (
	rateWindowDefault   = time.Minute
	rateWindowRealtime  = 30 * time.Second
	rateLimitOwnerWrite = 60
	rateLimitOwnerRead  = 120
	rateLimitWebsocket  = 30
	rateLimitExecutor   = 600
	healthCheckTimeout  = 2 * time.Second
	headerCorrelationID = "X-Correlation-Id"
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, proc *command.Processor, hub *ws.Hub, limiter RateLimiter, authSecret, executorToken string, health func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		proc:   proc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:       limiter,
		authSecret:    authSecret,
		executorToken: strings.TrimSpace(executorToken),
		health:        health,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/projects", r.audit("/projects", r.handlerAuthRate("/projects", rateLimitOwnerRead, rateLimitOwnerWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/projects/", r.audit("/projects/{id}", r.handlerAuthRate("/projects/{id}", rateLimitOwnerRead, rateLimitOwnerWrite, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/deployments/", r.audit("/deployments/{id}", r.handleDeploymentSubroutes))
	r.mux.HandleFunc("/ws/events", r.audit("/ws/events", r.handlerAuthRate("/ws/events", rateLimitWebsocket, rateLimitWebsocket, rateWindowRealtime, r.handleEventsWS)))
}

// correlationID picks the caller-supplied ID or mints one, so retries with
// the same header replay instead of reapplying.
func correlationID(req *http.Request) string {
	if id := strings.TrimSpace(req.Header.Get(headerCorrelationID)); id != "" {
		return id
	}
	return uuid.NewString()
}

// execute runs a command and writes the acknowledgement or mapped error.
func (r *Router) execute(w http.ResponseWriter, req *http.Request, ownerID string, cmd command.Command) {
	corrID := correlationID(req)
	w.Header().Set(headerCorrelationID, corrID)
	result, err := r.proc.Handle(req.Context(), corrID, ownerID, cmd)
	if err != nil {
		r.recordCommand(cmd.Kind(), "rejected")
		writeDomainError(w, err)
		return
	}
	r.recordCommand(cmd.Kind(), "accepted")
	writeJSON(w, http.StatusAccepted, result)
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for projects route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var cmd command.CreateProject
		if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		r.execute(w, req, info.OwnerID, cmd)
	case http.MethodGet:
		projects, err := r.proc.ListProjects(req.Context(), info.OwnerID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for project subroute", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	projectID := parts[0]
	if projectID == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		r.handleProject(w, req, info.OwnerID, projectID)
	case len(parts) == 2 && parts[1] == "services":
		r.handleAddService(w, req, info.OwnerID, projectID)
	case len(parts) == 3 && parts[1] == "services":
		r.handleService(w, req, info.OwnerID, projectID, parts[2])
	case len(parts) == 2 && parts[1] == "relationships":
		r.handleEstablishRelationship(w, req, info.OwnerID, projectID)
	case len(parts) == 3 && parts[1] == "relationships":
		r.handleRelationship(w, req, info.OwnerID, projectID, parts[2])
	case len(parts) == 2 && parts[1] == "deploy":
		r.handleStartDeployment(w, req, info.OwnerID, projectID)
	case len(parts) == 2 && parts[1] == "deployments":
		r.handleListDeployments(w, req, info.OwnerID, projectID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request, ownerID, projectID string) {
	switch req.Method {
	case http.MethodGet:
		agg, err := r.proc.GetProject(req.Context(), ownerID, projectID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agg)
	case http.MethodPut:
		var cmd command.UpdateProject
		if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		cmd.ProjectID = projectID
		r.execute(w, req, ownerID, cmd)
	case http.MethodDelete:
		r.execute(w, req, ownerID, command.DeleteProject{ProjectID: projectID})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleAddService(w http.ResponseWriter, req *http.Request, ownerID, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var cmd command.AddService
	if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cmd.ProjectID = projectID
	r.execute(w, req, ownerID, cmd)
}

func (r *Router) handleService(w http.ResponseWriter, req *http.Request, ownerID, projectID, serviceID string) {
	switch req.Method {
	case http.MethodPut:
		var cmd command.UpdateService
		if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		cmd.ProjectID = projectID
		cmd.ServiceID = serviceID
		r.execute(w, req, ownerID, cmd)
	case http.MethodDelete:
		r.execute(w, req, ownerID, command.RemoveService{
			ProjectID: projectID,
			ServiceID: serviceID,
			Reason:    strings.TrimSpace(req.URL.Query().Get("reason")),
			Force:     req.URL.Query().Get("force") == "true",
		})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleEstablishRelationship(w http.ResponseWriter, req *http.Request, ownerID, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var cmd command.EstablishRelationship
	if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cmd.ProjectID = projectID
	r.execute(w, req, ownerID, cmd)
}

func (r *Router) handleRelationship(w http.ResponseWriter, req *http.Request, ownerID, projectID, relationshipID string) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	r.execute(w, req, ownerID, command.RemoveRelationship{
		ProjectID:      projectID,
		RelationshipID: relationshipID,
		Reason:         strings.TrimSpace(req.URL.Query().Get("reason")),
	})
}

func (r *Router) handleStartDeployment(w http.ResponseWriter, req *http.Request, ownerID, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var cmd command.StartDeployment
	if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cmd.ProjectID = projectID
	r.execute(w, req, ownerID, cmd)
}

func (r *Router) handleListDeployments(w http.ResponseWriter, req *http.Request, ownerID, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	deployments, err := r.proc.ListDeployments(req.Context(), ownerID, projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/deployments/")
	parts := strings.Split(trimmed, "/")
	deploymentID := parts[0]
	if deploymentID == "" {
		r.notFound(w)
		return
	}
	// Executor callbacks authenticate with the shared token; everything
	// else is owner-facing and goes through JWT auth plus rate limits.
	if len(parts) == 2 && (parts[1] == "steps" || parts[1] == "check-timeout") {
		r.withRateLimit("/deployments/{id}/"+parts[1], rateLimitExecutor, rateWindowDefault, rateLimitKeyIP, func(w http.ResponseWriter, req *http.Request) {
			r.handleExecutorCallback(w, req, deploymentID, parts[1])
		})(w, req)
		return
	}
	r.handlerAuthRate("/deployments/{id}", rateLimitOwnerRead, rateLimitOwnerWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
		info, ok := authInfoFromContext(req.Context())
		if !ok {
			r.logger.Error("auth context missing for deployment route", "path", req.URL.Path)
			writeError(w, http.StatusInternalServerError, "authorization context missing")
			return
		}
		switch {
		case len(parts) == 1:
			if req.Method != http.MethodGet {
				r.methodNotAllowed(w)
				return
			}
			dep, err := r.proc.GetDeployment(req.Context(), info.OwnerID, deploymentID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, dep)
		case len(parts) == 2 && parts[1] == "approve":
			if req.Method != http.MethodPost {
				r.methodNotAllowed(w)
				return
			}
			r.execute(w, req, info.OwnerID, command.ApproveDeployment{DeploymentID: deploymentID})
		case len(parts) == 2 && parts[1] == "cancel":
			if req.Method != http.MethodPost {
				r.methodNotAllowed(w)
				return
			}
			var payload struct {
				Reason string `json:"reason"`
			}
			_ = json.NewDecoder(req.Body).Decode(&payload)
			r.execute(w, req, info.OwnerID, command.CancelDeployment{DeploymentID: deploymentID, Reason: payload.Reason})
		case len(parts) == 2 && parts[1] == "rollback":
			if req.Method != http.MethodPost {
				r.methodNotAllowed(w)
				return
			}
			var payload struct {
				Reason string `json:"reason"`
			}
			_ = json.NewDecoder(req.Body).Decode(&payload)
			r.execute(w, req, info.OwnerID, command.RollbackDeployment{DeploymentID: deploymentID, Reason: payload.Reason})
		default:
			r.notFound(w)
		}
	})(w, req)
}

func (r *Router) handleExecutorCallback(w http.ResponseWriter, req *http.Request, deploymentID, action string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyExecutorToken(w, req) {
		return
	}
	switch action {
	case "steps":
		var cmd command.ReportDeploymentStep
		if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		cmd.DeploymentID = deploymentID
		r.execute(w, req, "", cmd)
	case "check-timeout":
		r.execute(w, req, "", command.CheckDeploymentTimeout{DeploymentID: deploymentID})
	default:
		r.notFound(w)
	}
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for events websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	if _, err := r.proc.GetProject(req.Context(), info.OwnerID, projectID); err != nil {
		writeDomainError(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(projectID, client)
	go func() {
		defer func() {
			r.hub.Unregister(projectID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.health != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.health(ctx); err != nil {
			status = "degraded"
			components["store"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["store"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

// verifyExecutorToken ensures executor callbacks carry the configured secret.
func (r *Router) verifyExecutorToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.executorToken
	if expected == "" {
		r.logger.Error("executor token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "executor authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Executor-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("executor token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid executor token")
		return false
	}
	return true
}
