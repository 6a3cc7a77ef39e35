package enqueue

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/relayforge/controlplane/internal/apperr"
	"github.com/relayforge/controlplane/pkg/agent"
	"github.com/relayforge/controlplane/pkg/credential"
	"github.com/relayforge/controlplane/pkg/execution"
	"github.com/relayforge/controlplane/pkg/log"
	"github.com/relayforge/controlplane/pkg/metrics"
	"github.com/relayforge/controlplane/pkg/queue"
	"github.com/relayforge/controlplane/pkg/storage"
	"github.com/relayforge/controlplane/pkg/types"
)

// Handler serves the execution submission and agent definition API, the
// only HTTP surface the control plane core owns.
type Handler struct {
	store     storage.Store
	submitter *execution.Submitter
	registrar *agent.Registrar
	logger    zerolog.Logger
}

// NewHandler creates a Handler over store, submitter and registrar.
func NewHandler(store storage.Store, submitter *execution.Submitter, registrar *agent.Registrar) *Handler {
	return &Handler{
		store:     store,
		submitter: submitter,
		registrar: registrar,
		logger:    log.WithComponent("enqueue"),
	}
}

// Routes mounts the execution submission routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/organizations/{organizationID}/executions", h.handleSubmit)
	r.Get("/organizations/{organizationID}/executions/{executionID}", h.handleGet)
	r.Put("/organizations/{organizationID}/agents", h.handleApplyAgent)
	return r
}

type submitRequest struct {
	AgentName string          `json:"agent_name"`
	Priority  string          `json:"priority"`
	Input     json.RawMessage `json:"input"`
}

type submitResponse struct {
	ExecutionID string `json:"execution_id"`
	ClusterID   string `json:"cluster_id,omitempty"`
	Status      string `json:"status"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	organizationID := chi.URLParam(r, "organizationID")

	if err := h.authorize(r, organizationID); err != nil {
		finish(w, r, err, start)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		finish(w, r, apperr.Wrap(apperr.KindInvalidArgument, "invalid request body", err), start)
		return
	}
	if req.AgentName == "" {
		finish(w, r, apperr.New(apperr.KindInvalidArgument, "agent_name is required"), start)
		return
	}

	priority := types.Priority(req.Priority)
	switch priority {
	case "", types.PriorityHigh, types.PriorityNormal, types.PriorityLow:
	default:
		finish(w, r, apperr.New(apperr.KindInvalidArgument, "invalid priority"), start)
		return
	}

	ag, err := h.store.GetAgentByName(r.Context(), organizationID, req.AgentName)
	if err != nil {
		if err == storage.ErrNotFound {
			finish(w, r, apperr.New(apperr.KindNotFound, "agent not found"), start)
			return
		}
		finish(w, r, apperr.Wrap(apperr.KindInternal, "failed to resolve agent", err), start)
		return
	}
	if ag.Status != types.AgentStatusActive {
		finish(w, r, apperr.New(apperr.KindFailedPrecondition, "agent is not active"), start)
		return
	}

	exec, err := h.submitter.Submit(r.Context(), execution.SubmitParams{
		OrganizationID: organizationID,
		Agent:          ag,
		Priority:       priority,
		Payload:        req.Input,
	})
	if err != nil {
		if err == queue.ErrQueueFull {
			finish(w, r, apperr.New(apperr.KindResourceExhausted, "cluster work queue is full"), start)
			return
		}
		h.logger.Error().Err(err).Str("organization_id", organizationID).Msg("submitting execution failed")
		finish(w, r, apperr.Wrap(apperr.KindInternal, "failed to submit execution", err), start)
		return
	}

	// Accepted either way: QUEUED when a cluster took it, PENDING when no
	// cluster is attached and the execution waits for one.
	respond(w, http.StatusAccepted, submitResponse{
		ExecutionID: exec.ID,
		ClusterID:   exec.ClusterID,
		Status:      string(exec.Status),
	})
	recordRequest(routeLabel(r), http.StatusAccepted, start)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	organizationID := chi.URLParam(r, "organizationID")
	executionID := chi.URLParam(r, "executionID")

	if err := h.authorize(r, organizationID); err != nil {
		finish(w, r, err, start)
		return
	}

	exec, err := h.store.GetExecution(r.Context(), executionID)
	if err != nil {
		if err == storage.ErrNotFound {
			finish(w, r, apperr.New(apperr.KindNotFound, "execution not found"), start)
			return
		}
		finish(w, r, apperr.Wrap(apperr.KindInternal, "failed to load execution", err), start)
		return
	}
	if exec.OrganizationID != organizationID {
		finish(w, r, apperr.New(apperr.KindNotFound, "execution not found"), start)
		return
	}

	respond(w, http.StatusOK, exec)
	recordRequest(routeLabel(r), http.StatusOK, start)
}

type applyAgentRequest struct {
	Name                 string          `json:"name"`
	Image                string          `json:"image"`
	Resources            json.RawMessage `json:"resources,omitempty"`
	RetryPolicy          json.RawMessage `json:"retry_policy,omitempty"`
	EnvironmentVariables json.RawMessage `json:"environment_variables,omitempty"`
}

type applyAgentResponse struct {
	AgentID string `json:"agent_id"`
	Action  string `json:"action"`
	Status  string `json:"status"`
}

func (h *Handler) handleApplyAgent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	organizationID := chi.URLParam(r, "organizationID")

	if err := h.authorize(r, organizationID); err != nil {
		finish(w, r, err, start)
		return
	}

	var req applyAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		finish(w, r, apperr.Wrap(apperr.KindInvalidArgument, "invalid request body", err), start)
		return
	}
	if req.Name == "" || req.Image == "" {
		finish(w, r, apperr.New(apperr.KindInvalidArgument, "name and image are required"), start)
		return
	}

	ag, action, err := h.registrar.Apply(r.Context(), organizationID, agent.Spec{
		Name:                 req.Name,
		Image:                req.Image,
		Resources:            req.Resources,
		RetryPolicy:          req.RetryPolicy,
		EnvironmentVariables: req.EnvironmentVariables,
	})
	if err != nil {
		if err == storage.ErrConflict {
			finish(w, r, apperr.New(apperr.KindAlreadyExists, "agent name already in use"), start)
			return
		}
		h.logger.Error().Err(err).Str("organization_id", organizationID).Msg("applying agent failed")
		finish(w, r, apperr.Wrap(apperr.KindInternal, "failed to apply agent", err), start)
		return
	}

	status := http.StatusOK
	if action == agent.ActionCreated {
		status = http.StatusCreated
	}
	respond(w, status, applyAgentResponse{
		AgentID: ag.ID,
		Action:  string(action),
		Status:  string(ag.Status),
	})
	recordRequest(routeLabel(r), status, start)
}

// authorize authenticates the request's API key and checks it belongs to
// organizationID.
func (h *Handler) authorize(r *http.Request, organizationID string) error {
	rawKey := r.Header.Get("X-API-Key")
	if rawKey == "" {
		return apperr.New(apperr.KindUnauthenticated, "missing X-API-Key header")
	}
	key, err := credential.VerifyAPIKey(r.Context(), h.store, rawKey)
	if err != nil {
		return apperr.Wrap(apperr.KindUnauthenticated, "invalid api key", err)
	}
	if key.OrganizationID != organizationID {
		return apperr.New(apperr.KindPermissionDenied, "api key does not belong to this organization")
	}
	return nil
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error string `json:"error"`
}

func finish(w http.ResponseWriter, r *http.Request, err error, start time.Time) {
	respond(w, apperr.HTTPStatus(err), errorResponse{Error: err.Error()})
	recordRequest(routeLabel(r), apperr.HTTPStatus(err), start)
}

func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

func recordRequest(route string, status int, start time.Time) {
	metrics.APIRequestsTotal.WithLabelValues(route, http.StatusText(status)).Inc()
	metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}
