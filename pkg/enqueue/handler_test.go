package enqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/controlplane/internal/storagetest"
	"github.com/relayforge/controlplane/pkg/agent"
	"github.com/relayforge/controlplane/pkg/credential"
	"github.com/relayforge/controlplane/pkg/events"
	"github.com/relayforge/controlplane/pkg/execution"
	"github.com/relayforge/controlplane/pkg/queue"
	"github.com/relayforge/controlplane/pkg/types"
)

type fixture struct {
	handler *Handler
	store   *storagetest.Store
	backend *queue.MemoryBackend
	rawKey  string
}

func newFixture(t *testing.T, queueDepth int) *fixture {
	t.Helper()

	store := storagetest.New()
	broker := events.NewBroker()
	t.Cleanup(broker.Close)

	backend := queue.NewMemoryBackend(queueDepth)
	machine := execution.NewMachine(store, broker)
	submitter := execution.NewSubmitter(machine, backend)
	registrar := agent.NewRegistrar(store, backend)

	rawKey, prefix, hash, err := credential.Generate()
	require.NoError(t, err)
	require.NoError(t, store.CreateAPIKey(context.Background(), &types.APIKey{
		ID: "key-1", OrganizationID: "org-1", KeyPrefix: prefix, KeyHash: hash,
	}))

	return &fixture{
		handler: NewHandler(store, submitter, registrar),
		store:   store,
		backend: backend,
		rawKey:  rawKey,
	}
}

func (f *fixture) seedActiveAgent(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.CreateAgent(context.Background(), &types.Agent{
		ID: "ag-1", OrganizationID: "org-1", Name: "summarize", Status: types.AgentStatusActive,
	}))
}

func (f *fixture) seedActiveCluster(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.CreateCluster(context.Background(), &types.Cluster{
		ID: "cl-1", OrganizationID: "org-1", Name: "prod", Status: types.ClusterStatusActive,
	}))
}

func (f *fixture) do(t *testing.T, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	f.handler.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHandleSubmit_QueuedWithActiveCluster(t *testing.T) {
	f := newFixture(t, 0)
	f.seedActiveAgent(t)
	f.seedActiveCluster(t)

	rec := f.do(t, http.MethodPost, "/organizations/org-1/executions",
		map[string]any{"agent_name": "summarize", "priority": "normal", "input": map[string]string{"text": "hi"}},
		f.rawKey)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ExecutionStatusQueued), resp.Status)
	assert.Equal(t, "cl-1", resp.ClusterID)
	assert.NotEmpty(t, resp.ExecutionID)
}

func TestHandleSubmit_PendingWithoutActiveCluster(t *testing.T) {
	f := newFixture(t, 0)
	f.seedActiveAgent(t)

	rec := f.do(t, http.MethodPost, "/organizations/org-1/executions",
		map[string]any{"agent_name": "summarize"}, f.rawKey)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ExecutionStatusPending), resp.Status)
	assert.Empty(t, resp.ClusterID)
}

func TestHandleSubmit_QueueFull(t *testing.T) {
	f := newFixture(t, 1)
	f.seedActiveAgent(t)
	f.seedActiveCluster(t)

	first := f.do(t, http.MethodPost, "/organizations/org-1/executions",
		map[string]any{"agent_name": "summarize"}, f.rawKey)
	require.Equal(t, http.StatusAccepted, first.Code)

	second := f.do(t, http.MethodPost, "/organizations/org-1/executions",
		map[string]any{"agent_name": "summarize"}, f.rawKey)
	assert.Equal(t, http.StatusTooManyRequests, second.Code, second.Body.String())
}

func TestHandleSubmit_AuthFailures(t *testing.T) {
	f := newFixture(t, 0)
	f.seedActiveAgent(t)

	missing := f.do(t, http.MethodPost, "/organizations/org-1/executions",
		map[string]any{"agent_name": "summarize"}, "")
	assert.Equal(t, http.StatusUnauthorized, missing.Code)

	invalid := f.do(t, http.MethodPost, "/organizations/org-1/executions",
		map[string]any{"agent_name": "summarize"}, "not-a-key")
	assert.Equal(t, http.StatusUnauthorized, invalid.Code)

	wrongOrg := f.do(t, http.MethodPost, "/organizations/org-other/executions",
		map[string]any{"agent_name": "summarize"}, f.rawKey)
	assert.Equal(t, http.StatusForbidden, wrongOrg.Code)
}

func TestHandleSubmit_AgentErrors(t *testing.T) {
	f := newFixture(t, 0)

	notFound := f.do(t, http.MethodPost, "/organizations/org-1/executions",
		map[string]any{"agent_name": "missing"}, f.rawKey)
	assert.Equal(t, http.StatusNotFound, notFound.Code)

	require.NoError(t, f.store.CreateAgent(context.Background(), &types.Agent{
		ID: "ag-1", OrganizationID: "org-1", Name: "summarize", Status: types.AgentStatusPending,
	}))
	notActive := f.do(t, http.MethodPost, "/organizations/org-1/executions",
		map[string]any{"agent_name": "summarize"}, f.rawKey)
	assert.Equal(t, http.StatusConflict, notActive.Code)
}

func TestHandleSubmit_InvalidPriority(t *testing.T) {
	f := newFixture(t, 0)
	f.seedActiveAgent(t)

	rec := f.do(t, http.MethodPost, "/organizations/org-1/executions",
		map[string]any{"agent_name": "summarize", "priority": "urgent"}, f.rawKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGet_ScopedToOrganization(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.store.CreateExecution(context.Background(), &types.Execution{
		ID: "ex-mine", OrganizationID: "org-1", Status: types.ExecutionStatusQueued,
	}))
	require.NoError(t, f.store.CreateExecution(context.Background(), &types.Execution{
		ID: "ex-theirs", OrganizationID: "org-other", Status: types.ExecutionStatusQueued,
	}))

	mine := f.do(t, http.MethodGet, "/organizations/org-1/executions/ex-mine", nil, f.rawKey)
	assert.Equal(t, http.StatusOK, mine.Code)

	theirs := f.do(t, http.MethodGet, "/organizations/org-1/executions/ex-theirs", nil, f.rawKey)
	assert.Equal(t, http.StatusNotFound, theirs.Code, "foreign executions read as not found")
}

func TestHandleApplyAgent(t *testing.T) {
	f := newFixture(t, 0)

	body := map[string]any{"name": "summarize", "image": "registry.example.com/agents/summarize:1.0"}

	created := f.do(t, http.MethodPut, "/organizations/org-1/agents", body, f.rawKey)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	var resp applyAgentResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &resp))
	assert.Equal(t, string(agent.ActionCreated), resp.Action)

	unchanged := f.do(t, http.MethodPut, "/organizations/org-1/agents", body, f.rawKey)
	require.Equal(t, http.StatusOK, unchanged.Code)
	require.NoError(t, json.Unmarshal(unchanged.Body.Bytes(), &resp))
	assert.Equal(t, string(agent.ActionUnchanged), resp.Action)
}
