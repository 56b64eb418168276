package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStrategy struct {
	provisionResult *strata.AutoScalingData
	provisionErr    error
	terminated      []string
}

func (m *mockStrategy) Provision(ctx context.Context) (*strata.AutoScalingData, error) {
	return m.provisionResult, m.provisionErr
}

func (m *mockStrategy) Terminate(ctx context.Context, hosts []string) (*strata.AutoScalingData, error) {
	m.terminated = append(m.terminated, hosts...)
	return strata.EmptyAutoScalingData(), nil
}

func (m *mockStrategy) DrainCandidates(ctx context.Context) ([]string, error) {
	return nil, nil
}

type snapshotOnlyRegistry struct{}

func (snapshotOnlyRegistry) Workers(ctx context.Context) ([]strata.WorkerSnapshot, error) {
	return nil, nil
}

func newTestServer(t *testing.T, strategy *mockStrategy, registry strata.WorkerRegistry) *Server {
	t.Helper()
	manager := internal.NewScalingManager(strategy, registry, nil, 0, nil)
	server := NewServer(manager, registry)
	server.RegisterRoutes()
	return server
}

func do(t *testing.T, server *Server, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	server.mux.ServeHTTP(rec, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestWorkerLifecycleOverAPI(t *testing.T) {
	registry := internal.NewMemoryWorkerRegistry(nil)
	server := newTestServer(t, &mockStrategy{}, registry)

	rec, resp := do(t, server, http.MethodPost, "/api/v1/workers",
		`{"host":"10.0.0.1:8080","ip":"10.0.0.1","capacity":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)

	rec, resp = do(t, server, http.MethodPost, "/api/v1/workers/10.0.0.1:8080/tasks", `{"task_id":"t1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	view := resp.Data.(map[string]any)
	assert.Equal(t, "BUSY", view["state"])
	assert.Equal(t, []any{"t1"}, view["tasks"])
	assert.InDelta(t, 0.5, view["saturation"], 1e-9)

	rec, _ = do(t, server, http.MethodDelete, "/api/v1/workers/10.0.0.1:8080/tasks/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, server, http.MethodDelete, "/api/v1/workers/10.0.0.1:8080/tasks/t1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = do(t, server, http.MethodGet, "/api/v1/workers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	workers := resp.Data.([]any)
	require.Len(t, workers, 1)
	assert.Equal(t, "IDLE", workers[0].(map[string]any)["state"])
}

func TestAssignTaskErrors(t *testing.T) {
	registry := internal.NewMemoryWorkerRegistry(nil)
	_, err := registry.Register(strata.Worker{Host: "w1", IP: "10.0.0.1", Capacity: 1})
	require.NoError(t, err)
	server := newTestServer(t, &mockStrategy{}, registry)

	rec, _ := do(t, server, http.MethodPost, "/api/v1/workers/w1/tasks", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, server, http.MethodPost, "/api/v1/workers/w1/tasks", `{"task_id":"t1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, resp := do(t, server, http.MethodPost, "/api/v1/workers/w1/tasks", `{"task_id":"t2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "capacity")

	rec, _ = do(t, server, http.MethodPost, "/api/v1/workers/missing/tasks", `{"task_id":"t3"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkerEventsUnsupported(t *testing.T) {
	server := newTestServer(t, &mockStrategy{}, snapshotOnlyRegistry{})

	rec, _ := do(t, server, http.MethodPost, "/api/v1/workers", `{"host":"w1"}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec, resp := do(t, server, http.MethodGet, "/api/v1/workers", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, resp.Data)
}

func TestHandleProvision(t *testing.T) {
	strategy := &mockStrategy{provisionResult: &strata.AutoScalingData{
		NodeIDs:   []string{"10.0.0.9:8080"},
		Nodes:     []strata.Instance{{InstanceID: "i-1", PrivateIPAddress: "10.0.0.9"}},
		Requested: 1,
	}}
	server := newTestServer(t, strategy, internal.NewMemoryWorkerRegistry(nil))

	rec, resp := do(t, server, http.MethodPost, "/api/v1/scaling/provision", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, []any{"10.0.0.9:8080"}, data["nodeIds"])

	rec, _ = do(t, server, http.MethodGet, "/api/v1/scaling/provision", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleProvisionTransientError(t *testing.T) {
	strategy := &mockStrategy{provisionErr: strata.NewProviderError("launch", true, assert.AnError)}
	server := newTestServer(t, strategy, internal.NewMemoryWorkerRegistry(nil))

	rec, resp := do(t, server, http.MethodPost, "/api/v1/scaling/provision", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, resp.Success)
}

func TestHandleTerminate(t *testing.T) {
	strategy := &mockStrategy{}
	server := newTestServer(t, strategy, internal.NewMemoryWorkerRegistry(nil))

	rec, _ := do(t, server, http.MethodPost, "/api/v1/scaling/terminate", `{"hosts":["10.0.0.1:8080"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"10.0.0.1:8080"}, strategy.terminated)

	rec, _ = do(t, server, http.MethodPost, "/api/v1/scaling/terminate", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, &mockStrategy{}, internal.NewMemoryWorkerRegistry(nil))
	rec, resp := do(t, server, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}
