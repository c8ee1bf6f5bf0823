package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utilitywarehouse/health-watcher/internal/model"
)

type memStore struct {
	endpoints     []model.Endpoint
	executions    []model.Execution
	history       map[string][]model.HistoryEntry
	notifications []model.FailureNotification
	err           error
	deleted       []string
	historyLimit  int
}

func (m *memStore) ListEndpoints() ([]model.Endpoint, error) {
	return m.endpoints, m.err
}

func (m *memStore) FindEndpointByName(name string) (model.Endpoint, bool, error) {
	if m.err != nil {
		return model.Endpoint{}, false, m.err
	}
	for _, endpoint := range m.endpoints {
		if endpoint.Name == name {
			return endpoint, true, nil
		}
	}
	return model.Endpoint{}, false, nil
}

func (m *memStore) DeleteEndpoint(name string) error {
	m.deleted = append(m.deleted, name)
	return m.err
}

func (m *memStore) FindExecution(name string) (model.Execution, bool, error) {
	if m.err != nil {
		return model.Execution{}, false, m.err
	}
	for _, execution := range m.executions {
		if execution.Name == name {
			return execution, true, nil
		}
	}
	return model.Execution{}, false, nil
}

func (m *memStore) ListExecutions() ([]model.Execution, error) {
	return m.executions, m.err
}

func (m *memStore) FindExecutionHistory(name string, limit int) ([]model.HistoryEntry, error) {
	m.historyLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.history[name], nil
}

func (m *memStore) ListFailureNotifications() ([]model.FailureNotification, error) {
	return m.notifications, m.err
}

type memRegistrar struct {
	registered []model.Endpoint
	err        error
}

func (m *memRegistrar) Register(endpoint model.Endpoint) error {
	if m.err != nil {
		return m.err
	}
	m.registered = append(m.registered, endpoint)
	return nil
}

func newTestServer(store *memStore, registrar *memRegistrar, reloadQueue chan uuid.UUID) *httptest.Server {
	if reloadQueue == nil {
		reloadQueue = make(chan uuid.UUID, 1)
	}
	return httptest.NewServer(NewRouter(store, registrar, reloadQueue, 50))
}

func Test_GetAllEndpoints(t *testing.T) {

	store := &memStore{endpoints: []model.Endpoint{
		{ID: "1", Name: "billing-api", URI: "http://billing-api:8081/__/health"},
		{ID: "2", Name: "orders-api", URI: "http://orders-api:8081/__/health"},
	}}

	server := newTestServer(store, &memRegistrar{}, nil)
	defer server.Close()

	resp, err := http.Get(server.URL + "/endpoints")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))

	var endpoints []model.Endpoint
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&endpoints))
	require.Equal(t, 2, len(endpoints))
	assert.Equal(t, "billing-api", endpoints[0].Name)
}

func Test_GetAllEndpointsDatabaseError(t *testing.T) {

	store := &memStore{err: fmt.Errorf("mongo is down")}
	server := newTestServer(store, &memRegistrar{}, nil)
	defer server.Close()

	resp, err := http.Get(server.URL + "/endpoints")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func Test_RegisterEndpoint(t *testing.T) {

	registrar := &memRegistrar{}
	server := newTestServer(&memStore{}, registrar, nil)
	defer server.Close()

	body := bytes.NewBufferString(`{"name":"billing-api","uri":"http://billing-api:8081/__/health"}`)
	resp, err := http.Post(server.URL+"/endpoints", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, 1, len(registrar.registered))
	assert.Equal(t, "billing-api", registrar.registered[0].Name)
}

func Test_RegisterEndpointRejectsInvalidDefinitions(t *testing.T) {

	registrar := &memRegistrar{err: fmt.Errorf(`uri "nonsense" must be an absolute http(s) URL`)}
	server := newTestServer(&memStore{}, registrar, nil)
	defer server.Close()

	body := bytes.NewBufferString(`{"name":"billing-api","uri":"nonsense"}`)
	resp, err := http.Post(server.URL+"/endpoints", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func Test_RegisterEndpointRejectsMalformedBody(t *testing.T) {

	server := newTestServer(&memStore{}, &memRegistrar{}, nil)
	defer server.Close()

	resp, err := http.Post(server.URL+"/endpoints", "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func Test_DeleteEndpoint(t *testing.T) {

	store := &memStore{endpoints: []model.Endpoint{{ID: "1", Name: "billing-api"}}}
	server := newTestServer(store, &memRegistrar{}, nil)
	defer server.Close()

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/endpoints/billing-api", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"billing-api"}, store.deleted)
}

func Test_DeleteUnknownEndpointReturns404(t *testing.T) {

	store := &memStore{}
	server := newTestServer(store, &memRegistrar{}, nil)
	defer server.Close()

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/endpoints/missing", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, store.deleted)
}

func Test_GetExecutionForEndpoint(t *testing.T) {

	store := &memStore{executions: []model.Execution{{
		Name:         "billing-api",
		Status:       model.Healthy,
		OnStateFrom:  time.Now().Add(-2 * time.Hour),
		LastExecuted: time.Now().Add(-10 * time.Second),
	}}}

	server := newTestServer(store, &memRegistrar{}, nil)
	defer server.Close()

	resp, err := http.Get(server.URL + "/endpoints/billing-api/execution")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var execution model.Execution
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&execution))
	assert.Equal(t, model.Healthy, execution.Status)
	assert.Equal(t, "2 hours ago", execution.HumanisedStateSince)
	assert.Equal(t, "10 seconds ago", execution.HumanisedLastCheck)
}

func Test_GetExecutionForUnknownEndpointReturns404(t *testing.T) {

	server := newTestServer(&memStore{}, &memRegistrar{}, nil)
	defer server.Close()

	resp, err := http.Get(server.URL + "/endpoints/missing/execution")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func Test_GetHistoryForEndpoint(t *testing.T) {

	store := &memStore{history: map[string][]model.HistoryEntry{
		"billing-api": {
			{Name: "billing-api", Status: model.Unhealthy, On: time.Now().Add(-time.Hour)},
			{Name: "billing-api", Status: model.Healthy, On: time.Now().Add(-2 * time.Hour)},
		},
	}}

	server := newTestServer(store, &memRegistrar{}, nil)
	defer server.Close()

	resp, err := http.Get(server.URL + "/endpoints/billing-api/history")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var history []model.HistoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Equal(t, 2, len(history))
	assert.Equal(t, model.Unhealthy, history[0].Status)
}

func Test_GetHistoryUsesTheConfiguredBound(t *testing.T) {

	store := &memStore{history: map[string][]model.HistoryEntry{}}
	server := httptest.NewServer(NewRouter(store, &memRegistrar{}, make(chan uuid.UUID, 1), 25))
	defer server.Close()

	resp, err := http.Get(server.URL + "/endpoints/billing-api/history")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 25, store.historyLimit)
}

func Test_GetLatestExecutionsSortsFailuresFirst(t *testing.T) {

	store := &memStore{executions: []model.Execution{
		{Name: "zeta-api", Status: model.Healthy},
		{Name: "orders-api", Status: model.Unhealthy},
		{Name: "alpha-api", Status: model.Healthy},
		{Name: "billing-api", Status: model.Degraded},
	}}

	server := newTestServer(store, &memRegistrar{}, nil)
	defer server.Close()

	resp, err := http.Get(server.URL + "/executions")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var executions []model.Execution
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&executions))
	require.Equal(t, 4, len(executions))
	assert.Equal(t, "orders-api", executions[0].Name)
	assert.Equal(t, "billing-api", executions[1].Name)
	assert.Equal(t, "alpha-api", executions[2].Name)
	assert.Equal(t, "zeta-api", executions[3].Name)
}

func Test_GetFailureNotifications(t *testing.T) {

	store := &memStore{notifications: []model.FailureNotification{
		{HealthCheckName: "billing-api", IsUpAndRunning: false, LastNotified: time.Now()},
	}}

	server := newTestServer(store, &memRegistrar{}, nil)
	defer server.Close()

	resp, err := http.Get(server.URL + "/notifications")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var notifications []model.FailureNotification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&notifications))
	require.Equal(t, 1, len(notifications))
	assert.Equal(t, "billing-api", notifications[0].HealthCheckName)
}

func Test_ReloadEnqueuesASingleRequest(t *testing.T) {

	reloadQueue := make(chan uuid.UUID, 1)
	server := newTestServer(&memStore{}, &memRegistrar{}, reloadQueue)
	defer server.Close()

	resp, err := http.Post(server.URL+"/reload", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// the queue is full - a second reload is rejected rather than queued
	resp, err = http.Post(server.URL+"/reload", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	assert.Equal(t, 1, len(reloadQueue))
}

func Test_ReadinessEndpoint(t *testing.T) {

	server := newTestServer(&memStore{}, &memRegistrar{}, nil)
	defer server.Close()

	resp, err := http.Get(server.URL + "/kube-ops/ready")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
