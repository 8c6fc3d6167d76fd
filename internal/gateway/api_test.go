// ABOUTME: HTTP API tests: bearer auth, CSRF single-use tokens, task cancel.
// ABOUTME: Drives the mux directly through httptest without a WebSocket.

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/claw-gateway/internal/model"
	"github.com/2389/claw-gateway/internal/task"
	"github.com/2389/claw-gateway/internal/thread"
)

type apiHarness struct {
	gw     *Gateway
	server *httptest.Server
	token  string
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gw := newTestGateway(t, model.NewScriptedRunner())
	server := httptest.NewServer(gw.httpServer.Handler)
	t.Cleanup(server.Close)

	token, err := gw.sessions.Issue("api-test-session")
	require.NoError(t, err)
	return &apiHarness{gw: gw, server: server, token: token}
}

func (h *apiHarness) request(t *testing.T, method, path string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func (h *apiHarness) authed(t *testing.T, method, path string) (*http.Response, map[string]any) {
	return h.request(t, method, path, map[string]string{"Authorization": "Bearer " + h.token})
}

func TestAPIRejectsMissingToken(t *testing.T) {
	h := newAPIHarness(t)
	resp, _ := h.request(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIRejectsBadToken(t *testing.T) {
	h := newAPIHarness(t)
	resp, _ := h.request(t, http.MethodGet, "/api/status", map[string]string{
		"Authorization": "Bearer not-a-real-token",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIStatus(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.authed(t, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "claw-gateway", body["agent"])
	assert.Equal(t, false, body["vault_locked"])
}

func TestAPITasksListAndCancel(t *testing.T) {
	h := newAPIHarness(t)
	created := h.gw.tasks.Create(task.KindCommand, "api-test-session", task.CreateOptions{
		Label:   "sleepy",
		Command: "sleep 600",
	})
	require.NoError(t, h.gw.tasks.Start(created.ID))

	resp, body := h.authed(t, http.MethodGet, "/api/tasks")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tasks := body["tasks"].([]any)
	require.Len(t, tasks, 1)

	// Cancel needs a CSRF token on top of the bearer token.
	resp, _ = h.request(t, http.MethodPost, fmt.Sprintf("/api/tasks/cancel?id=%d", created.ID), map[string]string{
		"Authorization": "Bearer " + h.token,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, body = h.authed(t, http.MethodGet, "/api/csrf")
	csrf := body["token"].(string)
	require.NotEmpty(t, csrf)

	resp, body = h.request(t, http.MethodPost, fmt.Sprintf("/api/tasks/cancel?id=%d", created.ID), map[string]string{
		"Authorization": "Bearer " + h.token,
		"X-CSRF-Token":  csrf,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["cancelled"])

	got, err := h.gw.tasks.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)

	// The same token stays valid for later requests until its TTL expires.
	second := h.gw.tasks.Create(task.KindCommand, "api-test-session", task.CreateOptions{
		Label:   "sleepy too",
		Command: "sleep 600",
	})
	require.NoError(t, h.gw.tasks.Start(second.ID))
	resp, body = h.request(t, http.MethodPost, fmt.Sprintf("/api/tasks/cancel?id=%d", second.ID), map[string]string{
		"Authorization": "Bearer " + h.token,
		"X-CSRF-Token":  csrf,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["cancelled"])
}

func TestAPIThreads(t *testing.T) {
	h := newAPIHarness(t)
	// Threads created before the request show up with foreground marked.
	_, err := h.gw.threads.Create(thread.KindChat, "main", 0)
	require.NoError(t, err)
	resp, body := h.authed(t, http.MethodGet, "/api/threads")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	threads := body["threads"].([]any)
	require.Len(t, threads, 1)
	first := threads[0].(map[string]any)
	assert.Equal(t, true, first["is_foreground"])
}

func TestHealthEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(h.server.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
