package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkhub/internal/bulk"
	"bulkhub/internal/config"
)

func newTestApplication(t *testing.T) (*Application, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Engine.RetryDelay = time.Millisecond
	cfg.Engine.RetryMaxDelay = 5 * time.Millisecond
	// Status polling in these tests is far faster than the production limit.
	cfg.Security.RateLimit.Enabled = false

	app, err := NewApplication(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(app.Router)
	t.Cleanup(func() {
		srv.Close()
		app.Manager.Shutdown(context.Background())
	})
	return app, srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, owner string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func createOperation(t *testing.T, srv *httptest.Server, owner string, action string, itemIDs []string, params map[string]any) bulk.OperationSummary {
	t.Helper()

	resp := doJSON(t, srv, http.MethodPost, "/api/operations", owner, map[string]any{
		"action":   action,
		"item_ids": itemIDs,
		"params":   params,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var summary bulk.OperationSummary
	decodeBody(t, resp, &summary)
	require.NotEmpty(t, summary.ID)
	return summary
}

func waitForTerminal(t *testing.T, srv *httptest.Server, owner, operationID string) bulk.OperationStatus {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp := doJSON(t, srv, http.MethodGet, "/api/operations/"+operationID, owner, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var status bulk.OperationStatus
		decodeBody(t, resp, &status)
		if status.Status.Terminal() {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("operation %s did not reach a terminal state", operationID)
	return bulk.OperationStatus{}
}

func TestApplicationHealthAndMetrics(t *testing.T) {
	_, srv := newTestApplication(t)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/api/version")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplicationRequiresOwnerForAPI(t *testing.T) {
	_, srv := newTestApplication(t)

	resp := doJSON(t, srv, http.MethodGet, "/api/operations", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestApplicationEndToEndOperation(t *testing.T) {
	_, srv := newTestApplication(t)

	items := make([]string, 10)
	for i := range items {
		items[i] = fmt.Sprintf("ticket-%03d", i+1)
	}
	summary := createOperation(t, srv, "agent-1", "set_status", items, map[string]any{"status": "resolved"})

	status := waitForTerminal(t, srv, "agent-1", summary.ID)
	assert.Equal(t, bulk.StatusCompleted, status.Status)
	assert.Equal(t, 10, status.Processed)
	assert.Equal(t, 10, status.Succeeded)
	assert.Equal(t, 0, status.Failed)
}

func TestBuiltinActionRejectsMissingParam(t *testing.T) {
	_, srv := newTestApplication(t)

	summary := createOperation(t, srv, "agent-1", "add_comment", []string{"ticket-1", "ticket-2"}, nil)

	status := waitForTerminal(t, srv, "agent-1", summary.ID)
	assert.Equal(t, bulk.StatusCompleted, status.Status, "item failures do not fail the operation")
	assert.Equal(t, 2, status.Failed)
	assert.Equal(t, 0, status.Succeeded)
	require.NotEmpty(t, status.Errors)
	assert.Equal(t, bulk.ErrorKindPermanent, status.Errors[0].Kind)
}

func TestApplicationListScopedToOwner(t *testing.T) {
	_, srv := newTestApplication(t)

	createOperation(t, srv, "agent-1", "delete", []string{"ticket-1"}, nil)
	createOperation(t, srv, "agent-2", "delete", []string{"ticket-2"}, nil)

	resp := doJSON(t, srv, http.MethodGet, "/api/operations", "agent-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result bulk.ListResult
	decodeBody(t, resp, &result)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "agent-1", result.Items[0].OwnerID)
}

func TestApplicationStop(t *testing.T) {
	app, _ := newTestApplication(t)

	require.NoError(t, app.Stop(context.Background()))
}
