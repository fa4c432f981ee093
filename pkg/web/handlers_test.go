package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/engine"
	"github.com/Bojackxiang/n8n-demo/pkg/metrics"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/persistence/file"
	"github.com/Bojackxiang/n8n-demo/pkg/registry"
	"github.com/Bojackxiang/n8n-demo/pkg/services"
	"github.com/Bojackxiang/n8n-demo/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOwner = "user-1"

type testAPI struct {
	app    *fiber.App
	engine *engine.Engine
}

func setupTestApp(t *testing.T) *testAPI {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persistence := file.NewPersistence(t.TempDir())
	reg := registry.NewDefault(logger, registry.Options{})
	collector := metrics.NewCollector()

	e := engine.New(persistence.Runs(), reg, engine.WithLogger(logger), engine.WithMetrics(collector))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = e.Shutdown(ctx)
	})

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(persistence, e),
		services.NewExecution(persistence, e, logger),
		validator.New(validator.WithRequiredStructEnabled()),
		reg,
	)

	app := fiber.New()
	handlers.Register(app, collector.Handler())

	return &testAPI{app: app, engine: e}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, owner string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	if owner != "" {
		req.Header.Set(web.OwnerHeader, owner)
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func (a *testAPI) createWorkflow(t *testing.T, name string) *models.Workflow {
	t.Helper()

	resp, body := a.do(t, http.MethodPost, "/workflows", web.CreateWorkflowRequest{Name: name}, testOwner)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var wf models.Workflow
	require.NoError(t, json.Unmarshal(body, &wf))

	return &wf
}

func runnableGraph() web.UpdateGraphRequest {
	return web.UpdateGraphRequest{
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeTypeManualTrigger, Name: "Start"},
			{ID: "hook", Type: models.NodeTypeWebhook, Name: "Hook"},
			{ID: "step", Type: models.NodeTypeAction, Name: "Step"},
		},
		Connections: []*models.Connection{
			{ID: "c1", SourceNodeID: "start", TargetNodeID: "step"},
			{ID: "c2", SourceNodeID: "hook", TargetNodeID: "step"},
		},
	}
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		owner          string
		expectedStatus int
	}{
		{name: "successful creation", body: web.CreateWorkflowRequest{Name: "Orders"}, owner: testOwner, expectedStatus: http.StatusCreated},
		{name: "missing name", body: web.CreateWorkflowRequest{}, owner: testOwner, expectedStatus: http.StatusBadRequest},
		{name: "missing owner", body: web.CreateWorkflowRequest{Name: "Orders"}, expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := setupTestApp(t)

			resp, body := api.do(t, http.MethodPost, "/workflows", tt.body, tt.owner)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.expectedStatus != http.StatusCreated {
				assert.Contains(t, resp.Header.Get("Content-Type"), "json")

				return
			}

			var wf models.Workflow
			require.NoError(t, json.Unmarshal(body, &wf))
			assert.Equal(t, "Orders", wf.Name)
			assert.Equal(t, testOwner, wf.Owner)
			require.Len(t, wf.Nodes, 1)
			assert.Equal(t, models.NodeTypeInitial, wf.Nodes[0].Type)
		})
	}
}

func TestAPIHandlers_WorkflowLifecycle(t *testing.T) {
	api := setupTestApp(t)
	wf := api.createWorkflow(t, "Lifecycle")

	resp, body := api.do(t, http.MethodGet, "/workflows", nil, testOwner)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), wf.ID)

	resp, _ = api.do(t, http.MethodGet, "/workflows/"+wf.ID, nil, "someone-else")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = api.do(t, http.MethodPatch, "/workflows/"+wf.ID, web.RenameWorkflowRequest{Name: "Renamed"}, testOwner)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "Renamed")

	resp, body = api.do(t, http.MethodPut, "/workflows/"+wf.ID+"/graph", runnableGraph(), testOwner)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = api.do(t, http.MethodPost, "/workflows/"+wf.ID+"/validate", nil, testOwner)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report services.ValidationReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.True(t, report.Valid)

	resp, _ = api.do(t, http.MethodDelete, "/workflows/"+wf.ID, nil, testOwner)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = api.do(t, http.MethodGet, "/workflows/"+wf.ID, nil, testOwner)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_InvalidGraphIsUnprocessable(t *testing.T) {
	api := setupTestApp(t)
	wf := api.createWorkflow(t, "Broken")

	graph := web.UpdateGraphRequest{
		Nodes: []*models.Node{
			{ID: "a", Type: models.NodeTypeAction},
			{ID: "b", Type: models.NodeTypeAction},
		},
		Connections: []*models.Connection{
			{ID: "c1", SourceNodeID: "a", TargetNodeID: "b"},
			{ID: "c2", SourceNodeID: "b", TargetNodeID: "a"},
		},
	}

	resp, body := api.do(t, http.MethodPut, "/workflows/"+wf.ID+"/graph", graph, testOwner)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(body))

	var problem struct {
		Type       string `json:"type"`
		Title      string `json:"title"`
		Status     int    `json:"status"`
		Instance   string `json:"instance"`
		Violations []struct {
			Code string `json:"code"`
		} `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "invalid_workflow", problem.Type)
	assert.Equal(t, http.StatusUnprocessableEntity, problem.Status)
	assert.Equal(t, "Unprocessable Entity", problem.Title)
	assert.Equal(t, "/workflows/"+wf.ID+"/graph", problem.Instance)
	require.NotEmpty(t, problem.Violations)
	assert.Equal(t, "cycle", problem.Violations[0].Code)

	resp, body = api.do(t, http.MethodPost, "/workflows/"+wf.ID+"/runs", web.LaunchRunRequest{}, testOwner)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "no_trigger")
}

func TestAPIHandlers_RunLifecycle(t *testing.T) {
	api := setupTestApp(t)
	wf := api.createWorkflow(t, "Runs")

	resp, body := api.do(t, http.MethodPut, "/workflows/"+wf.ID+"/graph", runnableGraph(), testOwner)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = api.do(t, http.MethodPost, "/workflows/"+wf.ID+"/runs",
		web.LaunchRunRequest{TriggerNodeID: "start", Payload: map[string]any{"n": 1}}, testOwner)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var launched web.LaunchRunResponse
	require.NoError(t, json.Unmarshal(body, &launched))
	require.NotEmpty(t, launched.RunID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	final, err := api.engine.Wait(ctx, launched.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, final.Status)

	resp, body = api.do(t, http.MethodGet, "/runs/"+launched.RunID, nil, testOwner)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var details services.RunDetails
	require.NoError(t, json.Unmarshal(body, &details))
	assert.Equal(t, models.RunStatusSucceeded, details.Run.Status)
	assert.Len(t, details.Nodes, 3)

	resp, _ = api.do(t, http.MethodGet, "/runs/"+launched.RunID, nil, "someone-else")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = api.do(t, http.MethodGet, "/workflows/"+wf.ID+"/runs", nil, testOwner)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), launched.RunID)

	resp, body = api.do(t, http.MethodPost, "/runs/"+launched.RunID+"/cancel", nil, testOwner)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	resp, _ = api.do(t, http.MethodPost, "/workflows/"+wf.ID+"/runs",
		web.LaunchRunRequest{TriggerNodeID: "step"}, testOwner)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_Webhook(t *testing.T) {
	api := setupTestApp(t)
	wf := api.createWorkflow(t, "Hooks")

	resp, body := api.do(t, http.MethodPut, "/workflows/"+wf.ID+"/graph", runnableGraph(), testOwner)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = api.do(t, http.MethodPost, "/hooks/"+wf.ID+"/hook", map[string]any{"order": "A-1"}, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var receipt services.HookReceipt
	require.NoError(t, json.Unmarshal(body, &receipt))
	assert.NotEmpty(t, receipt.RunID)

	resp, _ = api.do(t, http.MethodPost, "/hooks/"+wf.ID+"/start", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = api.do(t, http.MethodPost, "/hooks/missing/hook", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_Observability(t *testing.T) {
	api := setupTestApp(t)

	resp, body := api.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	resp, body = api.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "flow_runs_in_flight")

	resp, body = api.do(t, http.MethodGet, "/node-types", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "HTTP_REQUEST")
}
