package httprequest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execCtx() *models.ExecutionContext {
	return &models.ExecutionContext{
		RunID:      "run-1",
		NodeID:     "call",
		InstanceID: "call",
		Iteration:  models.NoIteration,
		Inputs: []models.Input{
			{Port: "main", SourceInstanceID: "trigger", Data: map[string]any{"user": "alice", "id": 42}},
		},
	}
}

func TestExecutor_GETReturnsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/users/42", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"alice"}`))
	}))
	defer server.Close()

	exec := New(server.Client())

	out, err := exec.Execute(context.Background(), execCtx(), map[string]any{
		"endpoint": server.URL + "/users/{{ .input.id }}",
	})
	require.NoError(t, err)

	result := out[OutputPortMain]
	require.NotNil(t, result)
	assert.Equal(t, http.StatusOK, result["status_code"])
	assert.Equal(t, `{"name":"alice"}`, result["body"])
	assert.Equal(t, map[string]any{"name": "alice"}, result["json"])
	assert.Equal(t, "application/json", result["headers"].(map[string]any)["Content-Type"])
}

func TestExecutor_POSTRendersBodyAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, `{"user":"alice"}`, string(body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "run-1", r.Header.Get("X-Run"))

		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	out, err := New(server.Client()).Execute(context.Background(), execCtx(), map[string]any{
		"endpoint": server.URL,
		"method":   "post",
		"body":     `{"user":"{{ .input.user }}"}`,
		"headers":  map[string]any{"X-Run": "{{ .run.id }}"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, out[OutputPortMain]["status_code"])
}

func TestExecutor_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.Client()).Execute(context.Background(), execCtx(), map[string]any{"endpoint": server.URL})
	require.Error(t, err)
	assert.True(t, protocol.IsRetryable(err))

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestExecutor_TransportErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := New(nil).Execute(context.Background(), execCtx(), map[string]any{"endpoint": url})
	require.Error(t, err)
	assert.True(t, protocol.IsRetryable(err))
}

func TestExecutor_ConfigErrorsAreFatal(t *testing.T) {
	exec := New(nil)

	tests := []struct {
		name   string
		config map[string]any
	}{
		{name: "missing endpoint", config: map[string]any{}},
		{name: "bad method", config: map[string]any{"endpoint": "https://example.test", "method": "TRACE"}},
		{name: "not a url", config: map[string]any{"endpoint": "not a url"}},
		{name: "rendered not a url", config: map[string]any{"endpoint": "{{ .input.user }}"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exec.Execute(context.Background(), execCtx(), tt.config)
			require.Error(t, err)
			assert.True(t, protocol.IsFatal(err))
		})
	}

	assert.True(t, protocol.IsConfigError(exec.ValidateConfig(map[string]any{"method": "GET"})))
	assert.NoError(t, exec.ValidateConfig(map[string]any{"endpoint": "https://example.test/{{ .input.id }}"}))
}
