// Package httprequest provides the HTTP_REQUEST node executor.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/protocol"
	"github.com/Bojackxiang/n8n-demo/pkg/template"
	"github.com/go-playground/validator/v10"
)

const (
	InputPortMain  = "main"
	OutputPortMain = "main"

	maxResponseBody = 10 << 20
)

// Config defines the configuration of an HTTP_REQUEST node.
type Config struct {
	Endpoint string            `json:"endpoint"          validate:"required"`
	Method   string            `json:"method,omitempty"  validate:"omitempty,oneof=GET POST PUT DELETE PATCH"`
	Body     string            `json:"body,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// HTTPError is returned for a response outside the 2xx range.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Executor performs one outbound HTTP call per attempt.
type Executor struct {
	client   *http.Client
	validate *validator.Validate
}

// New creates the executor. A nil client falls back to http.DefaultClient.
func New(client *http.Client) *Executor {
	if client == nil {
		client = http.DefaultClient
	}

	return &Executor{
		client:   client,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (e *Executor) Type() models.NodeType { return models.NodeTypeHTTPRequest }

func (e *Executor) Name() string { return "HTTP Request" }

func (e *Executor) Description() string {
	return "Sends an HTTP request and returns the response status, headers and body"
}

func (e *Executor) Ports() protocol.PortSpec {
	return protocol.PortSpec{
		Inputs:  []string{InputPortMain},
		Outputs: []string{OutputPortMain},
	}
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"endpoint": map[string]any{
				"type":        "string",
				"description": "Request URL, may contain templates",
			},
			"method": map[string]any{
				"type":    "string",
				"enum":    []any{"GET", "POST", "PUT", "DELETE", "PATCH"},
				"default": "GET",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body, may contain templates",
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
		"required": []any{"endpoint"},
	}
}

func (e *Executor) ValidateConfig(config map[string]any) error {
	_, err := e.parse(config)

	return err
}

func (e *Executor) parse(config map[string]any) (*Config, error) {
	var cfg Config
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, protocol.NewConfigError(string(e.Type()), err.Error())
	}

	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}

	if err := e.validate.Struct(&cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, protocol.NewConfigError(string(e.Type()), err.Error())
		}

		problems := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed on the '%s' rule", strings.ToLower(fe.Field()), fe.Tag()))
		}

		return nil, protocol.NewConfigError(string(e.Type()), problems...)
	}

	// endpoints with templates can only be checked once rendered
	if !template.NeedsTemplating(cfg.Endpoint) {
		if err := e.validate.Var(cfg.Endpoint, "url"); err != nil {
			return nil, protocol.NewConfigError(string(e.Type()), "endpoint must be a valid URL")
		}
	}

	return &cfg, nil
}

func (e *Executor) Execute(ctx context.Context, execCtx *models.ExecutionContext, config map[string]any) (models.Outputs, error) {
	cfg, err := e.parse(config)
	if err != nil {
		return nil, protocol.Fatal(err)
	}

	data := execCtx.TemplateData()

	endpoint, err := template.RenderString(cfg.Endpoint, data)
	if err != nil {
		return nil, protocol.Fatalf("failed to render endpoint template: %w", err)
	}

	if err := e.validate.Var(endpoint, "required,url"); err != nil {
		return nil, protocol.Fatalf("endpoint %q is not a valid URL", endpoint)
	}

	var body string
	if cfg.Body != "" {
		body, err = template.RenderString(cfg.Body, data)
		if err != nil {
			return nil, protocol.Fatalf("failed to render body template: %w", err)
		}
	}

	headers := make(map[string]string, len(cfg.Headers))
	for key, value := range cfg.Headers {
		rendered, err := template.RenderString(value, data)
		if err != nil {
			return nil, protocol.Fatalf("failed to render header %s: %w", key, err)
		}

		headers[key] = rendered
	}

	result, err := e.performRequest(ctx, cfg.Method, endpoint, body, headers)
	if err != nil {
		return nil, err
	}

	return models.Outputs{OutputPortMain: result}, nil
}

// performRequest executes a single HTTP request. Every failure is retryable.
func (e *Executor) performRequest(ctx context.Context, method, url, body string, headers map[string]string) (map[string]any, error) {
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, protocol.Fatalf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, protocol.Retryablef("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, protocol.Retryablef("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, protocol.Retryable(&HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		})
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		respHeaders[key] = resp.Header.Get(key)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}

	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		result["json"] = jsonBody
	}

	return result, nil
}
