// Package template renders node configuration values against the execution context.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/models"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)

		return string(b), err
	},
	"default": func(fallback, v any) any {
		if v == nil || v == "" {
			return fallback
		}

		return v
	},
}

// NeedsTemplating reports whether s contains template actions.
func NeedsTemplating(s string) bool {
	return strings.Contains(s, "{{")
}

// RenderWithContext renders input against the data exposed to an executing node.
func RenderWithContext(input string, execCtx *models.ExecutionContext) (any, error) {
	return Render(input, execCtx.TemplateData())
}

// RenderString renders a template and returns the raw text without coercion.
func RenderString(templateStr string, data any) (string, error) {
	tmpl, err := template.New("config").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// Render executes a template and coerces the result into JSON, a number, a
// boolean or a string, in that order.
func Render(templateStr string, data any) (any, error) {
	raw, err := RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(raw)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderValue walks a JSON-like value and renders every string leaf that
// contains template actions. Other leaves are returned unchanged.
func RenderValue(v any, data any) (any, error) {
	switch val := v.(type) {
	case string:
		if !NeedsTemplating(val) {
			return val, nil
		}

		return Render(val, data)
	case map[string]any:
		out := make(map[string]any, len(val))

		for k, item := range val {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}

			out[k] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(val))

		for i, item := range val {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return v, nil
	}
}

// Truthy converts a rendered value into a boolean.
func Truthy(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case float64:
		return val != 0, nil
	case int:
		return val != 0, nil
	case nil:
		return false, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "", "<no value>", "no", "off":
			return false, nil
		case "yes", "on":
			return true, nil
		}

		return false, fmt.Errorf("cannot evaluate %q as a boolean", val)
	case map[string]any:
		return len(val) > 0, nil
	case []any:
		return len(val) > 0, nil
	default:
		return false, fmt.Errorf("cannot evaluate %T as a boolean", v)
	}
}
