package registry

import (
	"log/slog"
	"net/http"

	"github.com/Bojackxiang/n8n-demo/pkg/nodes/action"
	"github.com/Bojackxiang/n8n-demo/pkg/nodes/conditional"
	"github.com/Bojackxiang/n8n-demo/pkg/nodes/httprequest"
	"github.com/Bojackxiang/n8n-demo/pkg/nodes/loop"
	"github.com/Bojackxiang/n8n-demo/pkg/nodes/merge"
	"github.com/Bojackxiang/n8n-demo/pkg/nodes/trigger"
)

// Options configures the built-in executors.
type Options struct {
	HTTPClient *http.Client
}

// RegisterDefaults registers every built-in executor.
func (r *Registry) RegisterDefaults(opts Options) {
	r.MustRegister(trigger.NewScheduled())
	r.MustRegister(trigger.NewManual())
	r.MustRegister(trigger.NewWebhook())

	r.MustRegister(httprequest.New(opts.HTTPClient))
	r.MustRegister(action.New(r.logger))
	r.MustRegister(conditional.New())
	r.MustRegister(merge.New())
	r.MustRegister(loop.New())
}

// NewDefault creates a registry holding the built-in executors.
func NewDefault(log *slog.Logger, opts Options) *Registry {
	r := New(log)
	r.RegisterDefaults(opts)

	return r
}
