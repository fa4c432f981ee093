package engine

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/eventbus"
	"github.com/Bojackxiang/n8n-demo/pkg/metrics"
	"github.com/Bojackxiang/n8n-demo/pkg/otelhelper"
	"github.com/Bojackxiang/n8n-demo/pkg/planner"
	"go.opentelemetry.io/otel/trace"
)

const DefaultCancelGrace = 5 * time.Second

type config struct {
	logger         *slog.Logger
	tracer         trace.Tracer
	metrics        *metrics.Collector
	publisher      eventbus.EventPublisher
	maxConcurrency int64
	runConcurrency int
	cancelGrace    time.Duration
	backoff        BackoffPolicy
	plannerOpts    []planner.Option
	now            func() time.Time
}

func defaultConfig() config {
	return config{
		logger:         slog.Default(),
		tracer:         otelhelper.NoopTracer(),
		maxConcurrency: int64(runtime.NumCPU()),
		cancelGrace:    DefaultCancelGrace,
		backoff:        DefaultBackoff(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

type Option func(*config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// nolint:ireturn
func WithTracer(tracer trace.Tracer) Option {
	return func(c *config) { c.tracer = tracer }
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(c *config) { c.metrics = collector }
}

// WithPublisher reports terminal runs and node-instances on the event bus.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(c *config) { c.publisher = publisher }
}

// WithMaxConcurrency bounds executor calls across every run of the engine.
func WithMaxConcurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxConcurrency = int64(n)
		}
	}
}

// WithRunConcurrency bounds executor calls within one run. Zero means no limit.
func WithRunConcurrency(n int) Option {
	return func(c *config) { c.runConcurrency = n }
}

// WithCancelGrace sets how long in-flight calls may finish after a cancel request.
func WithCancelGrace(d time.Duration) Option {
	return func(c *config) { c.cancelGrace = d }
}

func WithBackoff(policy BackoffPolicy) Option {
	return func(c *config) { c.backoff = policy }
}

func WithPlannerOptions(opts ...planner.Option) Option {
	return func(c *config) { c.plannerOpts = append(c.plannerOpts, opts...) }
}
