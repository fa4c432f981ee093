// Package main provides the flow API server: REST endpoints, the execution
// engine and the dispatcher consuming launch requests.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/Bojackxiang/n8n-demo/pkg/dispatcher"
	"github.com/Bojackxiang/n8n-demo/pkg/engine"
	"github.com/Bojackxiang/n8n-demo/pkg/eventbus"
	"github.com/Bojackxiang/n8n-demo/pkg/metrics"
	"github.com/Bojackxiang/n8n-demo/pkg/persistence"
	"github.com/Bojackxiang/n8n-demo/pkg/registry"
	"github.com/Bojackxiang/n8n-demo/pkg/services"
	"github.com/Bojackxiang/n8n-demo/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"golang.org/x/time/rate"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	engine      *engine.Engine
	metrics     *metrics.Collector
	eventBus    eventbus.EventBus
	validate    *validator.Validate

	launchRate  rate.Limit
	launchBurst int
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	engine *engine.Engine,
	metrics *metrics.Collector,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		engine:      engine,
		metrics:     metrics,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		launchRate:  rate.Inf,
	}
}

// WithLaunchRate bounds how fast queued launch requests reach the engine.
// Zero or less keeps the dispatcher unlimited.
func (a *API) WithLaunchRate(perSecond float64, burst int) *API {
	if perSecond > 0 {
		a.launchRate = rate.Limit(perSecond)
		a.launchBurst = max(burst, 1)
	}

	return a
}

func (a *API) execution() *services.Execution {
	var opts []services.ExecutionOption
	if a.eventBus != nil {
		opts = append(opts, services.WithRequestPublisher(a.eventBus))
	}

	return services.NewExecution(a.persistence, a.engine, a.logger, opts...)
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		services.NewWorkflow(a.persistence, a.engine),
		a.execution(),
		a.validate,
		a.registry,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flow API")
	})

	handlers.Register(app, a.metrics.Handler())

	return app
}

// StartDispatcher subscribes the launch dispatcher to the event bus.
func (a *API) StartDispatcher(ctx context.Context) error {
	if a.eventBus == nil {
		return nil
	}

	d := dispatcher.New(a.execution(), a.logger, dispatcher.WithRateLimit(a.launchRate, a.launchBurst))
	if err := d.Register(a.eventBus); err != nil {
		return err
	}

	return a.eventBus.Subscribe(ctx)
}

func (a *API) listen(app *fiber.App, port int) error {
	a.logger.Info("Listening", "port", port)

	return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}
