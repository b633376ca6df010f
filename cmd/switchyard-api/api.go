// Package main provides the Switchyard API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/switchyardhq/switchyard/pkg/eventbus"
	"github.com/switchyardhq/switchyard/pkg/gateway"
	"github.com/switchyardhq/switchyard/pkg/llm"
	"github.com/switchyardhq/switchyard/pkg/persistence"
	"github.com/switchyardhq/switchyard/pkg/persistence/memory"
	"github.com/switchyardhq/switchyard/pkg/pipeline"
	"github.com/switchyardhq/switchyard/pkg/refdata"
	"github.com/switchyardhq/switchyard/pkg/resilience"
	"github.com/switchyardhq/switchyard/pkg/router"
	"github.com/switchyardhq/switchyard/pkg/variables"
	"github.com/switchyardhq/switchyard/pkg/web"
)

// breakerSweepSpec is the cron schedule for evicting idle breaker entries.
const breakerSweepSpec = "@every 10m"

type API struct {
	logger     *slog.Logger
	store      *memory.Store
	executions persistence.ExecutionRepository
	eventBus   eventbus.EventBus
	model      llm.Model
	cache      refdata.Cache
	breakers   *resilience.BreakerStore
	validate   *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store *memory.Store,
	executions persistence.ExecutionRepository,
	eventBus eventbus.EventBus,
	model llm.Model,
	cache refdata.Cache,
) *API {
	return &API{
		logger:     logger,
		store:      store,
		executions: executions,
		eventBus:   eventBus,
		model:      model,
		cache:      cache,
		breakers:   resilience.NewBreakerStore(resilience.DefaultBreakerSettings(), nil, logger),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	resolver := variables.NewResolver(a.store, a.logger)
	loader := refdata.NewLoader(a.cache, a.logger)

	actionGateway := gateway.New(gateway.Config{
		Integrations: a.store,
		Connections:  a.store,
		Credentials:  a.store,
		Resolver:     resolver,
		Refdata:      loader,
		Breakers:     a.breakers,
		Publisher:    a.eventBus,
		Logger:       a.logger,
	})

	toolRouter := router.New(a.store, actionGateway, resolver, a.model, a.logger)

	orchestrator := pipeline.New(pipeline.Config{
		Pipelines:  a.store,
		Executions: a.executions,
		Actions:    actionGateway,
		Composites: toolRouter,
		Resolver:   resolver,
		Publisher:  a.eventBus,
		Logger:     a.logger,
	})

	handlers := web.NewAPIHandlers(actionGateway, toolRouter, orchestrator, a.executions, resolver, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Switchyard API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	janitor, err := a.breakers.StartJanitor(breakerSweepSpec)
	if err != nil {
		return err
	}
	defer janitor.Stop()

	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
