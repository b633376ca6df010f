package main

import (
	"context"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	redis "github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/switchyardhq/switchyard/pkg/cmd"
	"github.com/switchyardhq/switchyard/pkg/llm"
	"github.com/switchyardhq/switchyard/pkg/log"
	"github.com/switchyardhq/switchyard/pkg/otelhelper"
	"github.com/switchyardhq/switchyard/pkg/persistence/memory"
	"github.com/switchyardhq/switchyard/pkg/refdata"
)

const defaultPort = 9090

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "switchyard-api",
		Usage:                 "Invoke integration actions, composite tools and pipelines",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres URL for execution persistence (in-memory when empty)",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the reference-data cache (disabled when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "openai-api-key",
				Usage:   "OpenAI API key for agent-driven routing (rule routing only when empty)",
				Sources: cli.EnvVars("OPENAI_API_KEY"),
			},
			&cli.DurationFlag{
				Name:    "refdata-ttl",
				Usage:   "TTL for cached reference-data items",
				Value:   15 * time.Minute,
				Sources: cli.EnvVars("REFDATA_TTL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Switchyard API")

			if command.Bool("tracing") {
				tracerProvider, err := otelhelper.InitTracer(ctx, "switchyard-api")
				if err != nil {
					return err
				}

				defer func() {
					if err := tracerProvider.Shutdown(ctx); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()
			}

			store := memory.NewStore()

			executions, closeExecutions := cmd.NewExecutionStore(ctx, logger, command.String("database-url"), store)
			defer func() {
				if err := closeExecutions(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "switchyard", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var cache refdata.Cache

			if redisURL := command.String("redis-url"); redisURL != "" {
				redisOpts, err := redis.ParseURL(redisURL)
				if err != nil {
					return err
				}

				cache = refdata.NewRedisCache(redis.NewClient(redisOpts), command.Duration("refdata-ttl"))
			}

			var model llm.Model

			if apiKey := command.String("openai-api-key"); apiKey != "" {
				client := openai.NewClient(option.WithAPIKey(apiKey))
				model = llm.NewOpenAIModel(&client)
			}

			api := NewAPI(
				logger,
				store,
				executions,
				eventBus,
				model,
				cache,
			)

			err := api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
