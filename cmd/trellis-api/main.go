package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jnarwell/trellis-sub000/config"
	"github.com/jnarwell/trellis-sub000/internal/repositories/dependents"
	entityrepo "github.com/jnarwell/trellis-sub000/internal/repositories/entity"
	eventrepo "github.com/jnarwell/trellis-sub000/internal/repositories/event"
	relrepo "github.com/jnarwell/trellis-sub000/internal/repositories/relationship"
	"github.com/jnarwell/trellis-sub000/internal/repositories/relationshipschema"
	"github.com/jnarwell/trellis-sub000/pkg/auth"
	"github.com/jnarwell/trellis-sub000/pkg/computation"
	"github.com/jnarwell/trellis-sub000/pkg/database"
	"github.com/jnarwell/trellis-sub000/pkg/entities"
	"github.com/jnarwell/trellis-sub000/pkg/events"
	"github.com/jnarwell/trellis-sub000/pkg/kafka"
	"github.com/jnarwell/trellis-sub000/pkg/logging"
	"github.com/jnarwell/trellis-sub000/pkg/middleware"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/relationships"
	authroutes "github.com/jnarwell/trellis-sub000/pkg/routes/auth"
	entityroutes "github.com/jnarwell/trellis-sub000/pkg/routes/entity"
	"github.com/jnarwell/trellis-sub000/pkg/routes/eventlog"
	"github.com/jnarwell/trellis-sub000/pkg/routes/health"
	relroutes "github.com/jnarwell/trellis-sub000/pkg/routes/relationship"
	"github.com/jnarwell/trellis-sub000/pkg/routes/schemas"
	"github.com/jnarwell/trellis-sub000/pkg/routes/subscribe"
	"github.com/jnarwell/trellis-sub000/pkg/schema"
	"github.com/jnarwell/trellis-sub000/pkg/staleness"
	"github.com/jnarwell/trellis-sub000/pkg/startup"
	"github.com/jnarwell/trellis-sub000/pkg/subscriptions"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
	"github.com/jnarwell/trellis-sub000/pkg/tracing/exporters"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, flush := logging.New(cfg.PrettyLogs)
	defer flush()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	if cfg.TracingEnabled {
		shutdown, err := initTracing(ctx, cfg)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	var (
		db  database.DB
		rdb *redis.Client
	)

	// wired once the database is up
	var (
		entityRepo    *entityrepo.Repository
		relRepo       *relrepo.Repository
		schemaRepo    *relationshipschema.Repository
		eventRepo     *eventrepo.Repository
		dependentRepo *dependents.Repository
	)

	var (
		emitter    *events.Emitter
		propagator *staleness.Propagator
		computer   *computation.Service
		entitySvc  *entities.Service
		relSvc     *relationships.Service
		authSvc    *auth.Service
		registry   *schema.Registry
		hub        *subscriptions.Hub
		socketSrv  *subscriptions.Server
		producer   *kafka.Producer
		checker    *health.Checker
		echoServer *echo.Echo
	)

	boot := startup.New(logger, cfg.StartupMaxAttempts)

	boot.AddDependency(&startup.Func{
		Name: "database",
		OnStart: func(ctx context.Context) error {
			var err error
			db, err = database.Connect(ctx, cfg.Database(), logger)
			if err != nil {
				return err
			}

			driver, err := migratepg.WithInstance(db.Unsafe().DB, &migratepg.Config{})
			if err != nil {
				return err
			}
			migrator := database.NewMigrationService(logger, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
			})
			return migrator.Migrate(cfg.DatabaseName, driver)
		},
		OnStop: func(_ context.Context) error { return db.Close() },
	})

	boot.AddDependency(&startup.Func{
		Name:  "redis",
		Needs: []string{"database"},
		OnStart: func(ctx context.Context) error {
			rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			return rdb.Ping(ctx).Err()
		},
		OnStop: func(_ context.Context) error { return rdb.Close() },
	})

	boot.AddDependency(&startup.Func{
		Name:  "services",
		Needs: []string{"database", "redis"},
		OnStart: func(ctx context.Context) error {
			entityRepo = entityrepo.NewRepository(db, logger)
			relRepo = relrepo.NewRepository(db, logger)
			schemaRepo = relationshipschema.NewRepository(db, logger)
			eventRepo = eventrepo.NewRepository(db, logger)
			dependentRepo = dependents.NewRepository(db, logger)

			emitter = events.NewEmitter(eventRepo, logger)
			propagator = staleness.NewPropagator(entityRepo, dependentRepo, relRepo, logger)
			computer = computation.NewService(entityRepo, relRepo, logger)
			hub = subscriptions.NewHub(logger)

			authSvc = auth.NewService(cfg.Auth(), auth.NewRedisTokenStore(rdb), logger)
			socketSrv = subscriptions.NewServer(hub, authSvc, logger)

			entitySvc = entities.NewService(db, entityRepo, propagator, relRepo, emitter, computer, cfg.EvaluateOnWrite, logger)
			relSvc = relationships.NewService(db, relRepo, schemaRepo, entityRepo, emitter, propagator, logger)

			// staleness first so dependents are marked before fanout
			emitter.Subscribe(models.EventPropertyChanged, propagator.Handler())
			emitter.SubscribeAll(hub.Handler())

			if cfg.KafkaEnabled {
				producer = kafka.NewProducer(cfg.Kafka(), logger)
				emitter.SubscribeAll(producer.Handler())
			}

			registry = schema.NewRegistry(schemaRepo)
			if cfg.ProductConfigPath != "" {
				if err := schema.LoadFile(ctx, cfg.ProductConfigPath, registry); err != nil {
					return err
				}
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			hub.Close()
			if producer != nil {
				return producer.Close()
			}
			return nil
		},
	})

	boot.AddDependency(&startup.Func{
		Name:  "http",
		Needs: []string{"services"},
		OnStart: func(_ context.Context) error {
			e := echo.New()
			e.HideBanner = true
			e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
			e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
			e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second

			e.HTTPErrorHandler = middleware.Error(logger, cfg.IsProduction())
			e.Use(middleware.Context())
			e.Use(middleware.Logger(logger))
			e.Use(middleware.Auth(authSvc))

			root := e.Group("")
			checker = health.NewChecker(dbPinger{db}, redisPinger{rdb}, cfg.Version)
			checker.Register(root)
			e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

			authroutes.NewHandler(authSvc).Register(root)
			entityroutes.NewHandler(entitySvc).Register(root)
			relroutes.NewHandler(relSvc).Register(root)
			eventlog.NewHandler(eventRepo).Register(root)
			schemas.NewHandler(registry, schemaRepo).Register(root)
			subscribe.NewHandler(socketSrv).Register(root)

			echoServer = e
			go func() {
				if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
					logger.WithError(err).Error("HTTP server stopped")
				}
			}()
			checker.SetReady(true)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			checker.SetReady(false)
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return echoServer.Shutdown(shutdownCtx)
		},
	})

	if err := boot.Start(ctx); err != nil {
		return err
	}
	logger.WithField("port", cfg.Port).Infof("%s listening on :%d", cfg.AppName, cfg.Port)

	<-ctx.Done()
	logger.Info("Shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return boot.Stop(stopCtx)
}

func initTracing(ctx context.Context, cfg *config.Config) (func(), error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	if cfg.TracingOTLPEndpoint != "" {
		otlpCfg := exporters.DefaultOTLPConfig()
		otlpCfg.Endpoint = cfg.TracingOTLPEndpoint
		exporter, err = exporters.NewOTLPExporter(ctx, otlpCfg)
	} else {
		exporter, err = exporters.NewConsoleExporter()
	}
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	tracing.SetTracer(provider.Tracer(cfg.AppName))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}, nil
}

type dbPinger struct {
	db database.DB
}

func (p dbPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

type redisPinger struct {
	rdb *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
