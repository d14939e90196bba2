package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Londondannyboy/quest-sub003/config"
	"github.com/Londondannyboy/quest-sub003/internal/database"
	"github.com/Londondannyboy/quest-sub003/internal/logger"
	"github.com/Londondannyboy/quest-sub003/internal/middleware"
	"github.com/Londondannyboy/quest-sub003/internal/observability"
	colleaguerepo "github.com/Londondannyboy/quest-sub003/internal/repositories/colleague"
	entityrepo "github.com/Londondannyboy/quest-sub003/internal/repositories/entity"
	jobrepo "github.com/Londondannyboy/quest-sub003/internal/repositories/job"
	runrepo "github.com/Londondannyboy/quest-sub003/internal/repositories/run"
	sourcerepo "github.com/Londondannyboy/quest-sub003/internal/repositories/source"
	validationrepo "github.com/Londondannyboy/quest-sub003/internal/repositories/validation"
	"github.com/Londondannyboy/quest-sub003/internal/startup"
	"github.com/Londondannyboy/quest-sub003/pkg/classify"
	"github.com/Londondannyboy/quest-sub003/pkg/events"
	"github.com/Londondannyboy/quest-sub003/pkg/graph"
	"github.com/Londondannyboy/quest-sub003/pkg/kafka"
	"github.com/Londondannyboy/quest-sub003/pkg/matching"
	"github.com/Londondannyboy/quest-sub003/pkg/pipeline"
	"github.com/Londondannyboy/quest-sub003/pkg/projector"
	"github.com/Londondannyboy/quest-sub003/pkg/redis"
	"github.com/Londondannyboy/quest-sub003/pkg/routes/graphview"
	"github.com/Londondannyboy/quest-sub003/pkg/routes/health"
	"github.com/Londondannyboy/quest-sub003/pkg/routes/review"
	runroute "github.com/Londondannyboy/quest-sub003/pkg/routes/run"
	"github.com/Londondannyboy/quest-sub003/pkg/scheduler"
	"github.com/Londondannyboy/quest-sub003/pkg/scrape"
)

const version = "0.1.0"

// dependency adapts closures to the startup.Dependency interface.
type dependency struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (d *dependency) GetName() string        { return d.name }
func (d *dependency) DependsOn() []string    { return d.dependsOn }
func (d *dependency) Start(ctx context.Context) error { return d.start(ctx) }
func (d *dependency) Stop(ctx context.Context) error {
	if d.stop == nil {
		return nil
	}
	return d.stop(ctx)
}

// dbPinger adapts the sqlx-backed DB to the health checker's Pinger.
type dbPinger struct {
	db database.DB
}

func (p *dbPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.PrettyLogs})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	shutdownTracing := observability.Setup(cfg.AppName)

	ctx := context.Background()

	var (
		db          database.DB
		redisClient *redis.Client
		graphClient *graph.Client
		consumer    *kafka.Consumer
		producer    *kafka.Producer
		sched       *scheduler.Scheduler
		checker     *health.Checker
		e           *echo.Echo
	)

	boot := startup.New(log, cfg.StartupMaxAttempts)

	boot.AddDependency(&dependency{
		name: "database",
		start: func(ctx context.Context) error {
			dsn := fmt.Sprintf(
				"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
				cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName,
				cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
			)
			sqlxDB, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, dsn)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
			sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
			sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
			db = database.NewDatabaseInstance(sqlxDB, log)

			driver, err := migratepg.WithInstance(sqlxDB.DB, &migratepg.Config{})
			if err != nil {
				return fmt.Errorf("failed to create migration driver: %w", err)
			}
			migrations := database.NewMigrationService(log, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
				Version:             uint(cfg.DatabaseMigrationVersion),
				Force:               cfg.DatabaseMigrationForce,
			})
			return migrations.Migrate(cfg.DatabaseName, driver)
		},
		stop: func(_ context.Context) error {
			return db.Close()
		},
	})

	boot.AddDependency(&dependency{
		name: "redis",
		start: func(_ context.Context) error {
			client, err := redis.NewClient(redis.Config{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, log)
			if err != nil {
				return err
			}
			redisClient = client
			return nil
		},
		stop: func(_ context.Context) error {
			return redisClient.Close()
		},
	})

	boot.AddDependency(&dependency{
		name: "graph",
		start: func(ctx context.Context) error {
			client, err := graph.NewClient(graph.Config{
				Host:     cfg.GraphDBHost,
				Port:     cfg.GraphDBPort,
				Username: cfg.GraphDBUser,
				Password: cfg.GraphDBPassword,
			}, log)
			if err != nil {
				return err
			}
			if err := client.VerifyConnectivity(ctx); err != nil {
				return fmt.Errorf("failed to reach graph database: %w", err)
			}
			graphClient = client
			return nil
		},
		stop: func(ctx context.Context) error {
			return graphClient.Close(ctx)
		},
	})

	boot.AddDependency(&dependency{
		name:      "service",
		dependsOn: []string{"database", "redis", "graph"},
		start: func(ctx context.Context) error {
			entities := entityrepo.NewRepository(db, log, cfg.RejectionThreshold)
			colleagues := colleaguerepo.NewRepository(db, log)
			jobs := jobrepo.NewRepository(db, log)
			runs := runrepo.NewRepository(db, log)
			sources := sourcerepo.NewRepository(db, log)
			validations := validationrepo.NewRepository(db, log)

			engine := matching.NewEngine(log, entities, colleagues, jobs, sources, matching.Config{
				ProbableThreshold:  cfg.MatchProbableThreshold,
				AmbiguousThreshold: cfg.MatchAmbiguousThreshold,
				MaxCandidates:      cfg.MatchMaxCandidates,
			})

			generator, err := classify.NewGeminiGenerator(ctx, cfg.GeminiAPIKey)
			if err != nil {
				return fmt.Errorf("failed to create Gemini client: %w", err)
			}
			classifier := classify.NewService(log, generator, classify.Config{
				Models:           cfg.ClassifyModels,
				CallTimeout:      cfg.ClassifyCallTimeout,
				AttemptsPerModel: cfg.ClassifyAttemptsPerTier,
				Backoff:          cfg.ClassifyBackoff,
			})

			graphStore := graph.NewStore(graphClient, log)
			proj := projector.NewProjector(log, entities, colleagues, jobs, graphStore, cfg.ProjectorBatchSize)

			locker := redis.NewLocker(redisClient, "quest:")
			fetcher := scrape.NewFetcher(cfg.ScrapeTimeout, log)

			var pipelineEvents pipeline.EventEmitter
			var reviewEvents review.EventEmitter
			if cfg.KafkaEnabled {
				producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      cfg.KafkaBrokers,
					Topic:        cfg.KafkaEventsTopic,
					BatchSize:    cfg.KafkaBatchSize,
					BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
					RequiredAcks: cfg.KafkaRequiredAcks,
					Compression:  cfg.KafkaCompression,
				}, log)
				emitter := events.NewEmitter(producer, log)
				pipelineEvents = emitter
				reviewEvents = emitter
			}

			orchestrator := pipeline.NewOrchestrator(
				log, fetcher, entities, colleagues, jobs, runs, sources,
				engine, classifier, proj, locker, sources, pipelineEvents,
				pipeline.Config{
					Window:  cfg.RunWindow,
					Workers: cfg.PipelineWorkerCount,
					LockTTL: cfg.RunLockTTL,
				},
			)

			if cfg.KafkaConsumerEnabled {
				consumer = kafka.NewConsumer(kafka.ConsumerConfig{
					Brokers:       cfg.KafkaBrokers,
					Topic:         cfg.KafkaIntakeTopic,
					ConsumerGroup: cfg.KafkaConsumerGroup,
				}, log, func(ctx context.Context, msg *kafka.IncomingMessage) error {
					_, err := orchestrator.ProcessOne(ctx, *msg.Record)
					return err
				})
			}

			if cfg.SchedulerEnabled {
				sched = scheduler.NewScheduler(sources, orchestrator, scheduler.Config{
					PollInterval: cfg.SchedulerPollInterval,
				}, log)
			}

			checker = health.NewChecker(&dbPinger{db: db}, redisClient, graphClient, version)

			e = echo.New()
			e.HideBanner = true
			e.HidePort = true
			e.HTTPErrorHandler = middleware.Error(log)
			e.Use(otelecho.Middleware(cfg.AppName))
			e.Use(middleware.Context())
			e.Use(middleware.Logger(log))
			e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
				AllowOrigins: cfg.AllowOrigins,
				AllowMethods: cfg.AllowMethods,
			}))

			checker.RegisterRoutes(e)
			e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

			api := e.Group("/api/v1")
			runroute.NewHandler(orchestrator, runs, log).RegisterRoutes(api)
			review.NewHandler(entities, validations, reviewEvents, log).RegisterRoutes(api)
			graphview.NewHandler(graphStore, log).RegisterRoutes(api)

			return nil
		},
		stop: func(_ context.Context) error {
			if producer != nil {
				return producer.Close()
			}
			return nil
		},
	})

	boot.AddDependency(&dependency{
		name:      "kafka-consumer",
		dependsOn: []string{"service"},
		start: func(ctx context.Context) error {
			if consumer == nil {
				return nil
			}
			return consumer.Start(ctx)
		},
		stop: func(_ context.Context) error {
			if consumer == nil {
				return nil
			}
			return consumer.Stop()
		},
	})

	boot.AddDependency(&dependency{
		name:      "scheduler",
		dependsOn: []string{"service"},
		start: func(ctx context.Context) error {
			if sched == nil {
				return nil
			}
			return sched.Start(ctx)
		},
		stop: func(ctx context.Context) error {
			if sched == nil {
				return nil
			}
			return sched.Stop(ctx)
		},
	})

	boot.AddDependency(&dependency{
		name:      "http-server",
		dependsOn: []string{"service"},
		start: func(_ context.Context) error {
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Port),
				ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
				WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
				IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
				ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
				MaxHeaderBytes:    cfg.MaxHeaderBytes,
			}
			go func() {
				if err := e.StartServer(srv); err != nil && err != http.ErrServerClosed {
					log.WithError(err).Error("HTTP server stopped unexpectedly")
				}
			}()
			log.Infof("HTTP server listening on :%d", cfg.Port)
			return nil
		},
		stop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})

	if err := boot.Start(ctx); err != nil {
		log.WithError(err).Error("Startup failed")
		os.Exit(1)
	}
	checker.SetReady(true)

	log.Infof("%s v%s started", cfg.AppName, version)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := boot.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("Shutdown finished with errors")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to flush traces")
	}
}
