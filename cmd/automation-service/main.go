package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/console-automator/internal/api/handler"
	"github.com/cuongbtq/console-automator/internal/api/router"
	"github.com/cuongbtq/console-automator/internal/browser"
	"github.com/cuongbtq/console-automator/internal/config"
	"github.com/cuongbtq/console-automator/internal/events"
	"github.com/cuongbtq/console-automator/internal/intake"
	"github.com/cuongbtq/console-automator/internal/lockfile"
	"github.com/cuongbtq/console-automator/internal/queue"
	"github.com/cuongbtq/console-automator/internal/scheduler"
	"github.com/cuongbtq/console-automator/internal/session"
	"github.com/cuongbtq/console-automator/internal/worker"
	"github.com/cuongbtq/console-automator/internal/workflow"
	"github.com/cuongbtq/console-automator/shared/logger"
	"github.com/cuongbtq/console-automator/shared/postgresql"
	"github.com/cuongbtq/console-automator/shared/rabbitmq"
	"github.com/cuongbtq/console-automator/shared/redis"
	"github.com/cuongbtq/console-automator/shared/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	bootLogger := logger.NewDefault()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		bootLogger.Debug("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("AUTOMATION_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/automation-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	bootLogger.Info("Loading configuration", slog.String("path", *configPath))

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting automation service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// One instance per state directory
	lock, err := lockfile.Acquire(cfg.Worker.StateDir, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Cleanup function to close all resources
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	defer cleanup()

	// Initialize session store
	store, closeStore, err := initSessionStore(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	closers = append(closers, closeStore)

	appLogger.Info("Session store ready", slog.String("driver", cfg.Session.Driver))

	// Load the workflow definition
	def, err := workflow.LoadDefinition(cfg.Worker.WorkflowPath)
	if err != nil {
		return fmt.Errorf("failed to load workflow: %w", err)
	}

	appLogger.Info("Workflow loaded",
		slog.String("workflow", def.Name),
		slog.Int("steps", len(def.Steps)),
	)

	// Initialize event publisher
	publisher, closeEvents, err := initEvents(&cfg.RabbitMQ, cfg.App.Name, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event publisher: %w", err)
	}
	closers = append(closers, closeEvents)

	// Create worker instance
	jobQueue := queue.New()
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:    appLogger.Logger,
		Queue:     jobQueue,
		Store:     store,
		Validator: initValidator(&cfg.Console, appLogger.Logger),
		Executor:  initExecutor(cfg, def, appLogger.Logger),
		Browser: browser.NewChromeFactory(&browser.ChromeConfig{
			Headless:          cfg.Browser.Headless,
			ExecPath:          cfg.Browser.ExecPath,
			UserDataDir:       cfg.Browser.UserDataDir,
			UserAgent:         cfg.Browser.UserAgent,
			WindowWidth:       cfg.Browser.WindowWidth,
			WindowHeight:      cfg.Browser.WindowHeight,
			NavigationTimeout: cfg.Navigation.Timeout,
			ElementTimeout:    cfg.Browser.ElementTimeout,
			Logger:            appLogger.Logger,
		}),
		Events:       publisher,
		PollInterval: cfg.Worker.PollInterval,
		AutoStart:    cfg.Worker.AutoStart,
	})

	intakeService := intake.NewService(jobQueue, workerInstance, appLogger.Logger)

	// Session revalidation schedule
	sched := scheduler.New(appLogger.Logger)
	if cfg.Worker.RevalidateSchedule != "" {
		if err := sched.Add("revalidate-session", cfg.Worker.RevalidateSchedule, workerInstance.RequestRevalidation); err != nil {
			return fmt.Errorf("failed to schedule revalidation: %w", err)
		}
	}

	// Broker intake
	var consumer *intake.Consumer
	if cfg.RabbitMQ.Intake.Enabled {
		rabbitClient, err := initRabbitMQIntake(&cfg.RabbitMQ, cfg.App.Name, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ intake: %w", err)
		}
		closers = append(closers, func() { rabbitClient.Close() })

		appLogger.Info("RabbitMQ intake connection established")

		consumer = intake.NewConsumer(&intake.ConsumerConfig{
			Logger:        appLogger.Logger,
			Client:        rabbitClient,
			Service:       intakeService,
			ConsumerTag:   cfg.RabbitMQ.Intake.ConsumerTag,
			PrefetchCount: cfg.RabbitMQ.Intake.PrefetchCount,
		})
	}

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: initRouter(cfg, &handler.Dependencies{
			Logger:      appLogger.Logger,
			ServiceName: cfg.App.Name,
			Queue:       jobQueue,
			Worker:      workerInstance,
			Intake:      intakeService,
			TokenHash:   authTokenHash(&cfg.Auth),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Bool("auth", cfg.Auth.Enabled),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)

	// Start worker
	g.Go(func() error {
		return workerInstance.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return stopWorker(workerInstance, cfg.Worker.ShutdownTimeout, appLogger.Logger)
	})

	if sched.Len() > 0 {
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}
	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown", slog.Any("error", err))
			return err
		}
		return nil
	})

	appLogger.Info("Automation service is running", slog.String("address", addr))

	if err := g.Wait(); err != nil {
		appLogger.Error("Automation service stopped with error", slog.Any("error", err))
		return err
	}

	appLogger.Info("Automation service shutdown complete")
	return nil
}

// stopWorker waits for the worker to finish the current step, bounded by timeout.
func stopWorker(w *worker.Worker, timeout time.Duration, logger *slog.Logger) error {
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker stopped gracefully")
		return nil
	case <-time.After(timeout):
		logger.Warn("Worker shutdown timeout exceeded, forcing exit")
		return fmt.Errorf("worker did not stop within %s", timeout)
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initSessionStore connects the configured backend and returns the store
// with a function closing that backend.
func initSessionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (session.Store, func(), error) {
	driver, err := session.ParseDriver(cfg.Session.Driver)
	if err != nil {
		return nil, nil, err
	}

	backends := session.Backends{FilePath: cfg.Session.Path, Key: cfg.Session.Key}
	closeFn := func() {}

	switch driver {
	case session.SQLite:
		client, err := sqlite.NewClient(&sqlite.Config{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		backends.SQLite = client.GetDB()
		closeFn = func() { client.Close() }

	case session.Postgres:
		client, err := initPostgreSQL(&cfg.Database, cfg.App.Name, logger)
		if err != nil {
			return nil, nil, err
		}
		backends.Postgres = client.GetDB()
		closeFn = func() { client.Close() }

	case session.Redis:
		client, err := redis.NewClient(&redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		backends.Redis = client
		closeFn = func() { client.Close() }
	}

	store, err := session.NewStore(ctx, driver, backends)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return store, closeFn, nil
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, appName string, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		ApplicationName: appName,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQIntake connects to RabbitMQ and declares the intake queue
func initRabbitMQIntake(cfg *config.RabbitMQConfig, appName string, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Intake.Exchange.Name,
		ExchangeType:       cfg.Intake.Exchange.Type,
		ExchangeDurable:    cfg.Intake.Exchange.Durable,
		ExchangeAutoDelete: cfg.Intake.Exchange.AutoDelete,
		QueueName:          cfg.Intake.Queue.Name,
		QueueDurable:       cfg.Intake.Queue.Durable,
		QueueAutoDelete:    cfg.Intake.Queue.AutoDelete,
		QueueExclusive:     cfg.Intake.Queue.Exclusive,
		RoutingKey:         cfg.Intake.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionName:     appName + "-intake",
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initEvents returns the outcome publisher. Disabled events use a no-op.
func initEvents(cfg *config.RabbitMQConfig, appName string, logger *slog.Logger) (events.Publisher, func(), error) {
	if !cfg.Events.Enabled {
		return events.Nop{}, func() {}, nil
	}

	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Events.Exchange.Name,
		ExchangeType:       cfg.Events.Exchange.Type,
		ExchangeDurable:    cfg.Events.Exchange.Durable,
		ExchangeAutoDelete: cfg.Events.Exchange.AutoDelete,
		RoutingKey:         cfg.Events.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionName:     appName + "-events",
		PublishRetries:     cfg.Events.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Events.Publish.RetryInterval,
		PublishBackoffMult: cfg.Events.Publish.BackoffMultiplier,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("RabbitMQ event publisher connected", slog.String("exchange", cfg.Events.Exchange.Name))
	return events.NewRabbitPublisher(client, logger), func() { client.Close() }, nil
}

func initValidator(cfg *config.ConsoleConfig, logger *slog.Logger) *session.Validator {
	return session.NewValidator(&session.ValidatorConfig{
		SignInSelector:        cfg.SignInSelector,
		AuthenticatedSelector: cfg.AuthenticatedSelector,
		Timeout:               cfg.ValidateTimeout,
		PollSlice:             cfg.PollSlice,
		LoginTimeout:          cfg.LoginTimeout,
		Logger:                logger,
	})
}

func initExecutor(cfg *config.Config, def *workflow.Definition, logger *slog.Logger) *workflow.Executor {
	return workflow.NewExecutor(&workflow.ExecutorConfig{
		Definition: def,
		Navigator: workflow.NewNavigator(workflow.NavigationPolicy{
			RetryCeiling: cfg.Navigation.RetryCeiling,
			Backoff:      cfg.Navigation.Backoff,
			MaxReloads:   cfg.Navigation.MaxReloads,
			Timeout:      cfg.Navigation.Timeout,
		}, logger),
		Uploader: workflow.NewUploader(workflow.UploadPolicy{
			Attempts:  cfg.Upload.Attempts,
			Backoff:   cfg.Upload.Backoff,
			Timeout:   cfg.Upload.Timeout,
			StaticDir: cfg.Upload.StaticDir,
		}, logger),
		ElementTimeout: cfg.Browser.ElementTimeout,
		Logger:         logger,
	})
}

func authTokenHash(cfg *config.AuthConfig) string {
	if !cfg.Enabled {
		return ""
	}
	return cfg.TokenHash
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
