package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/teatrolive/reservation-engine/internal/cache"
	"github.com/teatrolive/reservation-engine/internal/domain"
	"github.com/teatrolive/reservation-engine/internal/mailer"
	"github.com/teatrolive/reservation-engine/internal/messaging"
	"github.com/teatrolive/reservation-engine/internal/repository"
	appvalidator "github.com/teatrolive/reservation-engine/internal/validator"
	"github.com/teatrolive/reservation-engine/internal/vcs"
	"github.com/teatrolive/reservation-engine/internal/workflow"
	"github.com/teatrolive/reservation-engine/migrations"
)

var (
	version = vcs.Version()
)

type application struct {
	config    config
	logger    *slog.Logger
	db        *pgxpool.Pool
	redis     redis.UniversalClient
	validator *validator.Validate
	mailer    mailer.Mailer
	cache     domain.Cache
	publisher domain.CommandPublisher

	reservationRepo domain.ReservationRepository
	seatRepo        domain.SeatRepository
}

type config struct {
	port             int
	env              string
	otelCollectorUrl string
	db               struct {
		dsn          string
		maxOpenConns int
		maxIdleTime  time.Duration
	}
	redis struct {
		url          string
		maxOpenConns int
		maxIdleConns int
		maxIdleTime  time.Duration
	}
	smtp struct {
		host     string
		port     int
		username string
		password string
		sender   string
	}
	queue struct {
		partitions   int
		retryCeiling int
	}
	hold struct {
		limit         time.Duration
		sweepInterval time.Duration
	}
}

func Run() error {
	var cfg config

	flag.IntVar(&cfg.port, "port", 3000, "server port")
	flag.StringVar(&cfg.env, "env", "dev", "Environment (dev|staging|prod)")
	flag.StringVar(&cfg.otelCollectorUrl, "otel-collector-url", "", "OpenTelemetry collector URL")

	flag.StringVar(&cfg.db.dsn, "db-dsn", "", "PostgreSQL DSN")
	flag.IntVar(&cfg.db.maxOpenConns, "db-max-open-conns", 25, "PostgreSQL max open connections")
	flag.DurationVar(&cfg.db.maxIdleTime, "db-max-idle-time", 15*time.Minute, "PostgreSQL max idle time for connections")

	flag.StringVar(&cfg.redis.url, "redis-url", "", "Redis URL")
	flag.IntVar(&cfg.redis.maxOpenConns, "redis-max-open-conns", 25, "Redis max open connections")
	flag.IntVar(&cfg.redis.maxIdleConns, "redis-max-idle-conns", 10, "Redis max idle connections")
	flag.DurationVar(&cfg.redis.maxIdleTime, "redis-max-idle-time", 2*time.Minute, "Redis max idle time for connections")

	flag.StringVar(&cfg.smtp.host, "smtp-host", "sandbox.smtp.mailtrap.io", "SMTP host")
	flag.IntVar(&cfg.smtp.port, "smtp-port", 2525, "SMTP port")
	flag.StringVar(&cfg.smtp.username, "smtp-username", "", "SMTP username")
	flag.StringVar(&cfg.smtp.password, "smtp-password", "", "SMTP password")
	flag.StringVar(&cfg.smtp.sender, "smtp-sender", "TeatroLive <no-reply@teatrolive.example>", "SMTP sender")

	flag.IntVar(&cfg.queue.partitions, "queue-partitions", messaging.DefaultPartitions, "Command queue partition count")
	flag.IntVar(&cfg.queue.retryCeiling, "queue-retry-ceiling", messaging.DefaultRetryCeiling, "Command retry ceiling")

	flag.DurationVar(&cfg.hold.limit, "hold-limit", workflow.DefaultHoldLimit, "Pending reservation hold limit")
	flag.DurationVar(&cfg.hold.sweepInterval, "sweep-interval", workflow.DefaultSweepInterval, "Expiration sweep interval")

	displayVersion := flag.Bool("version", false, "Display version and exit")

	flag.Parse()

	if *displayVersion {
		fmt.Printf("Version:\t%s\n", version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	validator := appvalidator.NewValidator()

	db, err := newDatabasePool(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		return err
	}

	redisClient, err := newRedisClient(cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	reservationRepo := repository.NewPostgresReservationRepository(db)
	seatRepo := repository.NewPostgresSeatRepository(db)

	redisCache := cache.NewRedisCache(redisClient)

	streamPublisher, err := messaging.NewRedisPublisher(redisClient, logger)
	if err != nil {
		return err
	}
	commandPublisher := messaging.NewCommandPublisher(streamPublisher, cfg.queue.partitions)

	smtpMailer := mailer.NewSMTPMailer(cfg.smtp.host, cfg.smtp.port, cfg.smtp.username, cfg.smtp.password, cfg.smtp.sender)

	processor := workflow.NewProcessor(reservationRepo, redisCache, smtpMailer, logger, cfg.hold.limit)
	sweeper := workflow.NewSweeper(reservationRepo, processor, logger, cfg.hold.limit, cfg.hold.sweepInterval)

	subscriber, err := messaging.NewRedisSubscriber(redisClient, logger)
	if err != nil {
		return err
	}

	dispatcher, err := messaging.NewDispatcher(messaging.DispatcherConfig{
		Partitions:   cfg.queue.partitions,
		RetryCeiling: cfg.queue.retryCeiling,
	}, subscriber, streamPublisher, processor, logger)
	if err != nil {
		return err
	}

	app := &application{
		config:          cfg,
		logger:          logger,
		db:              db,
		redis:           redisClient,
		validator:       validator,
		mailer:          smtpMailer,
		cache:           redisCache,
		publisher:       commandPublisher,
		reservationRepo: reservationRepo,
		seatRepo:        seatRepo,
	}

	return app.run(dispatcher, sweeper)
}

func newRedisClient(cfg config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.redis.url,
		MaxIdleConns:    cfg.redis.maxIdleConns,
		MaxActiveConns:  cfg.redis.maxOpenConns,
		ConnMaxIdleTime: cfg.redis.maxIdleTime,
	})

	if err := redisotel.InstrumentTracing(rdb); err != nil {
		return nil, err
	}
	if err := redisotel.InstrumentMetrics(rdb); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := rdb.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return rdb, nil
}

func newDatabasePool(cfg config) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.db.dsn)
	if err != nil {
		return nil, err
	}

	config.MaxConnIdleTime = cfg.db.maxIdleTime
	config.MaxConns = int32(cfg.db.maxOpenConns)

	db, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = db.Ping(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// runMigrations applies the embedded schema migrations before anything else
// touches the database.
func runMigrations(cfg config, logger *slog.Logger) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(cfg.db.dsn))
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}

	logger.Info("database schema up to date", "version", version, "dirty", dirty)

	return nil
}

// migrateURL rewrites the DSN scheme onto the migrator's pgx/v5 driver.
func migrateURL(dsn string) string {
	if after, ok := strings.CutPrefix(dsn, "postgresql://"); ok {
		return "pgx5://" + after
	}
	if after, ok := strings.CutPrefix(dsn, "postgres://"); ok {
		return "pgx5://" + after
	}
	return dsn
}

func (app *application) run(dispatcher *messaging.Dispatcher, sweeper *workflow.Sweeper) error {
	shutdownTelemetry, err := app.initTelemetry()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", app.config.port),
		Handler:      app.routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(app.logger.Handler(), slog.LevelDebug),
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	go sweeper.Run(workerCtx)

	dispatcherError := make(chan error, 1)
	go func() {
		dispatcherError <- dispatcher.Run(workerCtx)
	}()

	shutdownError := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		app.logger.Info("shutting down server", "signal", s.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stopWorkers()

		err := errors.Join(srv.Shutdown(ctx), dispatcher.Close())

		shutdownTelemetry(ctx)

		shutdownError <- err
	}()

	app.logger.Info("starting server", "addr", srv.Addr, "env", app.config.env)

	err = srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdownError
	if err != nil {
		return err
	}

	if err := <-dispatcherError; err != nil {
		app.logger.Error("command dispatcher stopped with error", "error", err)
	}

	app.logger.Info("stopped server", "addr", srv.Addr)

	return nil
}
