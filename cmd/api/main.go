package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"kajabook/internal/api"
	"kajabook/internal/auth"
	"kajabook/internal/config"
	"kajabook/internal/database"
	"kajabook/internal/domain"
	"kajabook/internal/events"
	"kajabook/internal/export"
	"kajabook/internal/google"
	"kajabook/internal/lock"
	"kajabook/internal/logging"
	"kajabook/internal/metrics"
	"kajabook/internal/repository"
	"kajabook/internal/service"
	"kajabook/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const notifyTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, rootLogger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := logging.Component(rootLogger, "api-main")

	db, err := database.NewDB(cfg.Database.Path, rootLogger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	locker, err := initLocker(cfg, redisClient, rootLogger)
	if err != nil {
		return err
	}
	typingRepo := initTypingRepository(cfg, redisClient, rootLogger)

	bus := events.NewEventBus()
	bus.OnError(func(event *events.Event, err error) {
		logger.Error().Err(err).Str("event", event.Type).Msg("event handler failed")
	})
	if publisher := initAMQP(cfg, rootLogger, &logger); publisher != nil {
		defer publisher.Close()
		publisher.Attach(bus)
	}

	loc := cfg.Booking.Location()
	rcfg := service.ReservationConfigFrom(cfg.Booking)

	reservationLogger := logging.Component(rootLogger, "reservations")
	slotLogger := logging.Component(rootLogger, "slots")
	typingLogger := logging.Component(rootLogger, "typing")
	supportLogger := logging.Component(rootLogger, "support")

	reservations := service.NewReservationService(db, db, locker, bus, rcfg, &reservationLogger)
	slots := service.NewSlotService(db, db, locker, bus, rcfg, &slotLogger)
	typing := service.NewTypingService(typingRepo, &typingLogger)
	typing.SetThreadLookup(db)
	support := service.NewSupportService(db, typing, bus, &supportLogger)

	if scheduler := initCalendar(ctx, cfg, loc, &logger); scheduler != nil {
		reservations.SetMeetingScheduler(scheduler)
	}

	notifier := initTelegram(cfg, rootLogger, &logger)
	if notifier != nil {
		noticeLogger := logging.Component(rootLogger, "admin-notices")
		service.SubscribeAdminNotices(bus, notifier, notifyTimeout, &noticeLogger)
	}

	var reminders *worker.ReminderWorker
	if cfg.Reminders.Enabled {
		reminderLogger := logging.Component(rootLogger, "reminders")
		reminders = worker.NewReminderWorker(db, db, db, bus, notifier, loc, cfg.Reminders.Interval, worker.RetryPolicy{}, &reminderLogger)
		go reminders.Start(ctx)
	}

	go database.NewBackupService(db, cfg.Backup, rootLogger).Start(ctx)

	exportDir := cfg.Exports.Path
	if exportDir == "" {
		exportDir = "exports"
	}
	exportLogger := logging.Component(rootLogger, "export")

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Slots:        slots,
		Reservations: reservations,
		Typing:       typing,
		Support:      support,
		Reminders:    reminders,
		ReminderLogs: db,
		Exporter:     export.NewExporter(exportDir, &exportLogger),
		Sessions:     auth.NewSessionVerifier(cfg.Session),
		Ready:        db.HealthCheck,
	}, rootLogger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, reservations, db.HealthCheck, rootLogger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initLocker refuses to start with a memory lock when a shared lock was asked
// for: two instances with private locks could oversell a slot.
func initLocker(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) (domain.Locker, error) {
	if cfg.Booking.LockBackend != "redis" {
		return lock.NewMemoryLocker(), nil
	}
	if client == nil {
		return nil, errors.New("booking.lock_backend=redis but redis is unavailable")
	}
	return lock.NewRedisLocker(client, logger), nil
}

func initTypingRepository(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) domain.TypingRepository {
	memory := repository.NewMemoryTypingRepository(cfg.Typing.TTL)
	if cfg.Typing.Backend != "redis" || client == nil {
		return memory
	}
	l := logging.Component(logger, "typing-repo")
	return repository.NewFailoverTypingRepository(repository.NewRedisTypingRepository(client, cfg.Typing.TTL), memory, &l)
}

func initAMQP(cfg *config.Config, rootLogger, logger *zerolog.Logger) *events.AMQPPublisher {
	if cfg.Events.AMQPURL == "" {
		return nil
	}
	publisher, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, rootLogger)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq unavailable, events stay in process")
		return nil
	}
	logger.Info().Str("exchange", cfg.Events.Exchange).Msg("forwarding events to rabbitmq")
	return publisher
}

func initCalendar(ctx context.Context, cfg *config.Config, loc *time.Location, logger *zerolog.Logger) domain.MeetingScheduler {
	if !cfg.Google.Enabled() {
		return nil
	}
	scheduler, err := google.NewCalendarScheduler(ctx, cfg.Google, loc)
	if err != nil {
		logger.Warn().Err(err).Msg("google calendar init failed, meetings disabled")
		return nil
	}
	logger.Info().Str("calendar_id", cfg.Google.CalendarID).Msg("google calendar connected")
	return scheduler
}

func initTelegram(cfg *config.Config, rootLogger, logger *zerolog.Logger) domain.Notifier {
	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.AdminChatIDs) == 0 {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, admin notices disabled")
		return nil
	}
	bot.Debug = cfg.Telegram.Debug

	logger.Info().Str("bot", bot.Self.UserName).Int("chats", len(cfg.Telegram.AdminChatIDs)).Msg("telegram connected")
	l := logging.Component(rootLogger, "telegram")
	return service.NewTelegramService(bot, cfg.Telegram.AdminChatIDs, &l)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go grpcServer.WatchHealth(ctx)
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	ev := logger.Info().Int("http_port", cfg.API.HTTP.Port)
	if grpcServer != nil {
		ev = ev.Str("grpc_addr", grpcServer.Addr())
	}
	ev.Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
