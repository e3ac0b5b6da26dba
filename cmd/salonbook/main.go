package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"salonbook/internal/access"
	"salonbook/internal/api"
	"salonbook/internal/availability"
	"salonbook/internal/booking"
	"salonbook/internal/config"
	"salonbook/internal/database"
	"salonbook/internal/events"
	"salonbook/internal/google"
	"salonbook/internal/livesync"
	"salonbook/internal/metrics"
	"salonbook/internal/notify"
	"salonbook/internal/report"
	"salonbook/internal/slotlock"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("SALONBOOK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, database.Options{
		IntervalMinutes: cfg.SlotInterval(),
		BufferMinutes:   cfg.BufferMinutes(),
	}, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	watcher := &config.CatalogWatcher{
		Path:     cfg.Catalog.Path,
		Interval: cfg.CatalogReload(),
		OnError: func(err error) {
			logger.Error().Err(err).Str("path", cfg.Catalog.Path).Msg("Catalog reload failed")
		},
	}
	watcher.OnUpdate = func(cat *config.Catalog) {
		for i := range cat.Merchants {
			if cat.Merchants[i].Timezone == "" {
				cat.Merchants[i].Timezone = cfg.Booking.Timezone
			}
		}
		if err := db.SyncCatalog(ctx, cat); err != nil {
			logger.Error().Err(err).Msg("Catalog sync failed")
			return
		}
		logger.Info().Str("catalog", cat.String()).Msg("Catalog synced")
	}
	if err := watcher.Start(ctx); err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Catalog.Path).Msg("load catalog error")
	}

	checks := []api.Check{{Name: "database", Run: db.Ping}}

	// Change events: Redis pub/sub shares them across instances, otherwise
	// an in-process bus.
	var feed events.Feed
	var feedSink events.Publisher
	var cache availability.Cache
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		redisFeed := events.NewRedisFeed(rdb, cfg.App.Name+":", logger)
		feed, feedSink = redisFeed, redisFeed
		cache = availability.NewRedisCache(rdb, cfg.App.Name+":")
		checks = append(checks, api.Check{Name: "redis", Run: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		bus := events.NewBus(logger)
		feed, feedSink = bus, bus
		cache = availability.NewMemoryCache()
	}

	query := availability.NewQuery(db, cache, availability.Config{
		TTL:     cfg.CacheTTL(),
		Retries: cfg.ReadRetries(),
	}, logger)

	// The cache sink runs first so live viewers refresh from the store.
	// The Redis cache is shared, so the writer's invalidation covers every instance.
	publisher := events.NewMultiPublisher().
		Add("cache", availability.NewInvalidator(query)).
		Add("feed", feedSink)

	var kafkaPublisher *events.KafkaPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher = events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), cfg.App.Name, 0, logger)
		kafkaPublisher.Start(ctx)
		publisher.Add("kafka", kafkaPublisher)
	}
	db.SetPublisher(publisher)

	var sender notify.Sender = notify.NewLogNotifier(logger)
	if cfg.Telegram.Enabled {
		bot, err := notify.NewTelegramBot(cfg.Telegram.BotToken, cfg.Telegram.Debug)
		if err != nil {
			logger.Fatal().Err(err).Msg("create bot error")
		}
		sender = notify.NewTelegramNotifier(bot, db, logger)
	}
	dispatcher := notify.NewDispatcher(sender, notify.DispatcherConfig{
		RatePerSecond: cfg.Notifications.RatePerSecond,
		Burst:         cfg.Notifications.Burst,
		Workers:       cfg.Notifications.Workers,
		QueueSize:     cfg.Notifications.QueueSize,
		RetryDelays:   cfg.NotificationRetryDelays(),
	}, logger)
	dispatcher.Start(ctx)

	locks := slotlock.NewManager(db, slotlock.Config{TTL: cfg.LockTTL(), CallTimeout: cfg.CallTimeout()}, logger)
	sweeper := slotlock.NewSweeper(db, cfg.SweepInterval(), logger)
	sweeper.Start(ctx)

	go database.NewBackupService(db, cfg.Database.Backup, logger).Start(ctx)

	acl := access.NewService(db, logger)
	machine := booking.NewStatusMachine(db, acl, logger)
	machine.SetNotifier(dispatcher)
	coordinator := booking.NewCoordinator(db, locks, db, machine, db, dispatcher, logger)
	coordinator.SetCallTimeout(cfg.CallTimeout())

	live := livesync.NewSync(feed, query, livesync.Config{SettleDelay: cfg.SettleDelay()}, logger)

	reports := report.NewGenerator(db)
	deps := api.Deps{
		Availability: query,
		Quotes:       db,
		Locks:        locks,
		Bookings:     db,
		Coordinator:  coordinator,
		Statuses:     machine,
		Live:         live,
		Reports:      reports,
		Access:       acl,
		Checks:       checks,
	}
	if cfg.Google.Enabled {
		sheetsService, err := google.NewSheetsService(ctx, cfg.Google.CredentialsFile, cfg.Google.SpreadsheetID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("google sheets init error")
		}
		deps.Sheets = report.NewSheetsExporter(reports, sheetsService)
		logger.Info().Str("spreadsheet_id", cfg.Google.SpreadsheetID).Msg("Sheets export enabled")
	}
	server := api.NewServer(deps, logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       seconds(cfg.Server.ReadTimeoutSeconds, 15),
		// Zero keeps availability streams open.
		WriteTimeout: seconds(cfg.Server.WriteTimeoutSeconds, 0),
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctxShutdown); err != nil {
			logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
	}()

	logger.Info().Str("address", cfg.Server.Address).Msg("Salon booking service started")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("http server error")
		stop()
	}

	sweeper.Stop()
	dispatcher.Wait()
	if kafkaPublisher != nil {
		kafkaPublisher.Wait()
	}
	logger.Info().Msg("Salon booking service stopped")
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
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
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
