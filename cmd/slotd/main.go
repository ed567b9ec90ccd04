package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"clinicslots/internal/broker"
	"clinicslots/internal/cache"
	"clinicslots/internal/config"
	"clinicslots/internal/database"
	"clinicslots/internal/events"
	"clinicslots/internal/metrics"
	"clinicslots/internal/report"
	"clinicslots/internal/schedule"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("SLOTD_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	bus := events.NewEventBus()

	local, err := cache.NewLRUCache(cfg.Cache.LocalSize, cfg.CacheTTL())
	if err != nil {
		logger.Fatal().Err(err).Msg("create local cache")
	}
	slotCache := cache.Chain{local}

	checks := []readyCheck{{name: "db", check: db.PingContext}}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		shared := cache.NewRedisCache(rdb, cfg.CacheTTL(), &logger)
		slotCache = append(slotCache, shared)
		checks = append(checks, readyCheck{name: "redis", check: shared.Ping})
	}

	svc := schedule.NewService(db, slotCache, m, &logger, schedule.Options{
		SlotDuration: cfg.Schedule.SlotDurationMinutes,
		Location:     loc,
		RangeWorkers: cfg.Schedule.RangeWorkers,
	})
	svc.Subscribe(bus)
	db.OnRulesChanged(func(pid string) {
		if err := bus.Publish(events.Event{Type: events.RulesReloaded, PractitionerID: pid}); err != nil {
			logger.Error().Err(err).Str("practitioner", pid).Msg("rule change handlers")
		}
	})

	err = config.WatchRules(ctx, cfg.Schedule.RulesPath, cfg.WatchInterval(), &logger, func(rc *config.RulesConfig) {
		if err := db.SyncRulesFromConfig(ctx, rc); err != nil {
			logger.Error().Err(err).Msg("sync rules to db")
			m.IncRulesReload("error")
			return
		}
		m.IncRulesReload("ok")
		if err := bus.Publish(events.Event{Type: events.RulesReloaded}); err != nil {
			logger.Error().Err(err).Msg("rules reload handlers")
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("load rules")
	}

	if cfg.AMQP.URL != "" {
		handler := broker.NewHandler(db, bus, loc, m, &logger)
		listener, err := broker.NewBookingListener(broker.ListenerConfig{
			URL:        cfg.AMQP.URL,
			Exchange:   cfg.AMQP.Exchange,
			Queue:      cfg.AMQP.Queue,
			RoutingKey: cfg.AMQP.RoutingKey,
		}, handler, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect rabbitmq")
		}
		defer listener.Stop() //nolint:errcheck
		if err := listener.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("start booking listener")
		}
		checks = append(checks, readyCheck{name: "rabbitmq", check: func(context.Context) error {
			if !listener.Ready() {
				return errors.New("connection closed")
			}
			return nil
		}})
	}

	if cfg.Warmup.Enabled {
		warmer := schedule.NewWarmer(svc, schedule.WarmerConfig{
			Days:          cfg.Warmup.Days,
			Interval:      cfg.WarmupInterval(),
			RatePerSecond: cfg.Warmup.RatePerSecond,
		}, m, &logger)
		go warmer.Run(ctx)
	}

	if cfg.Report.Enabled {
		scheduler := newReportScheduler(ctx, cfg, svc, loc, m, &logger)
		if err := scheduler.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("start report scheduler")
		}
		defer scheduler.Stop()
	}

	backup := database.NewBackupService(db, database.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		Interval:      cfg.BackupInterval(),
		StoragePath:   cfg.Backup.Path,
		RetentionDays: cfg.Backup.RetentionDays,
	}, &logger)
	go backup.Start(ctx)

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, checks, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.Monitoring.GRPCHealthPort != 0 {
		go startGRPCHealth(ctx, cfg.Monitoring.GRPCHealthPort, checks, &logger)
	}

	logger.Info().Str("timezone", loc.String()).Msg("Slot engine started")
	<-ctx.Done()
	logger.Info().Msg("Shutting down")
}

func newReportScheduler(
	ctx context.Context,
	cfg *config.Config,
	svc *schedule.Service,
	loc *time.Location,
	m *metrics.Metrics,
	logger *zerolog.Logger,
) *report.Scheduler {
	var exporter report.Exporter
	if cfg.Sheets.CredentialsFile != "" && cfg.Sheets.SpreadsheetID != "" {
		sheets, err := report.NewSheetsExporter(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetName)
		if err != nil {
			logger.Error().Err(err).Msg("sheets export disabled")
		} else {
			exporter = sheets
		}
	}

	var notifier report.Notifier
	if cfg.Telegram.BotToken != "" && len(cfg.Telegram.Managers) > 0 {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Error().Err(err).Msg("telegram delivery disabled")
		} else {
			notifier = report.NewTelegramNotifier(bot, cfg.Telegram.Managers, report.DefaultRetryConfig())
		}
	}

	return report.NewScheduler(report.NewBuilder(svc), exporter, notifier, report.SchedulerConfig{
		Spec:      cfg.Report.Cron,
		Days:      cfg.Report.Days,
		OutputDir: cfg.Report.OutputDir,
		Location:  loc,
	}, m, logger)
}
