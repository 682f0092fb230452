// Command promobot runs the promo-code chat bot together with its admin API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-promo-bot/internal/bot"
	"github.com/tbourn/go-promo-bot/internal/config"
	"github.com/tbourn/go-promo-bot/internal/events"
	httpapi "github.com/tbourn/go-promo-bot/internal/http"
	"github.com/tbourn/go-promo-bot/internal/http/handlers"
	"github.com/tbourn/go-promo-bot/internal/observability"
	"github.com/tbourn/go-promo-bot/internal/repo"
	"github.com/tbourn/go-promo-bot/internal/services"
	"github.com/tbourn/go-promo-bot/internal/supervisor"
	"github.com/tbourn/go-promo-bot/internal/sysutil"
	"github.com/tbourn/go-promo-bot/internal/telegram"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	sysutil.SetLogLevel(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	users, closeUsers := openUserStore(ctx, cfg, db)
	roster, members := openRoster(ctx, cfg, db)
	publisher, closeEvents := openPublisher(ctx, cfg)

	promos := services.NewPromoService(roster)
	promos.Validity = cfg.PromoValidity
	promos.RetryAttempts = cfg.RosterRetries
	promos.RetryDelay = cfg.RosterBackoff
	promos.Events = publisher

	sessions := services.NewSessionService(users, roster)
	sessions.RetryAttempts = cfg.RosterRetries
	sessions.RetryDelay = cfg.RosterBackoff
	sessions.Events = publisher

	client := telegram.NewClient(cfg.Telegram.APIURL, cfg.Telegram.Token, 15*time.Second)
	b := bot.New(client, sessions, promos, bot.Options{
		Location:         cfg.Location(),
		AntispamInterval: cfg.AntispamInterval,
		PromoQR:          cfg.PromoQR,
	})

	reminders := services.NewReminderService(users, promos, b)
	reminders.Cap = cfg.ReminderCap
	reminders.Events = publisher

	var wg sync.WaitGroup
	var updateHandler handlers.UpdateHandler

	switch cfg.Telegram.Mode {
	case "polling":
		if err := client.DeleteWebhook(ctx); err != nil {
			log.Warn().Err(err).Msg("deleteWebhook failed")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := supervisor.Run(ctx, "poller", supervisor.Options{
				MaxRestarts:    cfg.SupervisorMaxRestarts,
				InitialBackoff: cfg.SupervisorBackoff,
			}, func(ctx context.Context) error {
				return b.Poll(ctx, client, cfg.Telegram.PollTimeout)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("poller gave up")
				stop()
			}
		}()
	case "webhook":
		if err := client.SetWebhook(ctx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			log.Fatal().Err(err).Msg("setWebhook failed")
		}
		updateHandler = b
	default:
		log.Info().Msg("chat transport disabled")
	}

	jobs := startJobs(ctx, cfg, db, reminders)

	deps := httpapi.Deps{
		Promos:    promos,
		Sessions:  sessions,
		Reminders: reminders,
		Members:   members,
		Bot:       updateHandler,
		DB:        db,
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", srv.Addr).Str("mode", cfg.Telegram.Mode).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	for _, c := range jobs {
		<-c.Stop().Done()
	}
	wg.Wait()

	closeEvents()
	closeUsers()
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown error")
	}
	log.Info().Msg("shutdown complete")
}

func openUserStore(ctx context.Context, cfg config.Config, db *gorm.DB) (services.UserStore, func()) {
	if cfg.UserStore != "redis" {
		return repo.NewUserRepo(db), func() {}
	}
	store, err := repo.NewRedisUserStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis connect failed")
	}
	return store, func() { _ = store.Close() }
}

// openRoster returns the roster plus, for the SQL backend, the member store
// used by the admin API.
func openRoster(ctx context.Context, cfg config.Config, db *gorm.DB) (services.RosterStore, handlers.MemberStore) {
	if cfg.RosterBackend != "sheets" {
		r := repo.NewRosterRepo(db)
		return r, r
	}
	svc, err := repo.NewSheetsService(ctx, cfg.Sheets.CredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("sheets client failed")
	}
	r := repo.NewSheetsRoster(svc, repo.SheetsOptions{
		SpreadsheetID: cfg.Sheets.SpreadsheetID,
		MembersTab:    cfg.Sheets.MembersTab,
		PromoTab:      cfg.Sheets.PromoTab,
		PhoneColumn:   cfg.Sheets.PhoneColumn,
		NameColumn:    cfg.Sheets.NameColumn,
		Location:      cfg.Location(),
	})
	if err := r.EnsurePromoTab(ctx); err != nil {
		log.Fatal().Err(err).Msg("promo tab check failed")
	}
	return r, nil
}

func openPublisher(ctx context.Context, cfg config.Config) (events.Publisher, func()) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.Noop{}, func() {}
	}
	if err := events.EnsureTopic(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.Replication); err != nil {
		log.Warn().Err(err).Str("topic", cfg.Kafka.Topic).Msg("failed to ensure event topic")
	}
	p, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ClientID)
	if err != nil {
		log.Fatal().Err(err).Msg("kafka client failed")
	}
	return p, p.Close
}

// startJobs schedules the reminder run and the processed-update purge.
func startJobs(ctx context.Context, cfg config.Config, db *gorm.DB, reminders *services.ReminderService) []*cron.Cron {
	var jobs []*cron.Cron
	if cfg.ReminderEnabled {
		c, err := reminders.Schedule(ctx, cfg.ReminderSchedule, cfg.Location())
		if err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.ReminderSchedule).Msg("invalid reminder schedule")
		}
		jobs = append(jobs, c)
	}

	purge := cron.New()
	if _, err := purge.AddFunc("@every 1h", func() {
		n, err := repo.PurgeExpiredUpdates(ctx, db, time.Now().UTC())
		if err != nil {
			log.Error().Err(err).Msg("purge processed updates failed")
			return
		}
		if n > 0 {
			log.Debug().Int64("rows", n).Msg("purged processed updates")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("purge job")
	}
	purge.Start()
	return append(jobs, purge)
}
