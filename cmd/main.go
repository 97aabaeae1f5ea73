package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"handoffdesk/backend/internal/api/handler"
	"handoffdesk/backend/internal/chathub"
	"handoffdesk/backend/internal/config"
	"handoffdesk/backend/internal/dedup"
	"handoffdesk/backend/internal/handoff"
	"handoffdesk/backend/internal/jobs"
	"handoffdesk/backend/internal/localization"
	"handoffdesk/backend/internal/metrics"
	"handoffdesk/backend/internal/notify"
	"handoffdesk/backend/internal/storage"
	"handoffdesk/backend/internal/telegram"
	"handoffdesk/backend/internal/timeout"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)
	log.Info().Str("env", cfg.Env).Msg("starting handoffdesk")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	log.Info().Str("driver", cfg.DBDriver).Msg("database connected, migrations complete")

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = storage.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		log.Info().Msg("redis connected")
	}
	store := storage.NewStorageService(db, rdb)

	var relay chathub.Relay
	if rdb != nil {
		relay = chathub.NewRedisRelay(store)
	}
	hub := chathub.NewManagerService(relay)

	var suppressor dedup.Suppressor = dedup.NewMemory(config.DedupConversations)
	if cfg.DedupBackend == "redis" {
		suppressor = dedup.NewRedis(store)
	}

	timers := timeout.NewCoordinator(config.CountdownTick)
	defer timers.Stop()

	localizer, err := localization.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load translations")
	}

	settings, err := loadSettings(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load handoff settings")
	}

	notifiers, tgAPI := buildNotifiers(cfg)

	opts := handoff.Options{
		Store:     store,
		Publisher: hub,
		Timers:    timers,
		Dedup:     suppressor,
		Localizer: localizer,
		Settings:  settings,
	}
	if notifiers.Len() > 0 {
		opts.Notifier = notifiers
	}
	svc, err := handoff.NewService(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build handoff service")
	}
	defer svc.Close()

	if err := svc.LoadStoredSettings(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to load stored handoff settings")
	}

	hub.SetInboundHandler(svc.HandleFrame)
	hub.SetConnectHook(svc.Snapshot)
	go hub.Run(ctx)

	recovered, err := svc.RecoverPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to recover waiting sessions")
	} else if recovered > 0 {
		log.Info().Int("count", recovered).Msg("re-armed countdowns for waiting sessions")
	}

	projector := jobs.NewNotificationProjector(svc, hub, cfg.NotificationPollInterval)
	svc.SetInvalidator(projector.Invalidate)
	projector.Start()
	defer projector.Stop()

	sweeper := jobs.NewSweepJob(svc, store, cfg.HistoryRetention, cfg.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	if tgAPI != nil {
		chatIDs, _ := cfg.TelegramChatIDs()
		bot := telegram.NewBotService(tgAPI, svc, chatIDs, localizer)
		go bot.Run(ctx)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handler.LoggingMiddleware(log.With().Str("component", "http").Logger()))
	r.Use(handler.MetricsMiddleware())
	r.Use(handler.CORSMiddleware(cfg.FrontendOrigin))

	tokens := handler.NewTokenIssuer(cfg.JWTSecret, cfg.GuestTokenTTL, cfg.AdminTokenTTL)
	h := handler.NewHandler(svc, hub, tokens, cfg.FrontendOrigin)
	h.Ping = store.Ping
	h.Routes(r)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	server := &http.Server{
		Addr:           cfg.Addr(),
		Handler:        r,
		ReadTimeout:    config.ServerReadTimeout,
		WriteTimeout:   config.ServerWriteTimeout,
		IdleTimeout:    config.ServerIdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	notifiers.Wait()
	log.Info().Msg("server stopped")
}

func setupLogging(cfg *config.Config) {
	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// loadSettings reads the YAML settings file, or builds defaults whose timeout
// comes from HANDOFF_TIMEOUT.
func loadSettings(cfg *config.Config) (config.HandoffSettings, error) {
	if cfg.HandoffSettingsFile != "" {
		s, err := config.LoadHandoffSettings(cfg.HandoffSettingsFile)
		if err != nil {
			return config.HandoffSettings{}, err
		}
		log.Info().Str("file", cfg.HandoffSettingsFile).Msg("handoff settings loaded")
		return *s, nil
	}
	s := config.DefaultHandoffSettings()
	s.TimeoutSeconds = int(cfg.HandoffTimeout / time.Second)
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = int(config.DefaultHandoffTimeout / time.Second)
	}
	return s, nil
}

// buildNotifiers enables each admin-pool channel whose credentials are set.
// The Telegram API is returned so the bot can share it.
func buildNotifiers(cfg *config.Config) (*notify.Multi, *tgbotapi.BotAPI) {
	var list []notify.Notifier
	var tgAPI *tgbotapi.BotAPI

	if cfg.TelegramBotToken != "" {
		chatIDs, _ := cfg.TelegramChatIDs()
		api, err := telegram.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Error().Err(err).Msg("telegram disabled: failed to connect")
		} else {
			tgAPI = api
			if len(chatIDs) > 0 {
				list = append(list, telegram.NewNotifier(api, chatIDs))
			}
		}
	}
	if cfg.SlackBotToken != "" && cfg.SlackChannelID != "" {
		list = append(list, notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannelID))
	}
	if cfg.DiscordBotToken != "" && cfg.DiscordChannelID != "" {
		d, err := notify.NewDiscord(cfg.DiscordBotToken, cfg.DiscordChannelID)
		if err != nil {
			log.Error().Err(err).Msg("discord notifier disabled")
		} else {
			list = append(list, d)
		}
	}

	for _, n := range list {
		log.Info().Str("channel", n.Name()).Msg("admin notifier enabled")
	}
	return notify.NewMulti(list...), tgAPI
}
