package main

import (
	"context"
	"fmt"
	"os"

	"handoffdesk/backend/internal/chathub"
	"handoffdesk/backend/internal/config"
	"handoffdesk/backend/internal/handoff"
	"handoffdesk/backend/internal/models"
	"handoffdesk/backend/internal/storage"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// desk is what the session commands operate on.
type desk struct {
	cfg   *config.Config
	store *storage.Service
	svc   *handoff.Service
	close func()
}

type deskOpener func(ctx context.Context) (*desk, error)

// relayPublisher sends lifecycle events to running servers through the Redis
// relay so connected sockets see changes made from the CLI.
type relayPublisher struct {
	relay *chathub.RedisRelay
}

func (p relayPublisher) Publish(ctx context.Context, target models.Target, event models.Event) error {
	return p.relay.Publish(ctx, models.Envelope{Origin: "handoffctl", Target: target, Event: event})
}

func openDesk(ctx context.Context) (*desk, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	closers := []func(){func() { sqlDB.Close() }}

	store := storage.NewStorageService(db, nil)
	opts := handoff.Options{Store: store, Settings: config.DefaultHandoffSettings()}
	if cfg.RedisURL != "" {
		rdb, err := storage.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			sqlDB.Close()
			return nil, err
		}
		closers = append(closers, func() { rdb.Close() })
		store.Redis = rdb
		opts.Publisher = relayPublisher{relay: chathub.NewRedisRelay(store)}
	}

	svc, err := handoff.NewService(opts)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := svc.LoadStoredSettings(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to load stored handoff settings")
	}
	closers = append(closers, svc.Close)

	return &desk{
		cfg:   cfg,
		store: store,
		svc:   svc,
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

func newRootCmd(open deskOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "handoffctl",
		Short:         "Operate the human handoff desk",
		Long:          "handoffctl inspects and resolves handoff sessions, mints admin tokens and checks settings files.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newWaitingCmd(open))
	cmd.AddCommand(newSessionsCmd(open))
	cmd.AddCommand(newAcceptCmd(open))
	cmd.AddCommand(newEndCmd(open))
	cmd.AddCommand(newExpireCmd(open))
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newSettingsCmd())
	return cmd
}

// withDesk opens the desk for the duration of fn.
func withDesk(cmd *cobra.Command, open deskOpener, fn func(ctx context.Context, d *desk) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := open(ctx)
	if err != nil {
		return err
	}
	defer d.close()
	return fn(ctx, d)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if err := newRootCmd(openDesk).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
