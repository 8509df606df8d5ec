package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/gorelay/internal/config"
	"github.com/Tyrowin/gorelay/internal/directory"
	"github.com/Tyrowin/gorelay/internal/directory/dynamostore"
	"github.com/Tyrowin/gorelay/internal/directory/memstore"
	"github.com/Tyrowin/gorelay/internal/directory/mongostore"
	"github.com/Tyrowin/gorelay/internal/groups"
	"github.com/Tyrowin/gorelay/internal/keylock"
	"github.com/Tyrowin/gorelay/internal/logging"
	"github.com/Tyrowin/gorelay/internal/pending"
	"github.com/Tyrowin/gorelay/internal/profanity"
	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/Tyrowin/gorelay/internal/router"
	"github.com/Tyrowin/gorelay/internal/server"
	"github.com/Tyrowin/gorelay/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(context.Background()); err != nil {
			logger.Warn("closing directory store", zap.Error(err))
		}
	}()

	filter := profanityFilter(cfg.Profanity)
	locks := &keylock.Map{}
	table := pending.New()
	index := groups.NewIndex()
	sessions := session.NewRegistry(table, store, index, locks, logger.Named("session"))
	manager := groups.NewManager(store, sessions, index, groups.ManagerConfig{
		Mode:        groups.InviteMode(cfg.InviteMode),
		TitleFilter: profanity.StripHTML(),
		Locks:       locks,
		Logger:      logger.Named("groups"),
	})
	dispatcher := relay.New(relay.Deps{
		Pending:  table,
		Store:    store,
		Sessions: sessions,
		Groups:   manager,
		Router:   router.New(sessions, index, filter, logger.Named("router")),
		Logger:   logger.Named("relay"),
	})

	srv := server.New(*cfg, dispatcher, logger.Named("server"))
	srv.StartHub()
	httpServer := srv.CreateServer()

	logger.Info("relay starting",
		zap.String("addr", cfg.Port),
		zap.String("store", cfg.Store),
		zap.String("invite_mode", cfg.InviteMode))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.StartServer(httpServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown(httpServer)
	})
	return g.Wait()
}

func profanityFilter(cfg config.ProfanityConfig) profanity.Filter {
	words := cfg.Words
	if len(words) == 0 {
		words = profanity.DefaultWords
	}
	mask := profanity.NewWords(words, cfg.Placeholder)
	if cfg.StripHTML {
		return profanity.Chain(profanity.StripHTML(), mask)
	}
	return mask
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (directory.Store, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Store {
	case config.StoreMongo:
		store, client, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		logger.Info("using mongo directory store", zap.String("database", cfg.Mongo.Database))
		return store, client.Disconnect, nil

	case config.StoreDynamo:
		client, err := dynamostore.NewClient(ctx, cfg.Dynamo.Region, cfg.Dynamo.Endpoint)
		if err != nil {
			return nil, nil, fmt.Errorf("dynamo client: %w", err)
		}
		store := dynamostore.New(client, dynamostore.TablesWithPrefix(cfg.Dynamo.TablePrefix))
		if err := store.CreateTables(ctx); err != nil {
			return nil, nil, fmt.Errorf("create dynamo tables: %w", err)
		}
		logger.Info("using dynamo directory store", zap.String("table_prefix", cfg.Dynamo.TablePrefix))
		return store, noop, nil

	default:
		logger.Info("using in-memory directory store")
		return memstore.New(), noop, nil
	}
}
