package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/shufflesync/internal/config"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/ident"
	"github.com/roach88/shufflesync/internal/lists"
	"github.com/roach88/shufflesync/internal/presence"
	"github.com/roach88/shufflesync/internal/session"
	"github.com/roach88/shufflesync/internal/sqlstore"
	"github.com/roach88/shufflesync/internal/store"
)

// app is one process's wiring of store, feed, presence, and engines.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	store    store.Store
	bus      *feed.Bus
	presence *presence.Tracker
	sessions *session.Engine
	lists    *lists.Engine
}

// openApp opens the configured store and builds the engines on top of it.
// publisher names this process in feed events.
func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger, publisher string) (*app, error) {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		bus:    feed.NewBus(),
		presence: presence.New(
			presence.WithGracePeriod(cfg.Presence.GracePeriod),
			presence.WithLogger(logger),
		),
	}
	pub := feed.NewPublisher(a.bus, publisher, feed.WithLogger(logger))

	a.sessions = session.New(st, pub,
		session.WithCodes(ident.RandomCodes{Length: cfg.Session.CodeLength}),
		session.WithCodeAttempts(cfg.Session.CodeAttempts),
		session.WithMaxRetries(cfg.Concurrency.MaxRetries),
		session.WithLogger(logger),
		session.WithTopicCloser(a.closeTopic),
	)
	a.lists = lists.New(st, pub,
		lists.WithMaxRetries(cfg.Concurrency.MaxRetries),
		lists.WithLogger(logger),
		lists.WithTopicCloser(a.closeTopic),
	)
	return a, nil
}

// closeTopic ends both the change stream and presence for a deleted
// session or list.
func (a *app) closeTopic(topic feed.Topic) {
	a.bus.CloseTopic(topic)
	a.presence.CloseTopic(topic)
}

func (a *app) Close() error {
	return errors.Join(
		a.presence.Close(),
		a.bus.Close(),
		a.store.Close(),
	)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver == "memory" {
		return store.NewMemory(), nil
	}
	driver, err := sqlstore.ParseDriver(cfg.Driver)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid store driver", err)
	}
	st, err := sqlstore.Open(ctx, driver, cfg.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open %s store", cfg.Driver), err)
	}
	return st, nil
}
