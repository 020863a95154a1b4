package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/northwind-energy/aigateway/pkg/cache"
	"github.com/northwind-energy/aigateway/pkg/cache/postgres"
	"github.com/northwind-energy/aigateway/pkg/cache/sqlite"
	"github.com/northwind-energy/aigateway/pkg/concierge"
	"github.com/northwind-energy/aigateway/pkg/config"
	"github.com/northwind-energy/aigateway/pkg/content"
	"github.com/northwind-energy/aigateway/pkg/gateway"
	"github.com/northwind-energy/aigateway/pkg/personalize"
	"github.com/northwind-energy/aigateway/pkg/safety"
	"github.com/northwind-energy/aigateway/pkg/server"
	"github.com/northwind-energy/aigateway/pkg/tracker"
	"github.com/northwind-energy/aigateway/pkg/translate"
)

// app is the fully wired process: one cache, one gateway, every feature.
type app struct {
	cfg          *config.Config
	log          *slog.Logger
	durable      *cache.Durable
	responses    *cache.ResponseCache
	ledger       *tracker.SQLiteTracker
	gateway      *gateway.Gateway
	safety       *safety.Classifier
	concierge    *concierge.Concierge
	personalizer *personalize.Personalizer
	translator   *translate.Translator

	// pending tracks background cache and ledger writes; Close waits for them.
	pending *sync.WaitGroup
}

// background returns an async runner whose tasks are tracked by wg.
func background(wg *sync.WaitGroup) func(func()) {
	return func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// openStore opens the durable cache backend named by the config. It returns
// a nil store when the durable tier is disabled.
func openStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Cache.Driver) {
	case "", "sqlite":
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite cache: %w", err)
		}
		return s, nil
	case "postgres":
		if cfg.Cache.DatabaseURL == "" {
			return nil, fmt.Errorf("cache driver postgres needs database_url or DATABASE_URL")
		}
		s, err := postgres.New(ctx, cfg.Cache.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres cache: %w", err)
		}
		return s, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	durable := cache.NewDurable(store, log)

	ledger, err := tracker.New(cfg.DBPath)
	if err != nil {
		_ = durable.Close()
		return nil, fmt.Errorf("init usage ledger: %w", err)
	}

	catalog, err := content.Load()
	if err != nil {
		_ = durable.Close()
		_ = ledger.Close()
		return nil, err
	}

	pending := &sync.WaitGroup{}
	responses := cache.NewResponseCache(durable, cache.Options{Logger: log, Async: background(pending)})
	gw := gateway.New(cfg.Provider, gateway.NewHTTPTransport(cfg.Provider, &http.Client{}), responses, gateway.Options{
		Logger:   log,
		Recorder: ledger,
		Async:    background(pending),
	})
	if !gw.Configured() {
		log.Warn("no usable provider credential; AI features will serve fallback content")
	}

	classifier := safety.New(gw, cfg.Safety, log)
	return &app{
		cfg:          cfg,
		log:          log,
		pending:      pending,
		durable:      durable,
		responses:    responses,
		ledger:       ledger,
		gateway:      gw,
		safety:       classifier,
		concierge:    concierge.New(gw, classifier, catalog.Knowledge(), cfg.Concierge, log),
		personalizer: personalize.New(gw, personalize.NewWeatherClient(cfg.Weather, nil), catalog.ServiceNames(), cfg.Personal, log),
		translator: translate.New(gw,
			translate.NewSecondaryClient(cfg.Translate.SecondaryURL, cfg.Translate.Timeout, nil),
			durable, cfg.Translate, log),
	}, nil
}

func (a *app) server() *server.Server {
	return server.New(a.cfg.Listen, server.Deps{
		Concierge:    a.concierge,
		Personalizer: a.personalizer,
		Translator:   a.translator,
		Safety:       a.safety,
		Health: func() server.Health {
			stats := a.responses.Stats(context.Background())
			return server.Health{
				Provider:     a.gateway.Provider(),
				Credential:   a.gateway.Configured(),
				DurableCache: a.durable.Configured(),
				Cache:        &stats,
			}
		},
	}, a.log)
}

// Close waits for background writes to finish, then closes the stores.
func (a *app) Close() error {
	a.pending.Wait()
	lerr := a.ledger.Close()
	if err := a.durable.Close(); err != nil {
		return err
	}
	return lerr
}
