package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/commercekit/relay/internal/bus"
	"github.com/commercekit/relay/internal/config"
	"github.com/commercekit/relay/internal/events"
	"github.com/commercekit/relay/internal/listener"
	"github.com/commercekit/relay/internal/metrics"
	"github.com/commercekit/relay/internal/migrations"
	"github.com/commercekit/relay/internal/pending"
	"github.com/commercekit/relay/internal/pipeline"
	"github.com/commercekit/relay/internal/provider"
	"github.com/commercekit/relay/internal/schema"
	yamlformat "github.com/commercekit/relay/internal/schema/formats/yaml"
	schemaStorage "github.com/commercekit/relay/internal/schema/storage"
	"github.com/commercekit/relay/internal/server"
	"github.com/commercekit/relay/internal/session"
	"github.com/commercekit/relay/internal/source"
	"github.com/commercekit/relay/internal/storage"
	"github.com/commercekit/relay/internal/storage/postgres"
	"github.com/commercekit/relay/internal/stores"
	"github.com/commercekit/relay/internal/trackers"
)

func main() {
	configPath := flag.String("config", "relay.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize Backing Stores
	var (
		sessions     session.Store
		pendingQueue pending.Queue
		backend      server.Pinger
	)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		sessions = session.NewRedisStore(client, config.Duration(cfg.Session.TTL, session.DefaultTTL))
		pendingQueue = pending.NewRedisQueue(client)
		backend = redisPinger{client}
		slog.Info("Redis stores initialized", "addr", cfg.Redis.Addr)
	} else {
		sessions = session.NewMemoryStore()
		pendingQueue = pending.NewMemoryQueue()
		slog.Warn("Using in-memory stores; sessions and pending events will not survive a restart")
	}

	// 3. Initialize Schema Registry
	var schemaRepo schemaStorage.Repository
	if cfg.Schema.SourceType == "filesystem" {
		repo, err := schemaStorage.NewFileSystemRepository(cfg.Schema.Path)
		if err != nil {
			slog.Error("Failed to load schemas", "path", cfg.Schema.Path, "error", err)
			os.Exit(1)
		}
		schemaRepo = repo
	} else {
		schemaRepo = schemaStorage.NewMemoryRepository()
	}

	registry := schema.NewRegistry(schemaRepo)
	if cfg.Schema.SourceType != "filesystem" {
		if err := schema.RegisterBuiltins(ctx, registry); err != nil {
			slog.Error("Failed to register builtin schemas", "error", err)
			os.Exit(1)
		}
	}

	formatRegistry := schema.NewFormatRegistry()
	formatRegistry.RegisterFormat(schema.FormatYaml, yamlformat.NewCompiler(), yamlformat.NewValidator())

	validator := schema.NewValidator(registry, formatRegistry)

	// 4. Initialize Factories and Trackers
	catalog := &stores.StaticCatalog{CurrencyCode: events.DefaultCurrency}
	builder := events.NewBuilder(catalog)
	ecommerce := events.NewEcommerceEvents(builder, sessions)
	users := events.NewUserEvents(builder)

	attrib := trackers.NewListAttributionTracker()
	lists := trackers.NewViewItemListTracker()
	userData := trackers.NewUserDataTracker()

	// 5. Initialize Provider Adapters
	webhook := provider.NewWebhookAdapter(provider.WebhookConfig{
		Enabled:       cfg.Providers.Custom.Enabled,
		Endpoint:      cfg.Providers.Custom.Endpoint,
		BatchSize:     cfg.Providers.Custom.BatchSize,
		FlushInterval: config.Duration(cfg.Providers.Custom.FlushInterval, 0),
		MaxAttempts:   cfg.Providers.Custom.MaxAttempts,
		RetryDelay:    config.Duration(cfg.Providers.Custom.RetryDelay, 0),
	}, logger)

	adapters := []provider.Adapter{
		provider.NewGTMAdapter(provider.GTMConfig{
			Enabled:    cfg.Providers.GTM.Enabled,
			ForwardURL: cfg.Providers.GTM.ForwardURL,
		}, logger),
		provider.NewFacebookAdapter(provider.FacebookConfig{
			Enabled:      cfg.Providers.Facebook.Enabled,
			PixelID:      cfg.Providers.Facebook.PixelID,
			AccessToken:  cfg.Providers.Facebook.AccessToken,
			StoreName:    cfg.Providers.Facebook.StoreName,
			Endpoint:     cfg.Providers.Facebook.Endpoint,
			ReadyTimeout: config.Duration(cfg.Providers.Facebook.ReadyTimeout, 0),
		}, logger),
		provider.NewRudderStackAdapter(provider.RudderStackConfig{
			Enabled:      cfg.Providers.RudderStack.Enabled,
			DataPlaneURL: cfg.Providers.RudderStack.DataPlaneURL,
			WriteKey:     cfg.Providers.RudderStack.WriteKey,
			ReadyTimeout: config.Duration(cfg.Providers.RudderStack.ReadyTimeout, 0),
		}, logger),
		provider.NewNextCampaignAdapter(provider.NextCampaignConfig{
			Enabled:  cfg.Providers.NextCampaign.Enabled,
			APIKey:   cfg.Providers.NextCampaign.APIKey,
			Endpoint: cfg.Providers.NextCampaign.Endpoint,
		}, logger),
		webhook,
	}
	webhook.Start(ctx)
	defer webhook.Close(context.Background())

	// 6. Initialize Pipeline
	manager := pipeline.NewManager(
		pipeline.Config{
			SessionTTL:    config.Duration(cfg.Session.TTL, 0),
			PendingMaxAge: config.Duration(cfg.Pipeline.PendingMaxAge, 0),
			EventLogLimit: cfg.Pipeline.EventLogLimit,
			Source:        cfg.Pipeline.Source,
		},
		validator,
		sessions,
		pendingQueue,
		adapters,
		attrib,
		lists,
		metrics.New(),
		logger,
	)

	// 6.1. Delivered-Event Archive (optional)
	var archive storage.Archive
	if cfg.Archive.Enabled {
		pg, err := postgres.NewAdapter(cfg.Archive.DSN, cfg.Archive.MaxOpenConns, cfg.Archive.MaxIdleConns)
		if err != nil {
			slog.Error("Failed to initialize archive database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()

		if err := migrations.RunMigrations(pg.DB(), cfg.Archive.AutoMigrate); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}
		archive = pg
		manager.SetArchive(archive)
	}

	// 7. Initialize Listener
	l := listener.New(manager, ecommerce, users, sessions, attrib, lists, userData, logger)
	actionBus := bus.New(logger)
	l.Register(actionBus)

	// 7.1. Kafka Action Source (optional)
	if cfg.Kafka.Enabled {
		kafkaSource := source.NewKafkaSource(source.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, actionBus, logger)
		defer kafkaSource.Close()

		go func() {
			if err := kafkaSource.Run(ctx); err != nil {
				slog.Error("Kafka source stopped with error", "error", err)
			}
		}()
	}

	// 8. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), cfg.Server.Mode, manager, actionBus, server.Options{
		Archive:       archive,
		Backend:       backend,
		MaxBodySizeMB: cfg.Server.MaxBodySizeMB,
	})

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
