package cmd

import (
	"example.com/backstage/services/orderbot/config"
	"example.com/backstage/services/orderbot/internal/cache"
	"example.com/backstage/services/orderbot/internal/catalog"
	"example.com/backstage/services/orderbot/internal/chat"
	"example.com/backstage/services/orderbot/internal/conversation"
	"example.com/backstage/services/orderbot/internal/database"
	"example.com/backstage/services/orderbot/internal/messaging"
	"example.com/backstage/services/orderbot/internal/metrics"
	"example.com/backstage/services/orderbot/internal/repositories"
	"example.com/backstage/services/orderbot/internal/search"
	"example.com/backstage/services/orderbot/internal/services"
	"example.com/backstage/services/orderbot/internal/tracing"
	"example.com/backstage/services/orderbot/internal/tracking"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// application holds every wired component shared by the api and worker commands
type application struct {
	cfg        config.Config
	store      *repositories.Store
	cache      cache.Cache
	states     conversation.Store
	tracer     tracing.Tracer
	metrics    *metrics.Metrics
	messenger  messaging.Messenger
	confirmer  *services.Confirmer
	orders     *services.OrderService
	blacklist  *chat.Blacklist
	dispatcher *chat.Dispatcher
	closers    []func() error
}

// loadConfig reads configuration and applies the logging settings
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return cfg, err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	// LOG_LEVEL from the environment wins over the config file
	if os.Getenv("LOG_LEVEL") == "" && cfg.LogLevel != "" {
		if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}

	return cfg, nil
}

// bootstrap connects the backing services and builds the order pipeline
func bootstrap(cfg config.Config) (*application, error) {
	app := &application{cfg: cfg}

	// Initialize metrics
	if cfg.MetricsEnabled {
		app.metrics = metrics.NewMetrics()
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = tracing.Noop()
	}
	app.tracer = tracer
	app.onClose(func() error {
		tracer.Close()
		return nil
	})

	// Initialize the data store
	if err := app.initStore(); err != nil {
		app.Close()
		return nil, err
	}

	// Initialize cache
	app.cache = app.initCache()

	// Initialize conversation state
	if err := app.initStates(); err != nil {
		app.Close()
		return nil, err
	}

	// Initialize order event publishing and search
	publisher, err := messaging.NewEventPublisher(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize event publisher, continuing without events")
	}
	if publisher != nil {
		app.onClose(publisher.Close)
	}

	var indexer services.OrderIndexer
	if cfg.Elastic.Enabled {
		elasticClient, err := search.NewElasticClient(cfg.Elastic)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		} else {
			indexer = elasticClient
		}
	}

	var eventPublisher services.EventPublisher
	if publisher != nil {
		eventPublisher = publisher
	}
	notifier := services.NewNotifier(eventPublisher, indexer)

	// Initialize the outbound messenger
	app.messenger = messaging.LogMessenger{}
	if cfg.WhatsApp.AccessToken != "" {
		client, err := messaging.NewWhatsAppClient(cfg.WhatsApp)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize WhatsApp client, replies will only be logged")
		} else {
			app.messenger = client
		}
	} else {
		log.Warn().Msg("WhatsApp access token not provided, replies will only be logged")
	}

	// Initialize services
	resolver := catalog.NewResolver(app.store.Products, cfg.Orders.SuggestionLimit)
	generator := tracking.NewGenerator(app.store.Orders, cfg.Orders.CodeMaxAttempts, app.metrics)
	app.confirmer = services.NewConfirmer(app.store, app.states, generator, notifier, tracer, app.metrics, cfg.Orders.DeliveryDays)
	app.orders = services.NewOrderService(app.store, app.cache, notifier, tracer, app.metrics, cfg.Orders.ProductNameTTL)
	app.blacklist = chat.NewBlacklist(app.cache)

	app.dispatcher = chat.NewDispatcher(chat.Deps{
		States:    app.states,
		Store:     app.store,
		Resolver:  resolver,
		Assembler: services.NewAssembler(resolver),
		Confirmer: app.confirmer,
		Orders:    app.orders,
		Messenger: app.messenger,
		Blacklist: app.blacklist,
		Metrics:   app.metrics,
	})

	return app, nil
}

func (a *application) initStore() error {
	if strings.EqualFold(a.cfg.DB.Driver, "memory") {
		log.Warn().Msg("Using the in-memory store, data is lost on exit")
		a.store = repositories.NewMemoryStore().Store()
		return nil
	}

	db, readOnlyDB, err := database.Connect(a.cfg.DB, a.metrics)
	if err != nil {
		return err
	}
	a.onClose(func() error { return database.Close(db) })
	if readOnlyDB != db {
		a.onClose(func() error { return database.Close(readOnlyDB) })
	}

	if a.cfg.DB.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
	}

	a.store = repositories.NewGormStore(db, readOnlyDB)
	return nil
}

func (a *application) initCache() cache.Cache {
	if !a.cfg.Redis.Enabled {
		return cache.NewMemoryCache()
	}

	redisCache, err := cache.NewRedisCache(a.cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, falling back to process memory")
		return cache.NewMemoryCache()
	}
	a.onClose(redisCache.Close)
	return redisCache
}

func (a *application) initStates() error {
	switch strings.ToLower(a.cfg.State.Backend) {
	case "bolt":
		store, err := conversation.NewBoltStore(a.cfg.State.BoltPath, a.cfg.State.TTL)
		if err != nil {
			return err
		}
		a.onClose(store.Close)
		a.states = store
	case "memory":
		a.states = conversation.NewCacheStore(cache.NewMemoryCache(), a.cfg.State.TTL)
	case "", "redis":
		a.states = conversation.NewCacheStore(a.cache, a.cfg.State.TTL)
	default:
		return errors.Errorf("unknown state backend %q", a.cfg.State.Backend)
	}
	return nil
}

func (a *application) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	a.closers = nil
}
