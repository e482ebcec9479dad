package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	aptevents "github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/apt/middleware"
	"github.com/appetiteclub/pacer/pkg"
	"github.com/appetiteclub/pacer/pkg/event"
	"github.com/appetiteclub/pacer/services/kitchen/internal/events"
	"github.com/appetiteclub/pacer/services/kitchen/internal/kitchen"
	"github.com/appetiteclub/pacer/services/kitchen/internal/mongo"
	"github.com/appetiteclub/pacer/services/kitchen/internal/notifier"
	"github.com/appetiteclub/pacer/services/kitchen/internal/sqlite"
)

const (
	AppName    = "kitchen"
	AppVersion = "0.1.0"
)

const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// TicketStore is a ticket repository with a lifecycle.
type TicketStore interface {
	kitchen.TicketRepository
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// App encapsulates the kitchen service application
type App struct {
	config *apt.Config
	logger apt.Logger
	micro  *apt.Micro

	store        TicketStore
	orchestrator *kitchen.Orchestrator
	registry     *notifier.Registry
	sweeper      *kitchen.Sweeper
}

// New creates a new kitchen service application
func New(config *apt.Config, logger apt.Logger) (*App, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &App{
		config: config,
		logger: logger,
	}, nil
}

// NewTicketStore picks the store named by db.driver.
func NewTicketStore(config *apt.Config, logger apt.Logger) (TicketStore, error) {
	driver := strings.ToLower(strings.TrimSpace(config.GetStringOrDef("db.driver", DriverMongo)))
	switch driver {
	case DriverMongo:
		return mongo.NewTicketRepo(config, logger), nil
	case DriverSQLite:
		return sqlite.NewStore(config.GetStringOrDef("db.sqlite.path", "kitchen.db"), logger), nil
	default:
		return nil, fmt.Errorf("unknown db.driver %q", driver)
	}
}

// Initialize sets up all dependencies and components
func (a *App) Initialize(ctx context.Context) error {
	kitchenCfg, err := kitchen.LoadConfig(a.config)
	if err != nil {
		return fmt.Errorf("cannot load kitchen config: %w", err)
	}
	notifierCfg, err := notifier.LoadConfig(a.config)
	if err != nil {
		return fmt.Errorf("cannot load notifier config: %w", err)
	}

	a.store, err = NewTicketStore(a.config, a.logger)
	if err != nil {
		return err
	}

	lifecycles := []interface{}{a.store}

	bus, err := a.connectBus(ctx)
	if err != nil {
		return err
	}
	// Stops run in reverse: producers stop, the mirror drains, then NATS closes.
	lifecycles = append(lifecycles, bus.closers...)

	a.registry = notifier.NewRegistry(notifierCfg, a.logger)
	lifecycles = append(lifecycles, a.registry)

	a.orchestrator = kitchen.NewOrchestrator(kitchen.OrchestratorDeps{
		Repo:      a.store,
		Notifier:  a.registry,
		Publisher: bus.publisher,
	}, kitchenCfg, a.logger)
	lifecycles = append(lifecycles, a.orchestrator)

	// Warm after the store is started so a restart does not re-broadcast
	// every ticket on the first sweep.
	lifecycles = append(lifecycles, apt.LifecycleHooks{
		OnStart: func(ctx context.Context) error {
			if err := a.orchestrator.Warm(ctx); err != nil {
				a.logger.Error("failed to warm ticket cache", "error", err)
			}
			return nil
		},
	})

	if bus.subscriber != nil {
		lifecycles = append(lifecycles, events.NewPreOrderSubscriber(bus.subscriber, a.orchestrator, a.logger))
	}

	a.sweeper = kitchen.NewSweeper(a.orchestrator, a.logger)
	lifecycles = append(lifecycles, a.sweeper)

	handler := kitchen.NewHandler(kitchen.HandlerDeps{Orchestrator: a.orchestrator}, a.logger)
	displays := notifier.NewWSHandler(a.registry, a.logger)
	stream := notifier.NewStreamServer(a.registry, a.logger)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      a.logger,
		DisableCORS: true,
	})
	stack = append(stack, middleware.InternalOnly())

	options := []apt.Option{
		apt.WithConfig(a.config),
		apt.WithLogger(a.logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", handler, displays),
		apt.WithGRPCServerModules("grpc.port", stream),
		apt.WithLifecycle(lifecycles...),
		apt.WithHealthChecks(AppName),
	}

	a.micro = apt.NewMicro(options...)
	return nil
}

type bus struct {
	publisher  aptevents.Publisher
	subscriber aptevents.Subscriber
	closers    []interface{}
}

// connectBus dials NATS for the ticket mirror and the pre-order feed. With
// nats.stream.enabled pre-orders come from a durable JetStream consumer so
// none are lost while the kitchen is down.
func (a *App) connectBus(ctx context.Context) (bus, error) {
	var b bus

	if a.config.GetStringOrDef("nats.enabled", "true") != "true" {
		a.logger.Info("NATS disabled; pre-orders arrive over HTTP only")
		return b, nil
	}

	natsURL := a.config.GetStringOrDef("nats.url", "nats://localhost:4222")

	publisher, err := pkg.NewNATSPublisher(natsURL, AppName+"-publisher")
	if err != nil {
		return b, err
	}
	b.publisher = publisher
	b.closers = append(b.closers, apt.LifecycleHooks{
		OnStop: func(context.Context) error { return publisher.Close() },
	})

	if a.config.GetStringOrDef("nats.stream.enabled", "false") == "true" {
		maxAge, err := time.ParseDuration(a.config.GetStringOrDef("nats.stream.max.age", "24h"))
		if err != nil {
			return b, fmt.Errorf("invalid nats.stream.max.age: %w", err)
		}

		stream, err := pkg.NewNATSStream(ctx, pkg.NATSStreamConfig{
			URL:          natsURL,
			StreamName:   a.config.GetStringOrDef("nats.stream.name", "PREORDER_EVENTS"),
			Topic:        event.PreOrdersTopic,
			ConsumerName: a.config.GetStringOrDef("nats.stream.consumer", "kitchen-preorders"),
			MaxAge:       maxAge,
			MaxDeliver:   10,
		})
		if err != nil {
			return b, err
		}
		a.logger.Info("NATS stream initialized for pre-orders")
		b.subscriber = stream
		b.closers = append(b.closers, apt.LifecycleHooks{
			OnStop: func(context.Context) error { return stream.Close() },
		})
		return b, nil
	}

	subscriber, err := pkg.NewNATSSubscriber(natsURL, AppName+"-subscriber")
	if err != nil {
		return b, err
	}
	subscriber.OnError = func(topic string, err error) {
		a.logger.Error("pre-order not processed", "topic", topic, "error", err)
	}
	b.subscriber = subscriber
	b.closers = append(b.closers, apt.LifecycleHooks{
		OnStop: func(context.Context) error { return subscriber.Close() },
	})
	return b, nil
}

// Run starts the application
func (a *App) Run(ctx context.Context) error {
	if a.micro == nil {
		return fmt.Errorf("app is not initialized")
	}

	a.logger.Infof("Starting %s(%s)", AppName, AppVersion)
	if err := a.micro.Run(ctx); err != nil {
		return err
	}
	a.logger.Infof("%s(%s) stopped", AppName, AppVersion)
	return nil
}
