package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/acme/outbound-dialer/internal/cadence"
	"github.com/acme/outbound-dialer/internal/config"
	"github.com/acme/outbound-dialer/internal/infra/db"
	"github.com/acme/outbound-dialer/internal/infra/redis"
	"github.com/acme/outbound-dialer/internal/lock"
	"github.com/acme/outbound-dialer/internal/metrics"
	"github.com/acme/outbound-dialer/internal/queue"
	"github.com/acme/outbound-dialer/internal/repository"
	pgrepo "github.com/acme/outbound-dialer/internal/repository/postgres"
	scyllarepo "github.com/acme/outbound-dialer/internal/repository/scylla"
	dialersvc "github.com/acme/outbound-dialer/internal/service/dialer"
	outcomesvc "github.com/acme/outbound-dialer/internal/service/outcome"
	"github.com/acme/outbound-dialer/internal/telephony"
	"github.com/acme/outbound-dialer/pkg/logger"
)

// Container wires together shared infrastructure dependencies. It is built
// once per process and handed to every entry point.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	Gateway  telephony.Gateway
	Engine   *cadence.Engine
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		dispatchers  *dispatchers
	}
}

type repositories struct {
	Hopper   repository.HopperRepository
	Leads    repository.LeadRepository
	Contacts repository.ContactStateStore
}

type services struct {
	Dialer  *dialersvc.Service
	Outcome *outcomesvc.Service
}

type dispatchers struct {
	Analytics *queue.AnalyticsPublisher
	Handoff   *queue.HandoffDispatcher
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	rules, err := cadence.RulesFromConfig(cfg.Cadence)
	if err != nil {
		return nil, fmt.Errorf("bootstrap cadence rules: %w", err)
	}
	engine, err := cadence.NewEngine(rules, cfg.Cadence.SuccessDispositions, cfg.Cadence.HandoffDispositions)
	if err != nil {
		return nil, fmt.Errorf("bootstrap cadence engine: %w", err)
	}

	gateway, err := telephony.New(cfg.Carrier, nil)
	if err != nil {
		return nil, fmt.Errorf("bootstrap carrier: %w", err)
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
		Gateway:  gateway,
		Engine:   engine,
		Registry: reg,
		Metrics:  metrics.New(reg, cfg.Metrics.Namespace),
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Hopper:   pgrepo.NewHopperRepository(c.Postgres.DB()),
			Leads:    pgrepo.NewLeadRepository(c.Postgres.DB()),
			Contacts: scyllarepo.NewContactStateStore(c.Scylla.Session()),
		}

		disp := &dispatchers{
			Analytics: queue.NewAnalyticsPublisher(c.Kafka, c.Config.Kafka.AnalyticsTopic),
			Handoff:   queue.NewHandoffDispatcher(c.Kafka, c.Config.Kafka.HandoffTopic),
		}

		cfg := c.Config
		svcs := &services{
			Dialer: dialersvc.NewService(
				repos.Hopper,
				repos.Leads,
				c.Gateway,
				dialersvc.Options{
					CallerID:     cfg.Dialer.CallerID,
					AgentID:      cfg.Dialer.AgentID,
					ConnectionID: cfg.Carrier.Telnyx.ConnectionID,
				},
				c.Metrics,
				c.Logger.Named("dialer"),
			),
			Outcome: outcomesvc.NewService(
				c.Engine,
				repos.Contacts,
				lock.NewRedisLocker(c.Redis.Inner(), "outbound:lock:"),
				disp.Analytics,
				disp.Handoff,
				outcomesvc.Options{
					MaxConflictRetries: cfg.Cadence.MaxConflictRetries,
					LockTTL:            cfg.Cadence.LockTTL,
					LockWait:           cfg.Cadence.LockWait,
					AnalyticsEnabled:   cfg.Analytics.Enabled,
					AnalyticsEvent:     cfg.Analytics.EventName,
					Handoff:            cfg.Handoff,
				},
				c.Metrics,
				c.Logger.Named("outcome"),
			),
		}

		c.components.repositories = repos
		c.components.dispatchers = disp
		c.components.services = svcs
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Dispatchers exposes Kafka publishers.
func (c *Container) Dispatchers() *dispatchers {
	c.initComponents()
	return c.components.dispatchers
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if d := c.components.dispatchers; d != nil {
		if err := d.Analytics.Close(); err != nil {
			errs = append(errs, fmt.Errorf("analytics publisher close: %w", err))
		}
		if err := d.Handoff.Close(); err != nil {
			errs = append(errs, fmt.Errorf("handoff dispatcher close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures the analytics and handoff topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.AnalyticsTopic, c.Config.Kafka.HandoffTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 12, 1)
}
