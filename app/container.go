package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RezaEskandarii/shotfire/client"
	"github.com/RezaEskandarii/shotfire/internal/db"
	"github.com/RezaEskandarii/shotfire/internal/lock"
	"github.com/RezaEskandarii/shotfire/internal/message_broaker"
	"github.com/RezaEskandarii/shotfire/internal/metrics"
	"github.com/RezaEskandarii/shotfire/internal/queue"
	memqueue "github.com/RezaEskandarii/shotfire/internal/queue/memory"
	redisqueue "github.com/RezaEskandarii/shotfire/internal/queue/redis"
	"github.com/RezaEskandarii/shotfire/internal/recovery"
	"github.com/RezaEskandarii/shotfire/internal/renderer"
	"github.com/RezaEskandarii/shotfire/internal/retry"
	"github.com/RezaEskandarii/shotfire/internal/store"
	memstore "github.com/RezaEskandarii/shotfire/internal/store/memory"
	"github.com/RezaEskandarii/shotfire/internal/store/postgres"
	"github.com/RezaEskandarii/shotfire/internal/worker"
	"github.com/RezaEskandarii/shotfire/types/config"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Storage connections (created once, shared by all stores)
	DB     *sql.DB
	Redis  *redis.Client
	Broker message_broaker.MessageBroker

	JobStore     store.JobStore
	Operators    store.OperatorStore
	MainQueue    queue.MainQueue
	DelayedQueue queue.DelayedQueue

	// Infrastructure
	LockManager lock.DistributedLockManager
	JobLocks    *lock.JobLockManager
	Metrics     *metrics.Metrics
	Events      message_broaker.EventPublisher

	Planner   *retry.Planner
	Renderer  renderer.Renderer
	Validator *renderer.URLValidator

	Retries    *client.ManualRetryCoordinator
	JobManager *client.JobManager
	Scheduler  *recovery.RetryScheduler
	// Pool is nil when no renderer is configured.
	Pool *worker.Pool

	ownsDB    bool
	ownsRedis bool
}

// NewContainer creates and wires all dependencies. Single entry point for DI.
// Call this once per application lifecycle.
// Pass optional WithDB, WithRedis to inject connections for testing.
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}

	logger := opt.logger
	if logger == nil {
		logger = NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	}
	logger = logger.With("instance", cfg.Instance)

	c := &Container{Config: cfg, Logger: logger, Metrics: metrics.New()}
	ready := false
	defer func() {
		if !ready {
			_ = c.Close()
		}
	}()

	if err := c.initStorage(ctx, opt); err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := c.initQueues(ctx, opt); err != nil {
		return nil, fmt.Errorf("init queues: %w", err)
	}
	if err := c.initEvents(opt); err != nil {
		return nil, fmt.Errorf("init events: %w", err)
	}

	workerID, recoveryID := lockOwners(cfg)
	c.JobLocks = lock.NewJobLockManager(c.JobStore, logger)

	policy := retry.NewPolicyFromConfig(cfg.Retry)
	c.Planner = retry.NewPlanner(c.JobStore, c.DelayedQueue, policy,
		retry.WithEvents(c.Events),
		retry.WithMetrics(c.Metrics),
		retry.WithLogger(logger.With("component", "retry-planner")),
	)

	c.Validator = renderer.NewURLValidator(cfg.Renderer.ValidateURLs, cfg.Renderer.Timeout)
	c.Renderer = opt.renderer
	if c.Renderer == nil && cfg.Renderer.Endpoint != "" {
		c.Renderer = renderer.NewHTTPRenderer(cfg.Renderer.Endpoint, cfg.Renderer.Timeout,
			renderer.WithURLValidator(renderer.NewURLValidator(false, cfg.Renderer.Timeout)))
	}

	quota := opt.quota
	if quota == nil {
		quota = client.UnlimitedQuota{}
	}
	c.Retries = client.NewManualRetryCoordinator(c.JobStore, c.JobLocks, c.MainQueue, c.DelayedQueue,
		cfg.Scheduler.StuckJobThreshold,
		client.WithQuotaChecker(quota),
		client.WithRetryMetrics(c.Metrics),
		client.WithRetryLogger(logger.With("component", "manual-retry")),
	)
	c.JobManager = client.NewJobManager(c.JobStore, c.JobLocks, c.MainQueue, c.DelayedQueue, c.Retries,
		c.Validator, cfg.Retry.MaxRetries, logger.With("component", "job-manager"))

	scheduler, err := c.buildScheduler(recoveryID)
	if err != nil {
		return nil, err
	}
	c.Scheduler = scheduler

	if c.Renderer != nil {
		c.Pool = worker.NewPool(workerID, c.JobStore, c.JobLocks, c.MainQueue, c.DelayedQueue, c.Planner, c.Renderer,
			worker.WithConcurrency(cfg.WorkerCount, cfg.PopTimeout),
			worker.WithMetrics(c.Metrics),
			worker.WithLogger(logger),
		)
	}
	ready = true
	return c, nil
}

func (c *Container) initStorage(ctx context.Context, opt *containerConfig) error {
	switch c.Config.StorageDriver {
	case config.Postgres:
		c.DB = opt.db
		if c.DB == nil {
			conn, err := db.Open(ctx, c.Config.PostgresConfig.ConnectionUrl)
			if err != nil {
				return err
			}
			c.DB, c.ownsDB = conn, true
		}
		c.JobStore = postgres.NewPostgresJobStore(c.DB)
		c.Operators = postgres.NewPostgresOperatorStore(c.DB)
		c.LockManager = lock.NewPostgresDistributedLockManager(c.DB)
	case config.MemoryStorage:
		c.JobStore = memstore.NewJobStore()
		c.Operators = memstore.NewOperatorStore()
	default:
		return fmt.Errorf("unsupported storage driver: %v", c.Config.StorageDriver)
	}
	return nil
}

func (c *Container) initQueues(ctx context.Context, opt *containerConfig) error {
	switch c.Config.QueueDriver {
	case config.Redis:
		c.Redis = opt.redis
		if c.Redis == nil {
			rdb := redis.NewClient(&redis.Options{
				Addr:     c.Config.RedisConfig.Address,
				Password: c.Config.RedisConfig.Password,
				DB:       c.Config.RedisConfig.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				_ = rdb.Close()
				return fmt.Errorf("ping redis: %w", err)
			}
			c.Redis, c.ownsRedis = rdb, true
		}
		c.MainQueue = redisqueue.NewMainQueue(c.Redis, c.Config.RedisConfig.KeyPrefix)
		c.DelayedQueue = redisqueue.NewDelayedQueue(c.Redis, c.Config.RedisConfig.KeyPrefix)
	case config.MemoryQueue:
		c.MainQueue = memqueue.NewMainQueue()
		c.DelayedQueue = memqueue.NewDelayedQueue()
	default:
		return fmt.Errorf("unsupported queue driver: %v", c.Config.QueueDriver)
	}
	return nil
}

func (c *Container) initEvents(opt *containerConfig) error {
	switch {
	case opt.events != nil:
		c.Events = opt.events
	case c.Config.PublishEvents:
		mq := c.Config.RabbitMQConfig
		broker, err := message_broaker.NewRabbitMQ(mq.URL, mq.Exchange, mq.Queue, mq.RoutingKey, mq.ContentType)
		if err != nil {
			return fmt.Errorf("init rabbitmq: %w", err)
		}
		c.Broker = broker
		c.Events = message_broaker.NewBrokerEventPublisher(broker, c.Logger.With("component", "events"))
	default:
		c.Events = message_broaker.NoopEventPublisher{}
	}
	return nil
}

func (c *Container) buildScheduler(recoveryID string) (*recovery.RetryScheduler, error) {
	cfg := c.Config
	logger := c.Logger.With("component", "recovery")

	s := recovery.NewRetryScheduler(
		recovery.WithSchedulerMetrics(c.Metrics),
		recovery.WithSchedulerLogger(c.Logger),
	)
	stuck := recovery.NewStuckJobRecoverer(c.JobStore, c.JobLocks, c.MainQueue, c.Planner, recoveryID,
		cfg.Scheduler.StuckJobThreshold, cfg.BatchSize, c.Metrics, logger)
	failed := recovery.NewFailedJobRetryProcessor(c.JobStore, c.JobLocks, c.MainQueue, c.DelayedQueue, c.Planner, recoveryID,
		cfg.BatchSize, cfg.Scheduler.OrphanGrace, cfg.Scheduler.StuckJobThreshold, logger)
	promoter := recovery.NewDelayedQueuePromoter(c.JobStore, c.MainQueue, c.DelayedQueue, cfg.BatchSize, c.Metrics, logger)

	for task, interval := range map[recovery.Task]time.Duration{
		stuck:    cfg.Scheduler.StuckJobInterval,
		failed:   cfg.Scheduler.FailedRetryInterval,
		promoter: cfg.Scheduler.PromotionInterval,
	} {
		if err := s.Register(task, interval); err != nil {
			return nil, fmt.Errorf("register %s: %w", task.Name(), err)
		}
	}
	return s, nil
}

// Migrate applies the embedded schema. It is a no-op for the memory store.
func (c *Container) Migrate(ctx context.Context) error {
	if c.DB == nil {
		return nil
	}
	return db.Init(ctx, c.DB, c.LockManager, c.Logger)
}

// Close releases connections the container opened itself.
func (c *Container) Close() error {
	var errs []error
	if c.Broker != nil {
		errs = append(errs, c.Broker.Close())
	}
	if c.ownsRedis && c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.ownsDB && c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}
