package app

import (
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/RezaEskandarii/shotfire/client"
	"github.com/RezaEskandarii/shotfire/internal/message_broaker"
	"github.com/RezaEskandarii/shotfire/internal/renderer"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject custom connections instead of creating them from config
	db       *sql.DB
	redis    *redis.Client
	renderer renderer.Renderer
	events   message_broaker.EventPublisher
	quota    client.QuotaChecker
	logger   *slog.Logger
}

// WithDB injects a custom database connection. Useful for testing.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a custom Redis client. Useful for testing.
func WithRedis(redis *redis.Client) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

// WithRenderer replaces the HTTP renderer built from config.
func WithRenderer(r renderer.Renderer) ContainerOption {
	return func(c *containerConfig) {
		c.renderer = r
	}
}

// WithEventPublisher replaces the RabbitMQ publisher built from config.
func WithEventPublisher(p message_broaker.EventPublisher) ContainerOption {
	return func(c *containerConfig) {
		c.events = p
	}
}

func WithQuotaChecker(q client.QuotaChecker) ContainerOption {
	return func(c *containerConfig) {
		c.quota = q
	}
}

func WithLogger(l *slog.Logger) ContainerOption {
	return func(c *containerConfig) {
		c.logger = l
	}
}
