package config

import "time"

const (
	DefaultWorkerCount   = 5
	DefaultBatchSize     = 100
	DefaultStorageDriver = Postgres
	DefaultQueueDriver   = Redis
	DefaultPopTimeout    = 2 * time.Second

	DefaultMaxRetries      = 3
	DefaultBaseDelay       = 5 * time.Second
	DefaultDelayMultiplier = 5.0
	DefaultMaxDelay        = time.Hour

	DefaultStuckJobInterval    = 5 * time.Minute
	DefaultStuckJobThreshold   = 30 * time.Minute
	DefaultFailedRetryInterval = 30 * time.Second
	DefaultPromotionInterval   = 10 * time.Second
	DefaultOrphanGrace         = time.Minute

	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRetryRateLimit  = 1.0
	DefaultRetryRateBurst  = 5

	DefaultRendererTimeout = 2 * time.Minute

	DefaultRedisKeyPrefix = "shotfire:"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
)
