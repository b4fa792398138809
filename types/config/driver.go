package config

import (
	"fmt"
	"strings"
)

type StorageDriver int

const (
	Postgres StorageDriver = iota + 1
	MemoryStorage
)

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case MemoryStorage:
		return "memory"
	}
	return "unknown"
}

func (d *StorageDriver) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "postgres":
		*d = Postgres
	case "memory":
		*d = MemoryStorage
	default:
		return fmt.Errorf("unknown storage driver %q", text)
	}
	return nil
}

type QueueDriver int

const (
	Redis QueueDriver = iota + 1
	MemoryQueue
)

func (d QueueDriver) String() string {
	switch d {
	case Redis:
		return "redis"
	case MemoryQueue:
		return "memory"
	}
	return "unknown"
}

func (d *QueueDriver) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "redis":
		*d = Redis
	case "memory":
		*d = MemoryQueue
	default:
		return fmt.Errorf("unknown queue driver %q", text)
	}
	return nil
}

type MessageQueueDriver int

const (
	RabbitMQ MessageQueueDriver = iota + 1
)

func (d MessageQueueDriver) String() string {
	switch d {
	case RabbitMQ:
		return "rabbitmq"
	default:
		return "unknown"
	}
}
