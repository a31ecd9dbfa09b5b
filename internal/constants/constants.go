package constants

import "time"

const (
	KafkaBatchTimeout  = 10 * time.Millisecond
	KafkaWriteTimeout  = 10 * time.Second
	KafkaCommitTimeout = 5 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	DefaultExchange  = "logistics.events"
	DeadLetterSuffix = ".dlq"
)

const (
	DefaultPrefetch       = 10
	DefaultHandlerTimeout = 30 * time.Second
	DefaultMaxAttempts    = 3
)

const (
	CacheKeyPrefixInbox = "inbox:"
	DefaultTTLSeconds   = 86400
)

const (
	DefaultMongoDBName = "logistics"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	BrokerTypeMemory   = "memory"
	BrokerTypeRabbitMQ = "rabbitmq"
	BrokerTypeKafka    = "kafka"
)

const (
	StoreTypeMemory   = "memory"
	StoreTypePostgres = "postgres"
	StoreTypeMongoDB  = "mongodb"
	StoreTypeRedis    = "redis"
)

const (
	ServiceOrder        = "order-service"
	ServiceInventory    = "inventory-service"
	ServiceTracking     = "tracking-service"
	ServiceNotification = "notification-service"
)
