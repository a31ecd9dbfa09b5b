package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Inbox          InboxConfig          `mapstructure:"inbox"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	API            APIConfig            `mapstructure:"api"`
	Orders         OrdersConfig         `mapstructure:"orders"`
	Inventory      InventoryConfig      `mapstructure:"inventory"`
	Notifications  NotificationsConfig  `mapstructure:"notifications"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// BrokerConfig selects the transport and the delivery policy shared by every
// publisher and consumer of a service.
type BrokerConfig struct {
	Type           string         `mapstructure:"type"`
	Exchange       string         `mapstructure:"exchange"`
	Prefetch       int            `mapstructure:"prefetch"`
	HandlerTimeout time.Duration  `mapstructure:"handler_timeout"`
	Retry          RetryConfig    `mapstructure:"retry"`
	ConnectRetry   RetryConfig    `mapstructure:"connect_retry"`
	RabbitMQ       RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka          KafkaConfig    `mapstructure:"kafka"`
}

type RabbitMQConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
}

type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	AutoCreateTopics  bool     `mapstructure:"auto_create_topics"`
	Partitions        int      `mapstructure:"partitions"`
	ReplicationFactor int      `mapstructure:"replication_factor"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type StorageConfig struct {
	Type string `mapstructure:"type"` // "memory", "postgres" or "mongodb"
}

type InboxConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Store      string `mapstructure:"store"` // "memory" or "redis"
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type APIConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type OrdersConfig struct {
	InventoryURL string `mapstructure:"inventory_url"`
}

type InventoryConfig struct {
	LowStockAlerts bool   `mapstructure:"low_stock_alerts"`
	AlertRecipient string `mapstructure:"alert_recipient"`
}

type NotificationsConfig struct {
	SeedTemplates bool `mapstructure:"seed_templates"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Environment string        `mapstructure:"environment"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Insecure bool          `mapstructure:"insecure"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
