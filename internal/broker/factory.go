package broker

import (
	"fmt"

	"logistics/internal/config"
	"logistics/internal/constants"
	"logistics/internal/logger"
	"logistics/pkg/retry"
)

// NewTransport builds a fresh transport for cfg.Type. Every publisher and
// consumer gets its own transport; the memory transports of one process share
// membroker.
func NewTransport(cfg config.BrokerConfig, membroker *MemoryBroker, log logger.Logger) (Transport, error) {
	switch cfg.Type {
	case constants.BrokerTypeMemory, "":
		if membroker == nil {
			return nil, fmt.Errorf("memory broker type requires a shared broker")
		}
		return NewMemoryTransport(membroker), nil
	case constants.BrokerTypeRabbitMQ:
		return NewRabbitMQTransport(cfg.RabbitMQ.URL(), PolicyFromConfig(cfg.ConnectRetry), log.Named("rabbitmq")), nil
	case constants.BrokerTypeKafka:
		return NewKafkaTransport(cfg.Kafka, log.Named("kafka")), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

func PolicyFromConfig(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      cfg.Multiplier,
		MaxElapsedTime:  cfg.MaxElapsedTime,
	}
}

func ConsumerConfigFrom(service string, cfg config.BrokerConfig, inbox Inbox) ConsumerConfig {
	return ConsumerConfig{
		ServiceName:    service,
		Prefetch:       cfg.Prefetch,
		HandlerTimeout: cfg.HandlerTimeout,
		Retry:          PolicyFromConfig(cfg.Retry),
		ConnectRetry:   PolicyFromConfig(cfg.ConnectRetry),
		Inbox:          inbox,
	}
}
