// Package broker selects the messaging.Broker implementation for a service.
package broker

import (
	"fmt"
	"time"

	"github.com/jnst/order-payment-saga/internal/broker/rabbitmq"
	"github.com/jnst/order-payment-saga/internal/broker/redisstream"
	"github.com/jnst/order-payment-saga/internal/config"
	"github.com/jnst/order-payment-saga/internal/messaging"
)

const (
	dialAttempts = 10
	dialInterval = 2 * time.Second
)

// New connects to the broker named by cfg.BrokerKind.
func New(cfg *config.Config) (messaging.Broker, error) {
	switch cfg.BrokerKind {
	case config.BrokerRedis:
		b, err := redisstream.New(redisstream.Config{
			Addr:     cfg.RedisAddr,
			Group:    cfg.ConsumerGroup,
			Consumer: cfg.ConsumerName,
		})
		if err != nil {
			return nil, err
		}

		return b, nil
	case config.BrokerRabbitMQ:
		b, err := rabbitmq.New(rabbitmq.Config{
			URL:          cfg.RabbitMQURL,
			ConsumerTag:  cfg.ConsumerName,
			DialAttempts: dialAttempts,
			DialInterval: dialInterval,
		})
		if err != nil {
			return nil, err
		}

		return b, nil
	default:
		return nil, fmt.Errorf("%w: BROKER_KIND %q", config.ErrInvalidConfig, cfg.BrokerKind)
	}
}
