package database

import (
	"fmt"
	"time"

	"chat_relay_service/pkg/logger"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// ConnectRabbitMQWithRetry 嘗試連線到 RabbitMQ
func ConnectRabbitMQWithRetry(d Connection) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error

	for attempt := 1; attempt <= max(d.RetryCount, 1); attempt++ {
		conn, err = amqp.Dial(d.ConnectStr)
		if err == nil {
			logger.Log.Info("rabbitmq connected", zap.Int("attempt", attempt))
			return conn, nil
		}

		logger.Log.Warn("rabbitmq connect failed", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(d.RetryInterval * time.Second)
	}

	return nil, fmt.Errorf("rabbitmq unreachable after %d attempts: %w", d.RetryCount, err)
}

// OpenTopicExchange open a channel and declare a durable topic exchange on it
func OpenTopicExchange(conn *amqp.Connection, exchange string) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return ch, nil
}
