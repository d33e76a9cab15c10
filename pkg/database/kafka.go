package database

import (
	"context"
	"fmt"
	"time"

	"chat_relay_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NewKafkaWriterWithRetry 確認 broker 可連線後建立 Kafka Writer
func NewKafkaWriterWithRetry(k KafkaConnection) (*kafka.Writer, error) {
	var err error

	for attempt := 1; attempt <= max(k.RetryCount, 1); attempt++ {
		var conn *kafka.Conn
		conn, err = kafka.DialContext(context.Background(), "tcp", k.Brokers[0])
		if err == nil {
			conn.Close()
			logger.Log.Info("kafka writer ready", zap.Strings("brokers", k.Brokers), zap.Int("attempt", attempt))
			return &kafka.Writer{
				Addr:         kafka.TCP(k.Brokers...),
				Topic:        k.Topic,
				Balancer:     &kafka.Hash{},
				RequiredAcks: kafka.RequireOne,
				Async:        false,
			}, nil
		}

		logger.Log.Warn("kafka dial failed", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(k.RetryInterval * time.Second)
	}

	return nil, fmt.Errorf("kafka %v unreachable after %d attempts: %w", k.Brokers, k.RetryCount, err)
}
