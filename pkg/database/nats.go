package database

import (
	"fmt"
	"time"

	"chat_relay_service/pkg/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ConnectNATS connect with reconnect enabled; the first dial is retried like the other brokers
func ConnectNATS(d Connection, name string) (*nats.Conn, error) {
	var (
		nc  *nats.Conn
		err error
	)
	for attempt := 1; attempt <= max(d.RetryCount, 1); attempt++ {
		nc, err = nats.Connect(d.ConnectStr,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Log.Warn("nats disconnected", zap.Error(err))
			}),
		)
		if err == nil {
			return nc, nil
		}
		logger.Log.Warn("nats connect failed", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(d.RetryInterval * time.Second)
	}
	return nil, fmt.Errorf("nats %s unreachable: %w", d.ConnectStr, err)
}
