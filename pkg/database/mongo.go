package database

import (
	"context"
	"fmt"
	"time"

	"chat_relay_service/pkg/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// NewMongoDB connect and ping the primary, retried like the sql connections
func NewMongoDB(ctx context.Context, c Connection, dbName string) (*MongoDB, error) {
	clientOpts := options.Client().ApplyURI(c.ConnectStr).SetAppName("chat_relay_service")

	var err error
	for attempt := 1; attempt <= max(c.RetryCount, 1); attempt++ {
		var client *mongo.Client
		client, err = mongo.Connect(ctx, clientOpts)
		if err == nil {
			if err = client.Ping(ctx, readpref.Primary()); err == nil {
				return &MongoDB{
					Client:   client,
					Database: client.Database(dbName),
				}, nil
			}
			_ = client.Disconnect(ctx)
		}

		logger.Log.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.String("database", dbName), zap.Error(err))
		time.Sleep(c.RetryInterval * time.Second)
	}

	return nil, fmt.Errorf("mongo unreachable after %d attempts: %w", c.RetryCount, err)
}

// Close disconnect the client
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
