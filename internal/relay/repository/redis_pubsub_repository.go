package repository

import (
	"context"
	"encoding/json"
	"strings"

	"chat_relay_service/internal/relay/domain"
	"chat_relay_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPubSub relay bridge between nodes: every node listens on prefix* and
// handles envelopes addressed to identities it owns
type RedisPubSub struct {
	client *redis.Client
	prefix string
}

// NewRedisPubSub create RedisPubSub, channels are prefix+identity
func NewRedisPubSub(client *redis.Client, prefix string) *RedisPubSub {
	return &RedisPubSub{
		client: client,
		prefix: prefix,
	}
}

// Publish 將 envelope 序列化後, 發布到 identity 的 channel
func (r *RedisPubSub) Publish(ctx context.Context, identity string, env domain.BridgeEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.prefix+identity, data).Err()
}

// Subscribe 訂閱所有 identity channel, handler 收到 (identity, envelope); returns once subscribed
func (r *RedisPubSub) Subscribe(ctx context.Context, handler func(identity string, env domain.BridgeEnvelope)) error {
	sub := r.client.PSubscribe(ctx, r.prefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()

		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}

				var env domain.BridgeEnvelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					logger.Log.Error("bridge envelope decode", zap.String("channel", m.Channel), zap.Error(err))
					continue
				}
				handler(strings.TrimPrefix(m.Channel, r.prefix), env)
			case <-ctx.Done():
				logger.Log.Info("bridge subscription closed", zap.String("pattern", r.prefix+"*"))
				return
			}
		}
	}()
	return nil
}
