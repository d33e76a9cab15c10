package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat_relay_service/internal/relay/domain"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"github.com/streadway/amqp"
)

// EventPublisher sink for message lifecycle events (sent, delivered, read)
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.LifecycleEvent) error
	Close() error
}

type noopPublisher struct{}

// NewNoopEventPublisher sink that drops everything
func NewNoopEventPublisher() EventPublisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, domain.LifecycleEvent) error { return nil }
func (noopPublisher) Close() error                                          { return nil }

type kafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaEventPublisher events keyed by message id so one message's transitions stay in one partition
func NewKafkaEventPublisher(writer *kafka.Writer) EventPublisher {
	return &kafkaPublisher{writer: writer}
}

func (p *kafkaPublisher) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.MessageID),
		Value: data,
		Time:  ev.At,
	})
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

type rabbitPublisher struct {
	channel  *amqp.Channel
	exchange string
}

// NewRabbitEventPublisher publish on a topic exchange with routing key message.<status>
func NewRabbitEventPublisher(ch *amqp.Channel, exchange string) EventPublisher {
	return &rabbitPublisher{channel: ch, exchange: exchange}
}

func (p *rabbitPublisher) Publish(_ context.Context, ev domain.LifecycleEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.channel.Publish(p.exchange, "message."+string(ev.Status), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.MessageID,
		Timestamp:    ev.At,
		Body:         data,
	})
}

func (p *rabbitPublisher) Close() error {
	return p.channel.Close()
}

type natsPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNatsEventPublisher publish on <subject>.<status>
func NewNatsEventPublisher(conn *nats.Conn, subject string) EventPublisher {
	return &natsPublisher{conn: conn, subject: subject}
}

func (p *natsPublisher) Publish(_ context.Context, ev domain.LifecycleEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.conn.Publish(fmt.Sprintf("%s.%s", p.subject, ev.Status), data)
}

func (p *natsPublisher) Close() error {
	// flush pending publishes before closing
	err := p.conn.FlushTimeout(2 * time.Second)
	p.conn.Close()
	return err
}
