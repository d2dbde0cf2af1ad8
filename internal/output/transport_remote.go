/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Channel and subject names for remote output surfaces.
const (
	RedisChannelPrefix = "sanctuary:output:" // + target_id
	NATSSubjectPrefix  = "sanctuary.output." // + target_id
	AMQPExchange       = "sanctuary.output"  // routing key = target_id
)

// RedisChannel returns the pub/sub channel a remote surface subscribes to.
func RedisChannel(targetID string) string { return RedisChannelPrefix + targetID }

// NATSSubject returns the subject a remote surface subscribes to.
func NATSSubject(targetID string) string { return NATSSubjectPrefix + targetID }

// RedisTransport publishes envelopes on a Redis pub/sub channel.
type RedisTransport struct {
	client  *redis.Client
	channel string
}

// NewRedisTransport creates a transport for targetID. The client is shared
// and not closed by the transport.
func NewRedisTransport(client *redis.Client, targetID string) *RedisTransport {
	return &RedisTransport{client: client, channel: RedisChannel(targetID)}
}

// Deliver publishes env. A channel without subscribers counts as unreachable.
func (t *RedisTransport) Deliver(ctx context.Context, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	receivers, err := t.client.Publish(ctx, t.channel, data).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	if receivers == 0 {
		return fmt.Errorf("%w: no subscribers on %s", ErrTargetUnreachable, t.channel)
	}
	return nil
}

// Close is a no-op; the client belongs to the caller.
func (t *RedisTransport) Close() error { return nil }

// Name identifies the transport kind.
func (t *RedisTransport) Name() string { return "redis" }

// NATSTransport publishes envelopes on a NATS subject.
type NATSTransport struct {
	conn    *nats.Conn
	subject string
}

// NewNATSTransport creates a transport for targetID on a shared connection.
func NewNATSTransport(conn *nats.Conn, targetID string) *NATSTransport {
	return &NATSTransport{conn: conn, subject: NATSSubject(targetID)}
}

// Deliver publishes env and flushes so errors surface within ctx.
func (t *NATSTransport) Deliver(ctx context.Context, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := t.conn.Publish(t.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the caller.
func (t *NATSTransport) Close() error { return nil }

// Name identifies the transport kind.
func (t *NATSTransport) Name() string { return "nats" }

// AMQPTransport publishes envelopes to a topic exchange keyed by target id.
type AMQPTransport struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	routeKey string
}

// NewAMQPTransport opens a channel on conn and declares the output exchange.
func NewAMQPTransport(conn *amqp.Connection, targetID string) (*AMQPTransport, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		AMQPExchange, // name
		"topic",      // kind
		true,         // durable
		false,        // autoDelete
		false,        // internal
		false,        // noWait
		nil,          // args
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	return &AMQPTransport{ch: ch, routeKey: targetID}, nil
}

// Deliver publishes env as a transient JSON message.
func (t *AMQPTransport) Deliver(ctx context.Context, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ch.IsClosed() {
		return ErrTransportClosed
	}
	if err := t.ch.PublishWithContext(ctx,
		AMQPExchange, // exchange
		t.routeKey,   // routing key = target id
		false,        // mandatory
		false,        // immediate
		amqpPublishing(env, data),
	); err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// amqpPublishing wraps an encoded envelope. The message id is unique per
// target and sequence, so consumers can drop redeliveries.
func amqpPublishing(env Envelope, body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    env.SentAt.UTC(),
		MessageId:    fmt.Sprintf("%s-%d", env.TargetID, env.Seq),
		Type:         string(env.Type),
		Body:         body,
	}
}

// Close closes the channel.
func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ch.IsClosed() {
		return nil
	}
	return t.ch.Close()
}

// Name identifies the transport kind.
func (t *AMQPTransport) Name() string { return "amqp" }
