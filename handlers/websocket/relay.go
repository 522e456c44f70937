package websocket

import (
	"context"
	"encoding/json"
	"livecatalog-server/core"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DeliverFunc pushes a fresh snapshot of kind to local connections.
type DeliverFunc func(ctx context.Context, kind core.Kind) error

// Relay turns a broadcast request into deliveries on every process that
// serves connections.
type Relay interface {
	Publish(ctx context.Context, kind core.Kind) error
}

type localRelay struct {
	deliver DeliverFunc
}

func NewLocalRelay(deliver DeliverFunc) Relay {
	return &localRelay{deliver: deliver}
}

func (r *localRelay) Publish(ctx context.Context, kind core.Kind) error {
	// Deliver logs its own failures; clients keep their last snapshot.
	_ = r.deliver(ctx, kind)
	return nil
}

type relayMessage struct {
	Kind core.Kind `json:"kind"`
}

// RedisRelay publishes broadcast requests on a pub/sub channel shared by all
// processes. Each process, this one included, delivers on receipt.
type RedisRelay struct {
	client  *redis.Client
	channel string
	deliver DeliverFunc
	backoff time.Duration
}

func NewRedisRelay(client *redis.Client, channel string, deliver DeliverFunc) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		deliver: deliver,
		backoff: time.Second,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, kind core.Kind) error {
	payload, err := json.Marshal(relayMessage{Kind: kind})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Run subscribes and delivers until ctx is cancelled, re-subscribing
// whenever the subscription drops.
func (r *RedisRelay) Run(ctx context.Context) {
	log := logrus.WithField("channel", r.channel)
	for {
		sub := r.client.Subscribe(ctx, r.channel)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("Failed to subscribe to broadcast channel")
			if !r.sleep(ctx) {
				return
			}
			continue
		}
		log.Info("Subscribed to broadcast channel")

		r.consume(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.Error("Broadcast channel closed, reconnecting")
		if !r.sleep(ctx) {
			return
		}
	}
}

func (r *RedisRelay) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var m relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				logrus.WithError(err).Warn("Unable to parse broadcast request")
				continue
			}
			if !m.Kind.Valid() {
				logrus.WithField("kind", m.Kind).Warn("Broadcast request for unknown kind")
				continue
			}
			if err := r.deliver(ctx, m.Kind); err != nil {
				logrus.WithError(err).WithField("kind", m.Kind).Error("Relayed delivery failed")
			}
		}
	}
}

func (r *RedisRelay) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(r.backoff):
		return true
	}
}
