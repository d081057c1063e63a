package redis

import (
	"collaborative-office-suite/internal/store"
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const ChangesChannel = "documents:changes"

// Broker fans document changes out to every server instance over pub/sub.
type Broker struct {
	client *redis.Client
	log    *zap.Logger
}

func NewBroker(client *redis.Client, log *zap.Logger) *Broker {
	return &Broker{client: client, log: log}
}

func (b *Broker) Publish(ctx context.Context, change store.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, ChangesChannel, payload).Err()
}

func (b *Broker) Listen(ctx context.Context, handle func(store.Change)) error {
	pubsub := b.client.Subscribe(ctx, ChangesChannel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var change store.Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.log.Warn("dropping malformed change", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			handle(change)
		}
	}
}
