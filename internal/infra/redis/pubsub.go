package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quiz-round-service/internal/domain"
)

const participantChannelPrefix = "quiz:participant:"

// message is what travels over a participant channel between instances.
type message struct {
	Event string                 `json:"event"`
	Data  domain.QuestionPayload `json:"data"`
	At    int64                  `json:"at"`
}

// Deliverer publishes questions on per-participant channels. Whichever instance
// holds the participant's socket is subscribed to that channel.
type Deliverer struct {
	client *redis.Client
}

func NewDeliverer(client *redis.Client) *Deliverer {
	return &Deliverer{client: client}
}

// Deliver fails with domain.ErrRecipientUnreachable when no instance is listening.
func (d *Deliverer) Deliver(ctx context.Context, participantID string, payload domain.QuestionPayload) error {
	body, err := json.Marshal(message{Event: "question", Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	receivers, err := d.client.Publish(ctx, participantChannelPrefix+participantID, body).Result()
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if receivers == 0 {
		return domain.ErrRecipientUnreachable
	}
	return nil
}

// Subscriber bridges a participant channel to a local handler.
type Subscriber struct {
	client *redis.Client
	logger *zap.Logger
}

func NewSubscriber(client *redis.Client, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{client: client, logger: logger}
}

// SubscribeParticipant calls handler for every question published to the
// participant. The returned cancel function stops the subscription.
func (s *Subscriber) SubscribeParticipant(participantID string, handler func(domain.QuestionPayload)) (cancel func(), err error) {
	channel := participantChannelPrefix + participantID
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					s.logger.Warn("drop malformed participant message", zap.String("channel", channel), zap.Error(err))
					continue
				}
				handler(m.Data)
			}
		}
	}()
	return cancelCtx, nil
}
