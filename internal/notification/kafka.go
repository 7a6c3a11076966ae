package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the dispatcher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes mail jobs as JSON to a topic read by the mailer.
type KafkaDispatcher struct {
	writer   messageWriter
	defaults Defaults
}

func NewKafkaDispatcher(brokers []string, topic string, defaults Defaults) *KafkaDispatcher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
	}
	return &KafkaDispatcher{writer: w, defaults: defaults}
}

func (d *KafkaDispatcher) Send(ctx context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		return ErrNoRecipients
	}
	msg = d.defaults.apply(msg)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notification: failed to encode message: %w", err)
	}

	err = d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Key),
		Value: data,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notification: failed to publish message: %w", err)
	}

	log.Debug().Str("key", msg.Key).Str("subject", msg.Subject).Msg("notification: message published")
	return nil
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
