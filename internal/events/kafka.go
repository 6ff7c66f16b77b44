package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRelay mirrors bus events to Kafka, one topic per event name.
type KafkaRelay struct {
	writer messageWriter
	prefix string
}

func NewKafkaRelay(brokers []string, topicPrefix string) *KafkaRelay {
	return &KafkaRelay{
		prefix: topicPrefix,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           50 * time.Millisecond,
		},
	}
}

// Listener returns the best-effort wildcard listener to register on the bus.
func (r *KafkaRelay) Listener() Listener {
	return Listener{Name: "kafka.relay", Policy: BestEffort, Handle: r.Forward}
}

func (r *KafkaRelay) Forward(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: r.prefix + string(e.EventName()),
		Key:   []byte(e.AggregateID()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-name", Value: []byte(e.EventName())},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, NewMessageCarrier(&msg))
	return r.writer.WriteMessages(ctx, msg)
}

func (r *KafkaRelay) Close() error {
	return r.writer.Close()
}
