package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConsumer implements Consumer on top of a kafka-go Reader with manual
// offset commits.
type KafkaConsumer struct {
	reader *kafka.Reader
}

func NewKafkaConsumer(brokers []string, topic, groupID string) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		}),
	}
}

func (c *KafkaConsumer) Fetch(ctx context.Context) (Message, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("failed to fetch message: %w", err)
	}
	return Message{Key: string(m.Key), Value: m.Value, ref: m}, nil
}

func (c *KafkaConsumer) Commit(ctx context.Context, msgs ...Message) error {
	kafkaMsgs := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		km, ok := m.ref.(kafka.Message)
		if !ok {
			return fmt.Errorf("failed to commit: message does not originate from kafka")
		}
		kafkaMsgs = append(kafkaMsgs, km)
	}
	if err := c.reader.CommitMessages(ctx, kafkaMsgs...); err != nil {
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	return nil
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

// KafkaPublisher implements Publisher on top of a kafka-go Writer. The Hash
// balancer routes every key to a fixed partition, which preserves per-key
// ordering across publisher instances.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
