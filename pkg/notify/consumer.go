package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type ConsumerConfig struct {
	KafkaConfig `yaml:",inline"`
	GroupID     string `yaml:"groupID" json:"groupID"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads torrc events published by KafkaNotifier.
type Consumer struct {
	reader messageReader
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	})
	return &Consumer{reader: r}
}

// Read blocks for the next event and commits it once decoded. Undecodable
// messages are committed too so they do not block the group.
func (c *Consumer) Read(ctx context.Context) (Event, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Event{}, err
	}

	var ev Event
	decodeErr := json.Unmarshal(msg.Value, &ev)
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return Event{}, err
	}
	if decodeErr != nil {
		return Event{}, fmt.Errorf("decode event at offset %d: %w", msg.Offset, decodeErr)
	}
	return ev, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
