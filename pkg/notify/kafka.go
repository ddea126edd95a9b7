package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andrej220/torito/internal/lg"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
)

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers" validate:"required,min=1,dive,hostname_port"`
	Topic   string   `yaml:"topic" json:"topic" validate:"required"`
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

var _ Notifier = (*KafkaNotifier)(nil)

// KafkaNotifier writes events as JSON, keyed by event id. Writes go through a
// circuit breaker and are retried with exponential backoff.
type KafkaNotifier struct {
	writer     messageWriter
	topic      string
	cb         *gobreaker.CircuitBreaker
	newBackOff func() backoff.BackOff
	lg         lg.Logger
	closeOnce  sync.Once
}

func defaultBackOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      30 * time.Second,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

func breakerSettings(topic string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "kafka-" + topic,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
}

func NewKafkaNotifier(cfg KafkaConfig, logger lg.Logger) (*KafkaNotifier, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return newKafkaNotifier(w, cfg.Topic, logger), nil
}

func newKafkaNotifier(w messageWriter, topic string, logger lg.Logger) *KafkaNotifier {
	if logger == nil {
		logger = lg.Discard
	}
	return &KafkaNotifier{
		writer:     w,
		topic:      topic,
		cb:         gobreaker.NewCircuitBreaker(breakerSettings(topic)),
		newBackOff: defaultBackOff,
		lg:         logger.With(lg.String("topic", topic)),
	}
}

// logger prefers a logger the caller attached to ctx.
func (k *KafkaNotifier) logger(ctx context.Context) lg.Logger {
	if l := lg.FromContext(ctx); l != lg.Discard {
		return l.With(lg.String("topic", k.topic))
	}
	return k.lg
}

func (k *KafkaNotifier) Notify(ctx context.Context, ev Event) error {
	log := k.logger(ctx)
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   ev.ID[:],
		Value: value,
		Time:  ev.Time,
	}

	operation := func() error {
		_, err := k.cb.Execute(func() (any, error) {
			return nil, k.writer.WriteMessages(ctx, msg)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(err)
		case errors.Is(err, kafka.UnknownTopicOrPartition):
			log.Error("Kafka topic does not exist",
				lg.String("action", "Create the topic manually or enable auto-creation"))
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(k.newBackOff(), ctx)); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	log.Debug("event published", lg.String("id", ev.ID.String()), lg.String("kind", string(ev.Kind)))
	return nil
}

func (k *KafkaNotifier) Close() error {
	var err error
	k.closeOnce.Do(func() { err = k.writer.Close() })
	return err
}
