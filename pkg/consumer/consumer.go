// Package consumer reads and writes JSON payloads on kafka topics.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

var ErrUndecodable = errors.New("undecodable message")

type Config struct {
	Brokers []string
	GroupID string
	Topic   string
}

type messageReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

type Consumer[T any] struct {
	reader messageReader
}

func NewConsumer[T any](cfg Config) *Consumer[T] {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	})
	return &Consumer[T]{reader: r}
}

// Message is a decoded payload together with the record it came from.
// Commit it once the payload has been handled.
type Message[T any] struct {
	Payload T
	raw     kafka.Message
}

// Fetch returns the next message without committing it. A payload that
// does not decode is committed and returned as an error so it is not
// redelivered forever.
func (c *Consumer[T]) Fetch(ctx context.Context) (Message[T], error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message[T]{}, err
	}
	var payload T
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		if cerr := c.reader.CommitMessages(ctx, msg); cerr != nil {
			return Message[T]{}, cerr
		}
		return Message[T]{}, fmt.Errorf("%w at offset %d: %w", ErrUndecodable, msg.Offset, err)
	}
	return Message[T]{Payload: payload, raw: msg}, nil
}

func (c *Consumer[T]) Commit(ctx context.Context, m Message[T]) error {
	return c.reader.CommitMessages(ctx, m.raw)
}

func (c *Consumer[T]) Close() error {
	return c.reader.Close()
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

type Producer[T any] struct {
	writer messageWriter
}

func NewProducer[T any](brokers []string, topic string) *Producer[T] {
	return &Producer[T]{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}}
}

// Publish writes payload as JSON under key.
func (p *Producer[T]) Publish(ctx context.Context, key []byte, payload T) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value, Time: time.Now()})
}

func (p *Producer[T]) Close() error {
	return p.writer.Close()
}
