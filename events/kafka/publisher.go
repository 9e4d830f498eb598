// Package kafka publishes ledger transaction events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/warp/ledger-core/ledger"
)

// DefaultTopic receives every logged transaction, successful or rejected.
const DefaultTopic = "ledger.transactions"

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements ledger.EventPublisher.
type Publisher struct {
	writer messageWriter
}

func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 5 * time.Second,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, event ledger.TransactionEvent) error {
	msg, err := Message(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write transaction %d: %w", event.TransactionID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Message encodes event as JSON. The key is the account the money left (or,
// for deposits, arrived at), so every event for one account lands on one
// partition in log order.
func Message(event ledger.TransactionEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(partitionKey(event)),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "type", Value: []byte(event.Type)},
			{Key: "status", Value: []byte(event.Status)},
		},
	}, nil
}

func partitionKey(event ledger.TransactionEvent) string {
	switch {
	case event.SourceAccountID != nil:
		return strconv.FormatInt(int64(*event.SourceAccountID), 10)
	case event.TargetAccountID != nil:
		return strconv.FormatInt(int64(*event.TargetAccountID), 10)
	}
	return strconv.FormatInt(int64(event.TransactionID), 10)
}

var _ ledger.EventPublisher = (*Publisher)(nil)
