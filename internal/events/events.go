// Package events publishes domain events (promo issued, reminder sent,
// login/logout) to an optional Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Event types.
const (
	TypePromoIssued  = "promo.issued"
	TypeReminderSent = "reminder.sent"
	TypeLoggedIn     = "user.logged_in"
	TypeLoggedOut    = "user.logged_out"
)

// Event is the JSON payload written to the topic. Phone is the normalized
// number; consumers are internal.
type Event struct {
	ID     uuid.UUID `json:"id"`
	Type   string    `json:"type"`
	ChatID int64     `json:"chat_id,omitempty"`
	Phone  string    `json:"phone,omitempty"`
	Award  string    `json:"award,omitempty"`
	Code   string    `json:"code,omitempty"`
	At     time.Time `json:"at"`
}

// New returns an event of type typ stamped with a fresh id and at.
func New(typ string, at time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, At: at.UTC()}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Noop discards every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event) error { return nil }

// producer is the subset of *kgo.Client used by KafkaPublisher.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher writes events synchronously to a single topic, keyed by
// chat id so one chat's events stay ordered within a partition.
type KafkaPublisher struct {
	client producer
	topic  string
}

// NewKafkaPublisher connects a franz-go client to brokers.
func NewKafkaPublisher(brokers []string, topic, clientID string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

// Publish encodes ev and waits for the broker ack.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(strconv.FormatInt(ev.ChatID, 10)),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}
	return p.client.ProduceSync(ctx, rec).FirstErr()
}

// Close releases the client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}
