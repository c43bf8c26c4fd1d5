package events

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType = "event-type"
	HeaderSource    = "source"
)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SyncEventPublisher writes sync cycle events to a single topic. Messages are
// keyed by partner source, so the events of one source stay ordered on one
// partition.
type SyncEventPublisher struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

func NewSyncEventPublisher(brokers []string, topic string) (*SyncEventPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("sync event publisher requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("sync event publisher requires a topic")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
	}
	return newSyncEventPublisher(w, topic), nil
}

func newSyncEventPublisher(w messageWriter, topic string) *SyncEventPublisher {
	return &SyncEventPublisher{writer: w, topic: topic, now: time.Now}
}

func (p *SyncEventPublisher) Topic() string { return p.topic }

// Publish sends one event for source. The event type travels as a header.
func (p *SyncEventPublisher) Publish(ctx context.Context, eventType string, payload []byte, source string) error {
	if source == "" {
		return errors.Errorf("publish %s: empty source", eventType)
	}
	msg := kafka.Message{
		Key:   []byte(source),
		Value: payload,
		Time:  p.now().UTC(),
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(eventType)},
			{Key: HeaderSource, Value: []byte(source)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s for %s to %s", eventType, source, p.topic)
	}
	return nil
}

func (p *SyncEventPublisher) Close() error {
	return errors.Wrap(p.writer.Close(), "close kafka writer")
}
