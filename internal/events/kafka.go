package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/kjstillabower/weather-records-service/internal/observability"
)

// producer is the subset of *kgo.Client used here.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher writes events to one topic, keyed by city so a city's events stay ordered.
type KafkaPublisher struct {
	topic   string
	timeout time.Duration
	client  producer
}

// NewKafkaPublisher connects to brokers. timeout bounds each publish; zero means 5s.
func NewKafkaPublisher(brokers []string, topic string, timeout time.Duration) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return newKafkaPublisher(client, topic, timeout), nil
}

func newKafkaPublisher(client producer, topic string, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaPublisher{topic: topic, timeout: timeout, client: client}
}

// Publish writes e synchronously and reports the first produce error.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		observability.EventsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(e.Weather.CityName),
		Value: value,
	}
	for _, r := range p.client.ProduceSync(ctx, rec) {
		if r.Err != nil {
			observability.EventsPublishedTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("produce to %s: %w", p.topic, r.Err)
		}
	}
	observability.EventsPublishedTotal.WithLabelValues("success").Inc()
	return nil
}

// Close flushes and closes the client. Call during shutdown.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}
