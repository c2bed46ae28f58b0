package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"drainwatch/internal/config"
	"drainwatch/internal/events"
	"drainwatch/internal/logger"
	"drainwatch/internal/metrics"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize message")
)

// Producer publishes pipeline events to the Kafka backbone. Reading and
// alert events are routed to their own topics; undecodable telemetry goes to
// the dead-letter topic. Messages are keyed by manhole id so per-manhole
// ordering survives partitioning.
type Producer struct {
	cfg     *config.Config
	writers map[string]*kafka.Writer
	closed  atomic.Bool

	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
	bytesWritten   atomic.Uint64
}

// NewProducer creates writers for the readings, alerts and dead-letter
// topics. Writers are sync with hash partitioning by key.
func NewProducer(cfg *config.Config) (*Producer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	p := &Producer{
		cfg:     cfg,
		writers: make(map[string]*kafka.Writer, 3),
	}
	for _, topic := range []string{cfg.ReadingsTopic, cfg.AlertsTopic, cfg.DeadLetterTopic} {
		if topic == "" {
			return nil, errors.New("topic is required")
		}
		p.writers[topic] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: cfg.KafkaWriteTimeout,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  1, // Retries are handled here, with backoff.
			Async:        false,
		}
	}
	return p, nil
}

// Publish implements events.Publisher, routing the event to the topic that
// matches its type.
func (p *Producer) Publish(ctx context.Context, event events.Event) error {
	topic := p.cfg.ReadingsTopic
	if event.Type == events.TypeAlert {
		topic = p.cfg.AlertsTopic
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}
	return p.publish(ctx, topic, kafka.Message{
		Key:   []byte(partitionKey(event)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
		Time: event.Timestamp,
	})
}

// DeadLetter forwards an unprocessable raw payload to the dead-letter topic
// with the failure reason attached as a header.
func (p *Producer) DeadLetter(ctx context.Context, payload []byte, reason string) error {
	metrics.DeadLettersTotal.Inc()
	return p.publish(ctx, p.cfg.DeadLetterTopic, kafka.Message{
		Value: payload,
		Headers: []kafka.Header{
			{Key: "reason", Value: []byte(reason)},
		},
		Time: time.Now().UTC(),
	})
}

func (p *Producer) publish(ctx context.Context, topic string, msg kafka.Message) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	writer, ok := p.writers[topic]
	if !ok {
		return fmt.Errorf("unknown topic %q", topic)
	}

	start := time.Now()
	err := p.publishWithRetry(ctx, writer, msg)
	metrics.KafkaPublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.messagesFailed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues(topic, "failed").Inc()
		return err
	}
	p.messagesSent.Add(1)
	p.bytesWritten.Add(uint64(len(msg.Value)))
	metrics.KafkaPublishTotal.WithLabelValues(topic, "success").Inc()
	return nil
}

// publishWithRetry publishes one message with exponential backoff retry.
func (p *Producer) publishWithRetry(ctx context.Context, writer *kafka.Writer, msg kafka.Message) error {
	log := logger.WithComponent("kafka_producer")
	var lastErr error
	backoff := p.cfg.KafkaRetryBackoff

	for attempt := 0; attempt <= p.cfg.KafkaMaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Str("topic", writer.Topic).
				Msg("retrying kafka publish")

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("topic", writer.Topic).
			Msg("kafka publish attempt failed")

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	log.Error().
		Err(lastErr).
		Int("max_retries", p.cfg.KafkaMaxRetries+1).
		Str("topic", writer.Topic).
		Msg("kafka publish failed after all retries")
	return fmt.Errorf("failed after %d attempts: %w", p.cfg.KafkaMaxRetries+1, lastErr)
}

// Close closes all topic writers.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	var errList []error
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		return fmt.Errorf("errors closing writers: %v", errList)
	}
	return nil
}

// Stats returns producer counters.
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
		BytesWritten:   p.bytesWritten.Load(),
	}
}

// ProducerStats holds producer counters.
type ProducerStats struct {
	MessagesSent   uint64
	MessagesFailed uint64
	BytesWritten   uint64
}

// partitionKey extracts the manhole id from payloads that carry one. Both
// readings and alerts serialize it as manholeId.
func partitionKey(event events.Event) string {
	raw, err := json.Marshal(event.Payload)
	if err != nil {
		return ""
	}
	var probe struct {
		ManholeID string `json:"manholeId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ManholeID
}
